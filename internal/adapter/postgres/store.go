// Package postgres implements upsert.Store on PostgreSQL (15+, for MERGE)
// using a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columnsQuery = `
	SELECT column_name
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

// Store merges batches into tables of one schema.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn, schema string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if schema == "" {
		schema = "public"
	}
	return &Store{pool: pool, schema: schema, logger: logger}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Columns returns the table's columns in ordinal order. A missing table
// yields an empty list, not an error.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx, columnsQuery, s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan columns: %w", err)
	}
	return cols, nil
}

// MergeBatch stages rows in a transaction-scoped temporary table and merges
// them into table in a single transaction. The deferred rollback is a no-op
// after commit and releases the transaction on every failure path.
func (s *Store) MergeBatch(ctx context.Context, table string, columns []string, key string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	target := pgx.Identifier{s.schema, table}.Sanitize()
	staging := stagingName(table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "table", table, "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS pg_temp."+pgx.Identifier{staging}.Sanitize()); err != nil {
		return fmt.Errorf("drop stale staging table: %w", err)
	}
	if _, err := tx.Exec(ctx, buildStagingSQL(pgx.Identifier{staging}.Sanitize(), target, columns)); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("stage rows: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("staged %d of %d rows", n, len(rows))
	}

	if _, err := tx.Exec(ctx, buildMergeSQL(target, pgx.Identifier{staging}.Sanitize(), columns, key)); err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// stagingName derives the per-table staging relation name. Temp tables live
// in the session's own schema, so the name never collides with other sessions.
func stagingName(table string) string {
	return "stage_" + table
}

// buildStagingSQL creates an empty staging table holding only the merged
// columns, typed like the target. Constraints, defaults and identity of the
// target are not copied.
func buildStagingSQL(staging, target string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		staging, strings.Join(quoted, ", "), target)
}

// buildMergeSQL renders the MERGE statement. When the key is the only column
// there is nothing to update and matched rows are left alone.
func buildMergeSQL(target, source string, columns []string, key string) string {
	quoted := make([]string, len(columns))
	values := make([]string, len(columns))
	var sets []string
	for i, c := range columns {
		q := pgx.Identifier{c}.Sanitize()
		quoted[i] = q
		values[i] = "source." + q
		if c != key {
			sets = append(sets, q+" = source."+q)
		}
	}
	k := pgx.Identifier{key}.Sanitize()

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS target\nUSING %s AS source\nON target.%s = source.%s\n", target, source, k, k)
	if len(sets) > 0 {
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(quoted, ", "), strings.Join(values, ", "))
	return b.String()
}
