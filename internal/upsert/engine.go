// Package upsert writes enriched records to a relational table in
// fixed-size, individually atomic merge batches keyed on the record id.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// DefaultBatchSize bounds rows per transaction.
const DefaultBatchSize = 1000

var (
	// ErrTableNotFound means the destination exposes no columns.
	ErrTableNotFound = errors.New("destination table not found")
	// ErrMissingKey means the destination has no id column to merge on.
	ErrMissingKey = errors.New("destination table has no id column")
)

// Store is a destination that can describe its columns and merge one batch
// atomically: every row in rows is inserted or, when a row with the same key
// already exists, updates every non-key column. Either the whole batch
// commits or none of it does.
type Store interface {
	Columns(ctx context.Context, table string) ([]string, error)
	MergeBatch(ctx context.Context, table string, columns []string, key string, rows [][]any) error
}

// Progress describes one committed batch.
type Progress struct {
	Batch        int // 1-based
	TotalBatches int
	Start, End   int // row range [Start, End)
	RowsDone     int
	TotalRows    int
}

// Summary describes a completed upsert.
type Summary struct {
	Columns []string
	Batches int
	Rows    int
}

// BatchError identifies the batch whose merge failed. Batches before Index
// have committed; resuming from Start is safe.
type BatchError struct {
	Index        int // 1-based
	TotalBatches int
	Start, End   int
	Err          error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d/%d (rows %d-%d): %v", e.Index, e.TotalBatches, e.Start, e.End, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Engine partitions records and merges them batch by batch, strictly in
// sequence.
type Engine struct {
	store     Store
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics

	// OnBatch, when set, is called after each committed batch.
	OnBatch func(Progress)
}

// NewEngine creates an Engine. A non-positive batchSize uses DefaultBatchSize.
func NewEngine(store Store, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		store:     store,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Upsert merges every record into table.
func (e *Engine) Upsert(ctx context.Context, table string, records []domain.EnrichedRecord) (Summary, error) {
	return e.UpsertFrom(ctx, table, records, 0)
}

// UpsertFrom merges records[startAt:] into table. Batch boundaries are
// counted from startAt, so a run resumed at a failed batch's Start repeats
// exactly the uncommitted work.
func (e *Engine) UpsertFrom(ctx context.Context, table string, records []domain.EnrichedRecord, startAt int) (Summary, error) {
	if startAt < 0 || startAt > len(records) {
		return Summary{}, fmt.Errorf("start offset %d out of range [0, %d]", startAt, len(records))
	}

	destCols, err := e.store.Columns(ctx, table)
	if err != nil {
		return Summary{}, fmt.Errorf("discover columns of %s: %w", table, err)
	}
	proj, err := NewProjection(destCols)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", table, err)
	}

	pending := records[startAt:]
	ranges := Partition(len(pending), e.batchSize)
	e.logger.Info("upsert starting",
		"table", table,
		"columns", proj.Columns(),
		"rows", len(pending),
		"batches", len(ranges),
		"batch_size", e.batchSize,
	)

	sum := Summary{Columns: proj.Columns()}
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		start := time.Now()
		rows := proj.Rows(pending[r.Start:r.End])
		if err := e.store.MergeBatch(ctx, table, proj.Columns(), proj.Key(), rows); err != nil {
			e.metrics.BatchesFailed.Inc()
			return sum, &BatchError{
				Index:        i + 1,
				TotalBatches: len(ranges),
				Start:        startAt + r.Start,
				End:          startAt + r.End,
				Err:          err,
			}
		}
		e.metrics.BatchesCommitted.Inc()
		e.metrics.RowsUpserted.Add(float64(len(rows)))
		e.metrics.BatchDuration.Observe(time.Since(start).Seconds())

		sum.Batches++
		sum.Rows += len(rows)

		p := Progress{
			Batch:        i + 1,
			TotalBatches: len(ranges),
			Start:        startAt + r.Start,
			End:          startAt + r.End,
			RowsDone:     r.End,
			TotalRows:    len(pending),
		}
		e.logger.Info(fmt.Sprintf("batch %d/%d complete (%d/%d records)", p.Batch, p.TotalBatches, p.RowsDone, p.TotalRows))
		if e.OnBatch != nil {
			e.OnBatch(p)
		}
	}

	return sum, nil
}

// Range is a half-open row interval.
type Range struct {
	Start, End int
}

// Partition splits n rows into ceil(n/size) consecutive ranges of at most
// size rows each.
func Partition(n, size int) []Range {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, Range{Start: start, End: min(start+size, n)})
	}
	return out
}
