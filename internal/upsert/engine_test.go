package upsert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// --- in-memory merge store ---

type memStore struct {
	columns  []string
	colErr   error
	failOn   int // 1-based MergeBatch call that fails; 0 = never
	calls    int
	batches  [][][]any
	rows     map[string]map[string]any
	keyOrder []string
}

func newMemStore(columns ...string) *memStore {
	return &memStore{columns: columns, rows: map[string]map[string]any{}}
}

func (m *memStore) Columns(_ context.Context, _ string) ([]string, error) {
	return m.columns, m.colErr
}

func (m *memStore) MergeBatch(_ context.Context, _ string, columns []string, key string, rows [][]any) error {
	m.calls++
	if m.calls == m.failOn {
		return errors.New("connection reset")
	}

	keyIdx := -1
	for i, c := range columns {
		if c == key {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return fmt.Errorf("key %q not projected", key)
	}

	// Apply to a copy so a failure part-way leaves no trace.
	staged := make(map[string]map[string]any, len(m.rows))
	for k, v := range m.rows {
		staged[k] = v
	}
	var added []string
	for _, row := range rows {
		id, _ := row[keyIdx].(string)
		rec := make(map[string]any, len(columns))
		for i, c := range columns {
			rec[c] = row[i]
		}
		if _, ok := staged[id]; !ok {
			added = append(added, id)
		}
		staged[id] = rec
	}
	m.rows = staged
	m.keyOrder = append(m.keyOrder, added...)
	m.batches = append(m.batches, rows)
	return nil
}

func (m *memStore) snapshot() map[string]map[string]any {
	out := make(map[string]map[string]any, len(m.rows))
	for k, v := range m.rows {
		cp := make(map[string]any, len(v))
		for c, x := range v {
			cp[c] = x
		}
		out[k] = cp
	}
	return out
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(store Store, batchSize int) *Engine {
	return NewEngine(store, batchSize, discardLogger(), observability.NewMetricsForTesting())
}

func strPtr(s string) *string { return &s }

func makeRecords(n int) []domain.EnrichedRecord {
	out := make([]domain.EnrichedRecord, n)
	for i := range out {
		mag := float64(i%9) + 0.5
		out[i] = domain.Classify(domain.EnrichedRecord{
			Record: domain.Record{
				ID:        fmt.Sprintf("us%06d", i),
				Longitude: float64(i % 180),
				Latitude:  float64(i % 90),
				Mag:       &mag,
			},
			EarthquakeType: domain.Coastal,
		})
	}
	return out
}

var allColumns = domain.Columns()

// --- tests ---

func TestPartition(t *testing.T) {
	for _, tc := range []struct{ n, k int }{
		{0, 1000}, {1, 1000}, {999, 1000}, {1000, 1000}, {1001, 1000}, {2500, 1000}, {7, 3}, {7, 1},
	} {
		ranges := Partition(tc.n, tc.k)
		assert.Len(t, ranges, (tc.n+tc.k-1)/tc.k, "n=%d k=%d", tc.n, tc.k)

		next := 0
		for _, r := range ranges {
			assert.Equal(t, next, r.Start, "contiguous")
			assert.LessOrEqual(t, r.End-r.Start, tc.k)
			assert.Greater(t, r.End, r.Start)
			next = r.End
		}
		assert.Equal(t, tc.n, next, "covers every row exactly once")
	}
}

func TestPartition_InvalidSize(t *testing.T) {
	assert.Nil(t, Partition(10, 0))
	assert.Nil(t, Partition(-1, 10))
}

func TestUpsert_BatchesCoverEveryRow(t *testing.T) {
	store := newMemStore(allColumns...)
	var progress []Progress
	e := newTestEngine(store, 4)
	e.OnBatch = func(p Progress) { progress = append(progress, p) }

	sum, err := e.Upsert(context.Background(), "quakes", makeRecords(10))
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, 10, sum.Rows)
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 4)
	assert.Len(t, store.batches[1], 4)
	assert.Len(t, store.batches[2], 2)
	assert.Len(t, store.rows, 10)

	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Batch: 3, TotalBatches: 3, Start: 8, End: 10, RowsDone: 10, TotalRows: 10}, progress[2])
}

func TestUpsert_DefaultBatchSize(t *testing.T) {
	store := newMemStore(allColumns...)
	sum, err := newTestEngine(store, 0).Upsert(context.Background(), "quakes", makeRecords(2001))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Batches)
	assert.Len(t, store.batches[0], DefaultBatchSize)
}

func TestUpsert_Idempotent(t *testing.T) {
	store := newMemStore(allColumns...)
	e := newTestEngine(store, 3)
	recs := makeRecords(8)

	_, err := e.Upsert(context.Background(), "quakes", recs)
	require.NoError(t, err)
	first := store.snapshot()

	_, err = e.Upsert(context.Background(), "quakes", recs)
	require.NoError(t, err)

	assert.Equal(t, first, store.snapshot())
	assert.Len(t, store.rows, 8, "no duplicate rows")
}

func TestUpsert_UpdatesExistingAndClearsWithNull(t *testing.T) {
	store := newMemStore(allColumns...)
	e := newTestEngine(store, 10)

	rec := makeRecords(1)[0]
	rec.Title = strPtr("M 4.1 - somewhere")
	_, err := e.Upsert(context.Background(), "quakes", []domain.EnrichedRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, "M 4.1 - somewhere", store.rows[rec.ID][domain.ColTitle])

	rec.Title = nil
	_, err = e.Upsert(context.Background(), "quakes", []domain.EnrichedRecord{rec})
	require.NoError(t, err)

	row := store.rows[rec.ID]
	v, present := row[domain.ColTitle]
	assert.True(t, present, "unset field is written, not omitted")
	assert.Nil(t, v)
	assert.Len(t, store.rows, 1)
}

func TestUpsert_ProjectsToDestinationColumns(t *testing.T) {
	// Destination lacks the newer derived columns and has one we never fill.
	store := newMemStore("ID", "mag", "magtype", "ingested_at", "mag_class")
	_, err := newTestEngine(store, 10).Upsert(context.Background(), "quakes", makeRecords(2))
	require.NoError(t, err)

	row := store.rows["us000001"]
	require.NotNil(t, row)
	assert.Len(t, row, 4)
	assert.Contains(t, row, "ID")
	assert.Contains(t, row, "magtype")
	assert.NotContains(t, row, "ingested_at")
	assert.NotContains(t, row, domain.ColCountryCode)
	assert.Equal(t, "Minor", row["mag_class"])
}

func TestUpsert_MissingTable(t *testing.T) {
	store := newMemStore()
	_, err := newTestEngine(store, 10).Upsert(context.Background(), "nope", makeRecords(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTableNotFound))
	assert.Zero(t, store.calls, "no rows written")
}

func TestUpsert_MissingKeyColumn(t *testing.T) {
	store := newMemStore("mag", "title")
	_, err := newTestEngine(store, 10).Upsert(context.Background(), "quakes", makeRecords(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))
	assert.Zero(t, store.calls)
}

func TestUpsert_ColumnDiscoveryError(t *testing.T) {
	store := newMemStore()
	store.colErr = errors.New("permission denied")
	_, err := newTestEngine(store, 10).Upsert(context.Background(), "quakes", makeRecords(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Zero(t, store.calls)
}

func TestUpsert_BatchFailureHaltsAndKeepsPriorBatches(t *testing.T) {
	store := newMemStore(allColumns...)
	store.failOn = 2
	recs := makeRecords(7)

	sum, err := newTestEngine(store, 3).Upsert(context.Background(), "quakes", recs)
	require.Error(t, err)

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 2, be.Index)
	assert.Equal(t, 3, be.TotalBatches)
	assert.Equal(t, 3, be.Start)
	assert.Equal(t, 6, be.End)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, 1, sum.Batches)
	assert.Len(t, store.rows, 3, "only the first batch committed")
	assert.Equal(t, 2, store.calls, "no further batches attempted")

	// Resuming at the failed batch completes the load without duplicates.
	store.failOn = 0
	sum, err = newTestEngine(store, 3).UpsertFrom(context.Background(), "quakes", recs, be.Start)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Batches)
	assert.Len(t, store.rows, 7)
}

func TestUpsertFrom_OutOfRange(t *testing.T) {
	_, err := newTestEngine(newMemStore(allColumns...), 10).UpsertFrom(context.Background(), "quakes", makeRecords(2), 3)
	require.Error(t, err)
}

func TestUpsert_StopsBetweenBatchesOnCancel(t *testing.T) {
	store := newMemStore(allColumns...)
	ctx, cancel := context.WithCancel(context.Background())
	e := newTestEngine(store, 2)
	e.OnBatch = func(Progress) { cancel() }

	sum, err := e.Upsert(ctx, "quakes", makeRecords(6))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Batches)
	assert.Len(t, store.rows, 2)
}

func TestUpsert_Empty(t *testing.T) {
	store := newMemStore(allColumns...)
	sum, err := newTestEngine(store, 10).Upsert(context.Background(), "quakes", nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Batches)
	assert.Zero(t, store.calls)
}

func TestProjection_RowValues(t *testing.T) {
	p, err := NewProjection([]string{"id", "time", "sig", "sig_class", "country_code"})
	require.NoError(t, err)
	assert.Equal(t, "id", p.Key())

	when := time.Date(2024, 4, 26, 12, 30, 0, 0, time.UTC)
	row := p.Row(domain.EnrichedRecord{Record: domain.Record{ID: "x", Time: &when}})
	assert.Equal(t, []any{"x", when, nil, nil, nil}, row)
}

func TestProjection_DuplicateSpellingsKeepFirst(t *testing.T) {
	p, err := NewProjection([]string{"id", "mag", "MAG"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "mag"}, p.Columns())
}
