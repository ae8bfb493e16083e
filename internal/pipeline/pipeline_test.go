package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/geo"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
	"github.com/couchcryptid/quake-data-etl/internal/upsert"
)

// --- fakes ---

type memStore struct {
	columns []string
	rows    map[any]map[string]any
	merges  int
}

func newMemStore(columns ...string) *memStore {
	return &memStore{columns: columns, rows: map[any]map[string]any{}}
}

func (s *memStore) Columns(_ context.Context, _ string) ([]string, error) {
	return s.columns, nil
}

func (s *memStore) MergeBatch(_ context.Context, _ string, columns []string, key string, rows [][]any) error {
	s.merges++
	keyIdx := -1
	for i, c := range columns {
		if c == key {
			keyIdx = i
		}
	}
	for _, row := range rows {
		m := make(map[string]any, len(columns))
		for i, c := range columns {
			m[c] = row[i]
		}
		s.rows[row[keyIdx]] = m
	}
	return nil
}

type fakePublisher struct {
	failures int
	calls    int
	got      []domain.EnrichedRecord
}

func (f *fakePublisher) LoadBatch(_ context.Context, recs []domain.EnrichedRecord) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.got = append(f.got, recs...)
	return nil
}

type recordingUpserter struct {
	called bool
}

func (u *recordingUpserter) UpsertFrom(_ context.Context, _ string, recs []domain.EnrichedRecord, _ int) (upsert.Summary, error) {
	u.called = true
	return upsert.Summary{Rows: len(recs)}, nil
}

// --- helpers ---

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func testBoundaries(t *testing.T) *geo.Attributor {
	t.Helper()
	aaa, err := geo.NewBoundary("AAA", square(0, 0, 10, 10))
	require.NoError(t, err)
	bbb, err := geo.NewBoundary("BBB", square(20, 0, 30, 10))
	require.NoError(t, err)
	return geo.NewAttributor([]geo.Boundary{aaa, bbb})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, up pipeline.Upserter, pub pipeline.Publisher) (*pipeline.Pipeline, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	enricher := pipeline.NewEnricher(testBoundaries(t), metrics)
	p := pipeline.New(enricher, up, pub, "usgs_earthquake_data", quietLogger(), metrics)
	p.PublishBackoff = time.Millisecond
	p.MaxPublishBackoff = 2 * time.Millisecond
	return p, metrics
}

const twoFeatures = `[
  {"type":"Feature","id":"in1","geometry":{"type":"Point","coordinates":[5,5,10]},
   "properties":{"sig":50,"mag":3.0,"title":"M 3.0 - inside"}},
  {"type":"Feature","id":"out1","geometry":{"type":"Point","coordinates":[15.5,5,33]},
   "properties":{"sig":600,"mag":7.5,"title":"M 7.5 - between"}}
]`

// --- tests ---

func TestPipeline_Run_EndToEnd(t *testing.T) {
	store := newMemStore(domain.Columns()...)
	engine := upsert.NewEngine(store, 1000, quietLogger(), observability.NewMetricsForTesting())
	p, metrics := newTestPipeline(t, engine, nil)

	sum, err := p.Run(context.Background(), strings.NewReader(twoFeatures), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Batches)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, 1, store.merges)

	in := store.rows["in1"]
	require.NotNil(t, in)
	assert.Equal(t, "Low", in[domain.ColSigClass])
	assert.Equal(t, "Light", in[domain.ColMagClass])
	assert.Equal(t, "AAA", in[domain.ColCountryCode])
	assert.Equal(t, "inland", in[domain.ColEarthquakeType])

	out := store.rows["out1"]
	require.NotNil(t, out)
	assert.Equal(t, "High", out[domain.ColSigClass])
	assert.Equal(t, "Major", out[domain.ColMagClass])
	assert.Equal(t, "BBB", out[domain.ColCountryCode])
	assert.Equal(t, "coastal", out[domain.ColEarthquakeType])

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FeaturesDecoded), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsEnriched), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Attributions.WithLabelValues("inland", "assigned")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Attributions.WithLabelValues("coastal", "assigned")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_IsIdempotent(t *testing.T) {
	store := newMemStore(domain.Columns()...)
	engine := upsert.NewEngine(store, 1, quietLogger(), observability.NewMetricsForTesting())
	p, _ := newTestPipeline(t, engine, nil)

	_, err := p.Run(context.Background(), strings.NewReader(twoFeatures), 0)
	require.NoError(t, err)
	first := store.rows

	store.rows = map[any]map[string]any{}
	for k, v := range first {
		store.rows[k] = v
	}
	_, err = p.Run(context.Background(), strings.NewReader(twoFeatures), 0)
	require.NoError(t, err)

	assert.Equal(t, first, store.rows)
	assert.Equal(t, 4, store.merges)
}

func TestPipeline_Enrich_DropsUnusableFeatures(t *testing.T) {
	p, metrics := newTestPipeline(t, nil, nil)

	recs, err := p.Enrich(strings.NewReader(`[{"id":"a","properties":{"mag":1.0}}, {"properties":{}}, 42]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FeaturesDropped), 0)
}

func TestPipeline_Enrich_CountsUnattributedRecords(t *testing.T) {
	p, metrics := newTestPipeline(t, nil, nil)

	recs, err := p.Enrich(strings.NewReader(`[{"id":"offmap","geometry":{"type":"Point","coordinates":[200,95,5]},"properties":{"mag":4.1}}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].CountryCode)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Attributions.WithLabelValues("coastal", "unset")), 0)
}

func TestPipeline_Enrich_InvalidInput(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)

	_, err := p.Enrich(strings.NewReader(""))
	require.Error(t, err)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_CheckReadiness(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)
	require.Error(t, p.CheckReadiness(context.Background()))

	_, err := p.Enrich(strings.NewReader(twoFeatures))
	require.NoError(t, err)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Load_WithoutDestination(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)
	_, err := p.Load(context.Background(), nil, 0)
	require.Error(t, err)
}

func TestPipeline_Load_PublishesBeforeUpsert(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	up := &recordingUpserter{}
	p, metrics := newTestPipeline(t, up, pub)

	recs, err := p.Enrich(strings.NewReader(twoFeatures))
	require.NoError(t, err)

	sum, err := p.Load(context.Background(), recs, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)
	assert.True(t, up.called)

	assert.Equal(t, 3, pub.calls)
	require.Len(t, pub.got, 2)
	assert.Equal(t, "in1", pub.got[0].ID)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsPublished), 0)
}

func TestPipeline_Load_PublishFailureDoesNotBlockUpsert(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	up := &recordingUpserter{}
	p, metrics := newTestPipeline(t, up, pub)

	recs, err := p.Enrich(strings.NewReader(twoFeatures))
	require.NoError(t, err)

	_, err = p.Load(context.Background(), recs, 0)
	require.NoError(t, err)
	assert.True(t, up.called)
	assert.Equal(t, 5, pub.calls)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RecordsPublished), 0)
}

func TestPipeline_Load_ResumePublishesOnlyPendingRange(t *testing.T) {
	pub := &fakePublisher{}
	up := &recordingUpserter{}
	p, metrics := newTestPipeline(t, up, pub)

	recs, err := p.Enrich(strings.NewReader(twoFeatures))
	require.NoError(t, err)

	_, err = p.Load(context.Background(), recs, 1)
	require.NoError(t, err)
	require.Len(t, pub.got, 1)
	assert.Equal(t, "out1", pub.got[0].ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecordsPublished), 0)
}

func TestPipeline_Load_StartOffsetOutOfRange(t *testing.T) {
	pub := &fakePublisher{}
	up := &recordingUpserter{}
	p, _ := newTestPipeline(t, up, pub)

	_, err := p.Load(context.Background(), make([]domain.EnrichedRecord, 2), 3)
	require.Error(t, err)
	assert.Zero(t, pub.calls)
	assert.False(t, up.called)
}

func TestPipeline_Run_CancelledContext(t *testing.T) {
	up := &recordingUpserter{}
	p, _ := newTestPipeline(t, up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, strings.NewReader(twoFeatures), 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, up.called)
}

func TestPipeline_Load_WrapsBatchError(t *testing.T) {
	store := &failingStore{memStore: newMemStore(domain.Columns()...), failAt: 2}
	engine := upsert.NewEngine(store, 1, quietLogger(), observability.NewMetricsForTesting())
	p, _ := newTestPipeline(t, engine, nil)

	recs, err := p.Enrich(strings.NewReader(twoFeatures))
	require.NoError(t, err)

	_, err = p.Load(context.Background(), recs, 0)
	var be *upsert.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 2, be.Index)
	assert.Equal(t, 1, be.Start)
	assert.Len(t, store.rows, 1)
}

type failingStore struct {
	*memStore
	failAt int
	n      int
}

func (s *failingStore) MergeBatch(ctx context.Context, table string, columns []string, key string, rows [][]any) error {
	s.n++
	if s.n == s.failAt {
		return errors.New("connection reset")
	}
	return s.memStore.MergeBatch(ctx, table, columns, key, rows)
}
