package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/upsert"
)

const (
	// publishChunk bounds the records handed to one Publisher call.
	publishChunk       = 1000
	maxPublishAttempts = 5
)

// Publisher sends enriched records to a downstream consumer.
type Publisher interface {
	LoadBatch(ctx context.Context, records []domain.EnrichedRecord) error
}

// Upserter merges enriched records into a destination table.
type Upserter interface {
	UpsertFrom(ctx context.Context, table string, records []domain.EnrichedRecord, startAt int) (upsert.Summary, error)
}

// Pipeline orchestrates decode, enrich, publish and upsert for one run.
// Every stage runs on the calling goroutine, in order.
type Pipeline struct {
	enricher  *Enricher
	upserter  Upserter
	publisher Publisher
	table     string
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	// PublishBackoff is the first delay between publish attempts; it doubles
	// on each retry up to MaxPublishBackoff.
	PublishBackoff    time.Duration
	MaxPublishBackoff time.Duration
}

// New creates a Pipeline. upserter and publisher may be nil when the run
// only enriches or has no Kafka configured.
func New(enricher *Enricher, upserter Upserter, publisher Publisher, table string, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		enricher:          enricher,
		upserter:          upserter,
		publisher:         publisher,
		table:             table,
		logger:            logger,
		metrics:           metrics,
		PublishBackoff:    200 * time.Millisecond,
		MaxPublishBackoff: 5 * time.Second,
	}
}

// CheckReadiness returns nil once a run has decoded its input and enriched
// records are flowing to the destination.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not enriched any records yet")
	}
	return nil
}

// Enrich decodes features from r and returns their enriched records.
// Elements that cannot be decoded or lack an id are dropped and counted.
func (p *Pipeline) Enrich(r io.Reader) ([]domain.EnrichedRecord, error) {
	res, err := domain.DecodeFeatures(r)
	if err != nil {
		return nil, err
	}
	p.metrics.FeaturesDecoded.Add(float64(len(res.Features)))
	if res.Dropped > 0 {
		p.metrics.FeaturesDropped.Add(float64(res.Dropped))
		p.logger.Warn("features dropped", "count", res.Dropped)
	}

	recs := p.enricher.Enrich(res.Features)
	p.ready.Store(true)
	p.logger.Info("features enriched", "decoded", len(res.Features), "dropped", res.Dropped, "records", len(recs))
	return recs, nil
}

// Load publishes records[startAt:], when a publisher is configured, and then
// merges the same range into the destination table.
func (p *Pipeline) Load(ctx context.Context, records []domain.EnrichedRecord, startAt int) (upsert.Summary, error) {
	if p.upserter == nil {
		return upsert.Summary{}, errors.New("no destination configured")
	}
	if startAt < 0 || startAt > len(records) {
		return upsert.Summary{}, fmt.Errorf("start offset %d out of range [0, %d]", startAt, len(records))
	}
	p.ready.Store(true)

	if p.publisher != nil {
		p.publish(ctx, records[startAt:])
	}

	sum, err := p.upserter.UpsertFrom(ctx, p.table, records, startAt)
	if err != nil {
		var be *upsert.BatchError
		if errors.As(err, &be) {
			p.logger.Error("upsert stopped; earlier batches are committed",
				"failed_batch", be.Index,
				"total_batches", be.TotalBatches,
				"resume_from", be.Start,
			)
		}
		return sum, fmt.Errorf("upsert into %s: %w", p.table, err)
	}
	p.logger.Info("upsert complete", "table", p.table, "batches", sum.Batches, "rows", sum.Rows)
	return sum, nil
}

// Run enriches the features in r and loads the result.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, startAt int) (upsert.Summary, error) {
	runID := uuid.NewString()
	logger := p.logger
	p.logger = logger.With("run_id", runID)
	defer func() { p.logger = logger }()

	p.logger.Info("pipeline started", "table", p.table)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	recs, err := p.Enrich(r)
	if err != nil {
		return upsert.Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return upsert.Summary{}, err
	}
	return p.Load(ctx, recs, startAt)
}

// publish sends records in chunks, retrying each chunk with exponential
// backoff. A chunk that still fails is logged and skipped; the destination
// table remains the system of record.
func (p *Pipeline) publish(ctx context.Context, records []domain.EnrichedRecord) {
	published := 0
	for _, r := range upsert.Partition(len(records), publishChunk) {
		chunk := records[r.Start:r.End]
		if err := p.publishWithRetry(ctx, chunk); err != nil {
			p.logger.Error("publish failed, skipping chunk",
				"error", err,
				"start", r.Start,
				"end", r.End,
			)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		published += len(chunk)
		p.metrics.RecordsPublished.Add(float64(len(chunk)))
	}
	p.logger.Info("records published", "count", published, "total", len(records))
}

func (p *Pipeline) publishWithRetry(ctx context.Context, chunk []domain.EnrichedRecord) error {
	backoff := p.PublishBackoff
	var err error
	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		if err = p.publisher.LoadBatch(ctx, chunk); err == nil {
			return nil
		}
		if attempt == maxPublishAttempts {
			break
		}
		p.logger.Warn("publish attempt failed", "attempt", attempt, "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return errors.Join(err, ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, p.MaxPublishBackoff)
	}
	return fmt.Errorf("after %d attempts: %w", maxPublishAttempts, err)
}
