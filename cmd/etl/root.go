package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/quake-data-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/postgres"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/usgs"
	"github.com/couchcryptid/quake-data-etl/internal/config"
	"github.com/couchcryptid/quake-data-etl/internal/geo"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
	"github.com/couchcryptid/quake-data-etl/internal/upsert"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quake-etl",
		Short:         "Fetch, enrich and load USGS earthquake events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFetchCmd(), newEnrichCmd(), newLoadCmd(), newRunCmd(), newValidateCmd())
	return root
}

// app carries the process-wide settings every subcommand starts from.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg)
	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		clock:   clockwork.NewRealClock(),
	}, nil
}

func (a *app) usgsClient() *usgs.Client {
	return usgs.NewClient(a.cfg.USGSBaseURL, a.cfg.USGSTimeout, a.clock, a.logger)
}

// rawPath is where fetch writes, and enrich reads, the current window's features.
func (a *app) rawPath(days int) string {
	start, _ := a.usgsClient().Window(days)
	return filepath.Join(a.cfg.RawDir, usgs.FileName(start))
}

func (a *app) processedPath() string {
	return filepath.Join(a.cfg.ProcessedDir, csvfile.FileName)
}

func (a *app) enricher() (*pipeline.Enricher, error) {
	boundaries, err := geo.LoadBoundariesFile(a.cfg.BoundariesPath, a.cfg.BoundaryCodeProperty)
	if err != nil {
		return nil, err
	}
	a.logger.Info("boundaries loaded", "path", a.cfg.BoundariesPath, "count", len(boundaries))
	return pipeline.NewEnricher(geo.NewAttributor(boundaries), a.metrics), nil
}

// destination connects to Postgres and, when brokers are configured, Kafka.
// The returned cleanup releases both.
func (a *app) destination(ctx context.Context) (pipeline.Upserter, pipeline.Publisher, func(), error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, nil, nil, err
	}
	store, err := postgres.Connect(ctx, a.cfg.DatabaseURL, a.cfg.DBSchema, a.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	engine := upsert.NewEngine(store, a.cfg.BatchSize, a.logger, a.metrics)

	if !a.cfg.KafkaEnabled() {
		return engine, nil, store.Close, nil
	}
	writer := kafkaadapter.NewWriter(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
	a.logger.Info("kafka publishing enabled", "topic", a.cfg.KafkaTopic)
	cleanup := func() {
		if err := writer.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
		store.Close()
	}
	return engine, writer, cleanup, nil
}

// serve starts the observability server when HTTP_ADDR is set. The returned
// func shuts it down within SHUTDOWN_TIMEOUT.
func (a *app) serve(ready sharedobs.ReadinessChecker) func() {
	if a.cfg.HTTPAddr == "" {
		return func() {}
	}
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, ready, a.logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", "error", err)
		}
	}
}
