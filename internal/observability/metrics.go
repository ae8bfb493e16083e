package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	FeaturesDecoded prometheus.Counter
	FeaturesDropped prometheus.Counter
	RecordsEnriched prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Attribution outcomes.
	Attributions *prometheus.CounterVec // labels: type={inland,coastal}, country={assigned,unset}

	// Upsert metrics.
	BatchesCommitted prometheus.Counter
	BatchesFailed    prometheus.Counter
	RowsUpserted     prometheus.Counter
	BatchDuration    prometheus.Histogram

	// Publication metrics.
	RecordsPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FeaturesDecoded,
		m.FeaturesDropped,
		m.RecordsEnriched,
		m.PipelineRunning,
		m.Attributions,
		m.BatchesCommitted,
		m.BatchesFailed,
		m.RowsUpserted,
		m.BatchDuration,
		m.RecordsPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FeaturesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_decoded_total",
			Help:      "Total source features decoded.",
		}),
		FeaturesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_dropped_total",
			Help:      "Total source features dropped for being undecodable or lacking an id.",
		}),
		RecordsEnriched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_enriched_total",
			Help:      "Total records normalized, classified and attributed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		Attributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_total",
			Help:      "Geo attribution outcomes by earthquake type and country assignment.",
		}, []string{"type", "country"}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upsert_batches_committed_total",
			Help:      "Total upsert batches committed.",
		}),
		BatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upsert_batches_failed_total",
			Help:      "Total upsert batches rolled back.",
		}),
		RowsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upsert_rows_total",
			Help:      "Total rows merged into the destination table.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upsert_batch_duration_seconds",
			Help:      "Duration of one stage-merge-commit batch round trip.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Total enriched records published to Kafka.",
		}),
	}
}
