package pipeline

import (
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/geo"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// Enricher turns raw features into fully derived records: normalized,
// classified and attributed to a country.
type Enricher struct {
	attributor *geo.Attributor
	metrics    *observability.Metrics
}

// NewEnricher creates an Enricher over a loaded boundary set.
func NewEnricher(attributor *geo.Attributor, metrics *observability.Metrics) *Enricher {
	return &Enricher{
		attributor: attributor,
		metrics:    metrics,
	}
}

// Enrich returns one EnrichedRecord per feature, in input order.
func (e *Enricher) Enrich(features []domain.RawFeature) []domain.EnrichedRecord {
	out := make([]domain.EnrichedRecord, len(features))
	for i, f := range features {
		rec := domain.Classify(domain.EnrichedRecord{Record: domain.NormalizeFeature(f)})
		rec = e.attributor.Apply(rec)
		e.observe(rec)
		out[i] = rec
	}
	e.metrics.RecordsEnriched.Add(float64(len(out)))
	return out
}

func (e *Enricher) observe(rec domain.EnrichedRecord) {
	country := "assigned"
	if rec.CountryCode == nil {
		country = "unset"
	}
	e.metrics.Attributions.WithLabelValues(string(rec.EarthquakeType), country).Inc()
}
