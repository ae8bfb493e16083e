// Package validate reconciles a processed file against the raw features it
// was built from. Each check runs as a named phase that collects every
// problem it finds rather than stopping at the first.
package validate

import (
	"fmt"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// Phase is one group of checks and the problems it found.
type Phase struct {
	Name   string
	Errors []string
}

func (p *Phase) errorf(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

// Passed reports whether the phase found no problems.
func (p *Phase) Passed() bool { return len(p.Errors) == 0 }

// Report is the outcome of a full validation.
type Report struct {
	RawFeatures      int
	Dropped          int
	ProcessedRecords int
	Phases           []*Phase
}

// Passed reports whether every phase passed.
func (r Report) Passed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Run checks processed against the decoded raw features.
func Run(raw domain.DecodeResult, processed []domain.EnrichedRecord) Report {
	return Report{
		RawFeatures:      len(raw.Features),
		Dropped:          raw.Dropped,
		ProcessedRecords: len(processed),
		Phases: []*Phase{
			checkParity(raw.Features, processed),
			checkNormalization(raw.Features, processed),
			checkClassification(processed),
			checkAttribution(processed),
		},
	}
}

// checkParity verifies a one-to-one, order-preserving id mapping.
func checkParity(raw []domain.RawFeature, processed []domain.EnrichedRecord) *Phase {
	p := &Phase{Name: "Raw/processed parity"}
	if len(raw) != len(processed) {
		p.errorf("count: %d raw features, %d processed records", len(raw), len(processed))
	}

	seen := make(map[string]int, len(processed))
	for i, rec := range processed {
		if prev, ok := seen[rec.ID]; ok {
			p.errorf("record %d: duplicate id %q (first at %d)", i, rec.ID, prev)
			continue
		}
		seen[rec.ID] = i
	}
	for i, f := range raw {
		j, ok := seen[f.ID]
		switch {
		case !ok:
			p.errorf("raw feature %d: id %q missing from processed file", i, f.ID)
		case j != i:
			p.errorf("raw feature %d: id %q at processed position %d", i, f.ID, j)
		}
	}
	return p
}

// checkNormalization re-normalizes each raw feature and compares the fields
// carried over unchanged.
func checkNormalization(raw []domain.RawFeature, processed []domain.EnrichedRecord) *Phase {
	p := &Phase{Name: "Normalization"}
	byID := make(map[string]domain.EnrichedRecord, len(processed))
	for _, rec := range processed {
		byID[rec.ID] = rec
	}
	for _, f := range raw {
		got, ok := byID[f.ID]
		if !ok {
			continue
		}
		want := domain.NormalizeFeature(f)
		if !floatEq(want.Longitude, got.Longitude) || !floatEq(want.Latitude, got.Latitude) || !floatEq(want.Elevation, got.Elevation) {
			p.errorf("id %s: coordinates: expected (%g, %g, %g), got (%g, %g, %g)", f.ID,
				want.Longitude, want.Latitude, want.Elevation, got.Longitude, got.Latitude, got.Elevation)
		}
		if !optEq(want.Mag, got.Mag, floatEq) {
			p.errorf("id %s: mag: expected %s, got %s", f.ID, ptrStr(want.Mag), ptrStr(got.Mag))
		}
		if !optEq(want.Sig, got.Sig, func(a, b int) bool { return a == b }) {
			p.errorf("id %s: sig: expected %s, got %s", f.ID, ptrStr(want.Sig), ptrStr(got.Sig))
		}
		if !optEq(want.Time, got.Time, func(a, b time.Time) bool { return a.Equal(b) }) {
			p.errorf("id %s: time: expected %s, got %s", f.ID, ptrStr(want.Time), ptrStr(got.Time))
		}
	}
	return p
}

func checkClassification(processed []domain.EnrichedRecord) *Phase {
	p := &Phase{Name: "Classification"}
	for _, rec := range processed {
		if want := domain.ClassifyMagnitude(rec.Mag); rec.MagClass != want {
			p.errorf("id %s: mag_class: expected %s for mag %s, got %q", rec.ID, want, ptrStr(rec.Mag), rec.MagClass)
		}
		want := domain.ClassifySignificance(rec.Sig)
		if !optEq(want, rec.SigClass, func(a, b domain.SigClass) bool { return a == b }) {
			p.errorf("id %s: sig_class: expected %s for sig %s, got %s", rec.ID, ptrStr(want), ptrStr(rec.Sig), ptrStr(rec.SigClass))
		}
	}
	return p
}

func checkAttribution(processed []domain.EnrichedRecord) *Phase {
	p := &Phase{Name: "Attribution"}
	for _, rec := range processed {
		switch rec.EarthquakeType {
		case domain.Inland:
			if rec.CountryCode == nil {
				p.errorf("id %s: inland record has no country_code", rec.ID)
			}
		case domain.Coastal:
		default:
			p.errorf("id %s: invalid earthquake_type %q", rec.ID, rec.EarthquakeType)
		}
	}
	return p
}

func optEq[T any](a, b *T, eq func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return eq(*a, *b)
}

func floatEq(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	return d < eps && d > -eps
}

func ptrStr[T any](v *T) string {
	if v == nil {
		return "<unset>"
	}
	return fmt.Sprint(*v)
}
