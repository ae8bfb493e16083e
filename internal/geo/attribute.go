package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// Attribution is the outcome of locating a single point.
// CountryCode is empty when no boundary could be assigned.
type Attribution struct {
	CountryCode string
	Type        domain.EarthquakeType
	Contained   bool
}

// Attributor assigns country codes by planar containment against a fixed
// boundary set, falling back to the nearest boundary. The boundary slice is
// read-only after construction, so one Attributor may serve any number of
// callers.
type Attributor struct {
	boundaries []Boundary
}

// NewAttributor creates an Attributor over boundaries, in priority order.
func NewAttributor(boundaries []Boundary) *Attributor {
	return &Attributor{boundaries: boundaries}
}

// Len reports the number of boundaries.
func (a *Attributor) Len() int { return len(a.boundaries) }

// Attribute locates (lon, lat).
//
//   - Contained by a boundary (outer and hole edges count as inside, hole
//     interiors do not): that boundary's code, inland. The first containing boundary in input order wins.
//   - Otherwise: the code of the boundary with the smallest planar distance to
//     its edges, coastal. Exact ties go to the earlier boundary.
//   - Non-finite or out-of-range coordinates, or no boundaries: coastal, no code.
func (a *Attributor) Attribute(lon, lat float64) Attribution {
	if !validCoordinate(lon, lat) || len(a.boundaries) == 0 {
		return Attribution{Type: domain.Coastal}
	}
	pt := orb.Point{lon, lat}

	if i := a.containing(pt); i >= 0 {
		return Attribution{CountryCode: a.boundaries[i].Code, Type: domain.Inland, Contained: true}
	}

	if i := a.nearest(pt); i >= 0 {
		return Attribution{CountryCode: a.boundaries[i].Code, Type: domain.Coastal}
	}
	return Attribution{Type: domain.Coastal}
}

func (a *Attributor) containing(pt orb.Point) int {
	for i := range a.boundaries {
		b := &a.boundaries[i]
		if !b.bound.Contains(pt) {
			continue
		}
		if contains(b.Geometry, pt) {
			return i
		}
	}
	return -1
}

func (a *Attributor) nearest(pt orb.Point) int {
	best, bestDist := -1, math.Inf(1)
	for i := range a.boundaries {
		d := planar.DistanceFrom(a.boundaries[i].Geometry, pt)
		if math.IsNaN(d) {
			continue
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return polygonContains(g, pt)
	case orb.MultiPolygon:
		for _, p := range g {
			if polygonContains(p, pt) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// polygonContains is planar.PolygonContains with hole edges counted as part
// of the polygon: a point on a hole's ring is inside, not in the hole.
func polygonContains(p orb.Polygon, pt orb.Point) bool {
	if len(p) == 0 || !planar.RingContains(p[0], pt) {
		return false
	}
	for _, hole := range p[1:] {
		if planar.RingContains(hole, pt) && !onRing(hole, pt) {
			return false
		}
	}
	return true
}

func onRing(r orb.Ring, pt orb.Point) bool {
	for i := 1; i < len(r); i++ {
		if planar.DistanceFromSegmentSquared(r[i-1], r[i], pt) == 0 {
			return true
		}
	}
	return false
}

func validCoordinate(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// AttributeAll returns enriched copies of recs with country code and
// earthquake type set. Records are evaluated independently.
func (a *Attributor) AttributeAll(recs []domain.EnrichedRecord) []domain.EnrichedRecord {
	out := make([]domain.EnrichedRecord, len(recs))
	for i, rec := range recs {
		out[i] = a.Apply(rec)
	}
	return out
}

// Apply returns a copy of rec with the attribution of its coordinates.
func (a *Attributor) Apply(rec domain.EnrichedRecord) domain.EnrichedRecord {
	res := a.Attribute(rec.Longitude, rec.Latitude)
	rec.EarthquakeType = res.Type
	rec.CountryCode = nil
	if res.CountryCode != "" {
		code := res.CountryCode
		rec.CountryCode = &code
	}
	return rec
}
