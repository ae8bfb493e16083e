// Package geo attributes earthquake epicentres to country boundaries.
package geo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNoBoundaries is returned when a boundary dataset yields no usable polygon.
var ErrNoBoundaries = errors.New("no usable boundary polygons")

// DefaultCodeProperty is the Natural Earth admin-0 ISO3 attribute.
const DefaultCodeProperty = "ISO_A3"

// fallbackCodeProperties are consulted when the configured property is absent
// or holds the Natural Earth "-99" placeholder (e.g. France, Norway in some
// releases carry their code only in ADM0_A3).
var fallbackCodeProperties = []string{"iso_a3", "ADM0_A3", "adm0_a3"}

// Boundary is a country polygon or multipolygon with its ISO3 code.
type Boundary struct {
	Code     string
	Geometry orb.Geometry // orb.Polygon or orb.MultiPolygon
	bound    orb.Bound
}

// NewBoundary wraps a polygonal geometry. Other geometry types are rejected.
func NewBoundary(code string, g orb.Geometry) (Boundary, error) {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return Boundary{}, errors.New("empty polygon")
		}
	case orb.MultiPolygon:
		if len(g) == 0 {
			return Boundary{}, errors.New("empty multipolygon")
		}
	default:
		return Boundary{}, fmt.Errorf("unsupported geometry %T", g)
	}
	return Boundary{Code: code, Geometry: g, bound: g.Bound()}, nil
}

// LoadBoundaries reads a GeoJSON FeatureCollection of country polygons.
// Feature order is preserved since it decides containment and distance ties.
// Features that are not polygonal or carry no code are skipped.
func LoadBoundaries(r io.Reader, codeProperty string) ([]Boundary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read boundaries: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode boundaries: %w", err)
	}

	if codeProperty == "" {
		codeProperty = DefaultCodeProperty
	}

	out := make([]Boundary, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		code := featureCode(f.Properties, codeProperty)
		if code == "" {
			continue
		}
		b, err := NewBoundary(code, f.Geometry)
		if err != nil {
			continue
		}
		out = append(out, b)
	}

	if len(out) == 0 {
		return nil, ErrNoBoundaries
	}
	return out, nil
}

// LoadBoundariesFile reads the boundary dataset at path.
func LoadBoundariesFile(path, codeProperty string) ([]Boundary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open boundaries: %w", err)
	}
	defer f.Close()
	return LoadBoundaries(f, codeProperty)
}

func featureCode(props geojson.Properties, key string) string {
	for _, k := range append([]string{key}, fallbackCodeProperties...) {
		s, _ := props[k].(string)
		s = strings.TrimSpace(s)
		if s != "" && s != "-99" {
			return s
		}
	}
	return ""
}
