package domain

import (
	"encoding/json"
	"time"
)

// RawFeature is one USGS GeoJSON feature as read from the source file.
// Geometry and properties are kept undecoded so that a malformed value in one
// field cannot reject the whole feature.
type RawFeature struct {
	ID         string                     `json:"id"`
	Geometry   json.RawMessage            `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// SigClass is the ordinal significance category.
type SigClass string

const (
	SigLow      SigClass = "Low"
	SigModerate SigClass = "Moderate"
	SigHigh     SigClass = "High"
)

// MagClass is the ordinal magnitude category.
type MagClass string

const (
	MagMinor  MagClass = "Minor"
	MagLight  MagClass = "Light"
	MagStrong MagClass = "Strong"
	MagMajor  MagClass = "Major"
	MagGreat  MagClass = "Great"
)

// EarthquakeType tags whether an epicentre falls inside a land boundary.
type EarthquakeType string

const (
	Inland  EarthquakeType = "inland"
	Coastal EarthquakeType = "coastal"
)

// Record is the flat row produced by the normalizer. Pointer fields are nil
// when the source value was absent or malformed.
type Record struct {
	ID               string     `json:"id"`
	Longitude        float64    `json:"longitude"`
	Latitude         float64    `json:"latitude"`
	Elevation        float64    `json:"elevation"`
	Title            *string    `json:"title"`
	PlaceDescription *string    `json:"place_description"`
	Sig              *int       `json:"sig"`
	Mag              *float64   `json:"mag"`
	MagType          *string    `json:"magType"`
	Time             *time.Time `json:"time"`
	Updated          *time.Time `json:"updated"`
}

// EnrichedRecord is a Record plus every derived field. It is built in one
// step by the enricher and never mutated afterwards.
type EnrichedRecord struct {
	Record
	SigClass       *SigClass      `json:"sig_class"`
	MagClass       MagClass       `json:"mag_class"`
	CountryCode    *string        `json:"country_code"`
	EarthquakeType EarthquakeType `json:"earthquake_type"`
}

// Column names of an EnrichedRecord, in output order. These are the names the
// destination table is matched against.
const (
	ColID               = "id"
	ColLongitude        = "longitude"
	ColLatitude         = "latitude"
	ColElevation        = "elevation"
	ColTitle            = "title"
	ColPlaceDescription = "place_description"
	ColSig              = "sig"
	ColSigClass         = "sig_class"
	ColMag              = "mag"
	ColMagType          = "magType"
	ColMagClass         = "mag_class"
	ColTime             = "time"
	ColUpdated          = "updated"
	ColCountryCode      = "country_code"
	ColEarthquakeType   = "earthquake_type"
)

// Columns returns the EnrichedRecord field set in output order.
func Columns() []string {
	return []string{
		ColID, ColLongitude, ColLatitude, ColElevation, ColTitle, ColPlaceDescription,
		ColSig, ColSigClass, ColMag, ColMagType, ColMagClass, ColTime, ColUpdated,
		ColCountryCode, ColEarthquakeType,
	}
}

// Value returns the value of the named column, with unset fields reported as
// an untyped nil so that writers emit an explicit NULL. The second result is
// false for an unknown column.
func (r EnrichedRecord) Value(column string) (any, bool) {
	switch column {
	case ColID:
		return r.ID, true
	case ColLongitude:
		return r.Longitude, true
	case ColLatitude:
		return r.Latitude, true
	case ColElevation:
		return r.Elevation, true
	case ColTitle:
		return deref(r.Title), true
	case ColPlaceDescription:
		return deref(r.PlaceDescription), true
	case ColSig:
		return deref(r.Sig), true
	case ColSigClass:
		if r.SigClass == nil {
			return nil, true
		}
		return string(*r.SigClass), true
	case ColMag:
		return deref(r.Mag), true
	case ColMagType:
		return deref(r.MagType), true
	case ColMagClass:
		return string(r.MagClass), true
	case ColTime:
		return deref(r.Time), true
	case ColUpdated:
		return deref(r.Updated), true
	case ColCountryCode:
		return deref(r.CountryCode), true
	case ColEarthquakeType:
		return string(r.EarthquakeType), true
	default:
		return nil, false
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
