package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch-millisecond bounds for years 1..9999, the range time.Time formats
// and PostgreSQL timestamps accept.
const (
	minEpochMillis = -62135596800000
	maxEpochMillis = 253402300799999
)

// DecodeResult holds the features decoded from a source file and the number
// of elements that could not be used (undecodable or missing an id).
type DecodeResult struct {
	Features []RawFeature
	Dropped  int
}

// DecodeFeatures reads either a bare JSON array of GeoJSON features (the
// format written by the fetcher) or a FeatureCollection object.
func DecodeFeatures(r io.Reader) (DecodeResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("read features: %w", err)
	}

	elems, err := featureElements(bytes.TrimSpace(data))
	if err != nil {
		return DecodeResult{}, err
	}

	res := DecodeResult{Features: make([]RawFeature, 0, len(elems))}
	for _, elem := range elems {
		var f RawFeature
		if err := json.Unmarshal(elem, &f); err != nil || strings.TrimSpace(f.ID) == "" {
			res.Dropped++
			continue
		}
		res.Features = append(res.Features, f)
	}
	return res, nil
}

func featureElements(data []byte) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, errors.New("decode features: empty input")
	}

	var elems []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, fmt.Errorf("decode feature array: %w", err)
		}
		return elems, nil
	}

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	return fc.Features, nil
}

// Normalize flattens raw features into records. It never fails: defects in a
// feature surface as zeroed coordinates or unset fields on that record only.
func Normalize(features []RawFeature) []Record {
	out := make([]Record, len(features))
	for i := range features {
		out[i] = NormalizeFeature(features[i])
	}
	return out
}

// NormalizeFeature flattens a single feature.
func NormalizeFeature(f RawFeature) Record {
	lon, lat, elev := parseCoordinates(f.Geometry)
	p := f.Properties

	return Record{
		ID:               f.ID,
		Longitude:        lon,
		Latitude:         lat,
		Elevation:        elev,
		Title:            stringProp(p["title"]),
		PlaceDescription: stringProp(p["place"]),
		Sig:              intProp(p["sig"]),
		Mag:              floatProp(p["mag"]),
		MagType:          stringProp(p["magType"]),
		Time:             epochMillisProp(p["time"]),
		Updated:          epochMillisProp(p["updated"]),
	}
}

// parseCoordinates extracts (lon, lat, elevation) from a GeoJSON point,
// defaulting each missing or non-numeric position to 0.
func parseCoordinates(geometry json.RawMessage) (lon, lat, elev float64) {
	if isNull(geometry) {
		return 0, 0, 0
	}
	var g struct {
		Coordinates []json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(geometry, &g); err != nil {
		return 0, 0, 0
	}

	pos := [3]float64{}
	for i := 0; i < len(pos) && i < len(g.Coordinates); i++ {
		if v := floatProp(g.Coordinates[i]); v != nil {
			pos[i] = *v
		}
	}
	return pos[0], pos[1], pos[2]
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func stringProp(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// floatProp accepts JSON numbers and numeric strings. NaN and infinities are
// rejected so that no sentinel value reaches the classifiers.
func floatProp(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// intProp accepts integral numbers only; 312.0 is 312, 312.5 is unset.
func intProp(raw json.RawMessage) *int {
	v := floatProp(raw)
	if v == nil || *v != math.Trunc(*v) || math.Abs(*v) > math.MaxInt32 {
		return nil
	}
	i := int(*v)
	return &i
}

func epochMillisProp(raw json.RawMessage) *time.Time {
	v := floatProp(raw)
	if v == nil || *v < minEpochMillis || *v > maxEpochMillis {
		return nil
	}
	t := time.UnixMilli(int64(*v)).UTC()
	return &t
}
