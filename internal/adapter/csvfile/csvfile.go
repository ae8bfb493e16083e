// Package csvfile reads and writes the processed-records hand-off file
// between the enrich and load commands.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// FileName is the processed file's conventional name.
const FileName = "usgs_earthquake_processed.csv"

// Write emits a header of domain.Columns() followed by one row per record.
// Unset fields are written as empty cells.
func Write(w io.Writer, recs []domain.EnrichedRecord) error {
	cw := csv.NewWriter(w)
	cols := domain.Columns()
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(cols))
	for _, rec := range recs {
		for i, c := range cols {
			v, _ := rec.Value(c)
			row[i] = formatCell(v)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes recs to path, creating parent directories.
func WriteFile(path string, recs []domain.EnrichedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Read parses a processed file. The header must contain an id column; other
// columns are optional and unknown ones are ignored. Empty or unparsable
// cells read back as unset.
func Read(r io.Reader) ([]domain.EnrichedRecord, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	if _, ok := idx[domain.ColID]; !ok {
		return nil, fmt.Errorf("missing required column: %s", domain.ColID)
	}

	var out []domain.EnrichedRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}

		cell := func(col string) string {
			if i, ok := idx[col]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		id := cell(domain.ColID)
		if id == "" {
			return nil, fmt.Errorf("line %d: empty id", line)
		}
		out = append(out, parseRow(id, cell))
	}
	return out, nil
}

// ReadFile reads the processed file at path.
func ReadFile(path string) ([]domain.EnrichedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func parseRow(id string, cell func(string) string) domain.EnrichedRecord {
	rec := domain.EnrichedRecord{
		Record: domain.Record{
			ID:               id,
			Longitude:        floatOrZero(cell(domain.ColLongitude)),
			Latitude:         floatOrZero(cell(domain.ColLatitude)),
			Elevation:        floatOrZero(cell(domain.ColElevation)),
			Title:            optString(cell(domain.ColTitle)),
			PlaceDescription: optString(cell(domain.ColPlaceDescription)),
			Sig:              optInt(cell(domain.ColSig)),
			Mag:              optFloat(cell(domain.ColMag)),
			MagType:          optString(cell(domain.ColMagType)),
			Time:             optTime(cell(domain.ColTime)),
			Updated:          optTime(cell(domain.ColUpdated)),
		},
		MagClass:       domain.MagClass(cell(domain.ColMagClass)),
		CountryCode:    optString(cell(domain.ColCountryCode)),
		EarthquakeType: domain.EarthquakeType(cell(domain.ColEarthquakeType)),
	}
	if s := cell(domain.ColSigClass); s != "" {
		c := domain.SigClass(s)
		rec.SigClass = &c
	}
	return rec
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func floatOrZero(s string) float64 {
	if v := optFloat(s); v != nil {
		return *v
	}
	return 0
}

func optInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func optTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
