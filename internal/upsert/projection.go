package upsert

import (
	"strings"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// Projection is the write contract: destination columns that an
// EnrichedRecord can fill, in destination order. Names are matched
// case-insensitively (PostgreSQL folds unquoted identifiers) and reported
// as the destination spells them.
type Projection struct {
	dest   []string // destination spelling
	fields []string // EnrichedRecord column name per dest entry
	key    string
}

// NewProjection intersects the destination column list with the record
// field set. Record fields the destination lacks are dropped; destination
// columns the record cannot fill are left to their defaults.
func NewProjection(destColumns []string) (Projection, error) {
	if len(destColumns) == 0 {
		return Projection{}, ErrTableNotFound
	}

	known := make(map[string]string, len(domain.Columns()))
	for _, c := range domain.Columns() {
		known[strings.ToLower(c)] = c
	}

	var p Projection
	seen := make(map[string]bool, len(destColumns))
	for _, dc := range destColumns {
		field, ok := known[strings.ToLower(dc)]
		if !ok || seen[field] {
			continue
		}
		seen[field] = true
		p.dest = append(p.dest, dc)
		p.fields = append(p.fields, field)
		if field == domain.ColID {
			p.key = dc
		}
	}

	if p.key == "" {
		return Projection{}, ErrMissingKey
	}
	return p, nil
}

// Columns returns the destination column names written, in order.
func (p Projection) Columns() []string {
	return append([]string(nil), p.dest...)
}

// Key returns the destination's spelling of the id column.
func (p Projection) Key() string { return p.key }

// Row projects one record. Unset fields become nil so the destination
// receives an explicit NULL and an update can clear a previous value.
func (p Projection) Row(rec domain.EnrichedRecord) []any {
	row := make([]any, len(p.fields))
	for i, f := range p.fields {
		row[i], _ = rec.Value(f)
	}
	return row
}

// Rows projects a batch of records.
func (p Projection) Rows(recs []domain.EnrichedRecord) [][]any {
	out := make([][]any, len(recs))
	for i := range recs {
		out[i] = p.Row(recs[i])
	}
	return out
}
