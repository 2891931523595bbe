// Package project narrows raw result records to the configured output
// fields and renders floats at fixed precision.
package project

import (
	"errors"
	"fmt"
	"slices"

	"github.com/eunmann/zonal-extract/pkg/extract"
	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/record"
)

// Precision is the number of fractional digits floats are rendered with.
const Precision = 5

// FieldSpec is the ordered list of output fields. It is fixed per run.
type FieldSpec struct {
	names []string
}

// NewFieldSpec builds the output field order. Zonal mode lists stats, then
// keep fields, then constants. Point mode lists "value" in place of stats;
// stats are ignored. Duplicate names are rejected.
func NewFieldSpec(mode extract.Mode, stats, keep, constants []string) (FieldSpec, error) {
	var names []string
	if mode == extract.Point {
		names = append(names, extract.ValueField)
	} else {
		names = append(names, stats...)
	}
	names = append(names, keep...)
	names = append(names, constants...)

	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return FieldSpec{}, errors.New("empty output field name")
		}
		if _, dup := seen[n]; dup {
			return FieldSpec{}, fmt.Errorf("output field %q listed twice", n)
		}
		seen[n] = struct{}{}
	}
	return FieldSpec{names: names}, nil
}

// Names returns the field names in output order.
func (s FieldSpec) Names() []string { return slices.Clone(s.names) }

// Len returns the number of fields.
func (s FieldSpec) Len() int { return len(s.names) }

// Row is a projected record: one value per FieldSpec field, in order. Float
// values have already been rendered to Text.
type Row []record.Value

// Strings renders each cell as text. Null cells are empty.
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = v.String()
	}
	return out
}

// Projector maps raw results onto a FieldSpec.
type Projector struct {
	spec FieldSpec
}

// New returns a projector for spec.
func New(spec FieldSpec) *Projector {
	return &Projector{spec: spec}
}

// Project narrows res to the spec's fields. A field absent from the record
// is a *geoerr.MissingFieldError.
func (p *Projector) Project(res extract.Result) (Row, error) {
	row := make(Row, len(p.spec.names))
	for i, name := range p.spec.names {
		v, ok := res.Record[name]
		if !ok {
			return nil, &geoerr.MissingFieldError{
				Field:     name,
				Feature:   res.Index,
				Available: res.Record.Fields(),
			}
		}
		if v.Kind() == record.Float {
			v = record.TextValue(record.FixedPoint(v.Float(), Precision))
		}
		row[i] = v
	}
	return row, nil
}
