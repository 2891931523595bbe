package project

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/zonal-extract/pkg/extract"
	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/record"
)

func TestNewFieldSpec_Order(t *testing.T) {
	spec, err := NewFieldSpec(extract.Zonal, []string{"min", "max"}, []string{"UniqueID", "CLASS2"}, []string{"year"})
	require.NoError(t, err)
	assert.Equal(t, []string{"min", "max", "UniqueID", "CLASS2", "year"}, spec.Names())

	spec, err = NewFieldSpec(extract.Point, []string{"min", "max"}, []string{"UniqueID"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "UniqueID"}, spec.Names())
}

func TestNewFieldSpec_PointIgnoresStats(t *testing.T) {
	a, err := NewFieldSpec(extract.Point, nil, []string{"id"}, nil)
	require.NoError(t, err)
	b, err := NewFieldSpec(extract.Point, []string{"mean", "percentile_50", "id"}, []string{"id"}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Names(), b.Names())
}

func TestNewFieldSpec_Duplicates(t *testing.T) {
	_, err := NewFieldSpec(extract.Zonal, []string{"mean"}, []string{"mean"}, nil)
	assert.ErrorContains(t, err, `"mean" listed twice`)

	_, err = NewFieldSpec(extract.Point, nil, []string{"value"}, nil)
	assert.Error(t, err)

	_, err = NewFieldSpec(extract.Zonal, []string{""}, nil, nil)
	assert.Error(t, err)
}

func TestProject_FormatsFloats(t *testing.T) {
	spec, err := NewFieldSpec(extract.Zonal, []string{"mean", "count", "max"}, []string{"id", "name"}, nil)
	require.NoError(t, err)

	row, err := New(spec).Project(extract.Result{Index: 3, Record: record.Record{
		"mean":  record.FloatValue(3.1),
		"count": record.IntValue(12),
		"max":   record.NullValue(),
		"id":    record.IntValue(7),
		"name":  record.TextValue("north"),
		"extra": record.FloatValue(1),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"3.10000", "12", "", "7", "north"}, row.Strings())
}

func TestProject_Rounding(t *testing.T) {
	spec, err := NewFieldSpec(extract.Point, nil, nil, nil)
	require.NoError(t, err)
	p := New(spec)

	cases := map[float64]string{
		2.0 / 3.0:   "0.66667",
		-1.234564:   "-1.23456",
		1e6:         "1000000.00000",
		0:           "0.00000",
		math.Inf(1): "inf",
	}
	for in, want := range cases {
		row, err := p.Project(extract.Result{Record: record.Record{"value": record.FloatValue(in)}})
		require.NoError(t, err)
		assert.Equal(t, want, row[0].Text(), "%v", in)
	}
}

func TestProject_MissingField(t *testing.T) {
	spec, err := NewFieldSpec(extract.Zonal, []string{"mean"}, []string{"UniqueID"}, nil)
	require.NoError(t, err)

	_, err = New(spec).Project(extract.Result{Index: 41, Record: record.Record{
		"mean":  record.FloatValue(1),
		"OTHER": record.IntValue(1),
	}})
	var mf *geoerr.MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "UniqueID", mf.Field)
	assert.Equal(t, int64(41), mf.Feature)
	assert.Equal(t, []string{"OTHER", "mean"}, mf.Available)
}
