// Package record holds the tagged value union used for feature attributes and
// statistic results, and the per-feature record built from them.
package record

import (
	"math"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	// Null is an absent value (SQL NULL, JSON null, empty statistic).
	Null Kind = iota
	// Int is a 64-bit signed integer.
	Int
	// Float is a 64-bit float.
	Float
	// Text is a string.
	Text
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Int:
		return "int"
	case Float:
		return "float"
	case Text:
		return "text"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable tagged union of Null, Int, Float and Text.
// The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// NullValue returns the Null value.
func NullValue() Value { return Value{} }

// IntValue returns an Int value.
func IntValue(v int64) Value { return Value{kind: Int, i: v} }

// FloatValue returns a Float value.
func FloatValue(v float64) Value { return Value{kind: Float, f: v} }

// TextValue returns a Text value.
func TextValue(v string) Value { return Value{kind: Text, s: v} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == Null }

// Int returns the integer payload. Only meaningful for Int.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload. Only meaningful for Float.
func (v Value) Float() float64 { return v.f }

// Text returns the string payload. Only meaningful for Text.
func (v Value) Text() string { return v.s }

// String renders the value as a CSV cell: Null is empty, floats use the
// shortest representation that round-trips.
func (v Value) String() string {
	switch v.kind {
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return formatSpecial(v.f, func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) })
	case Text:
		return v.s
	default:
		return ""
	}
}

// FixedPoint renders a float with exactly digits fractional digits.
// NaN and infinities use the lower-case spellings the CSV consumers expect.
func FixedPoint(f float64, digits int) string {
	return formatSpecial(f, func(f float64) string { return strconv.FormatFloat(f, 'f', digits, 64) })
}

func formatSpecial(f float64, format func(float64) string) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return format(f)
	}
}

// Record maps field names to values for a single feature.
// It is built per pull and must not be retained past it.
type Record map[string]Value

// Fields returns the record's field names, sorted.
func (r Record) Fields() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
