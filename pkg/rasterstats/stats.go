// Package rasterstats computes per-geometry summaries of raster cells.
//
// Zonal summarises the cells a geometry covers; Point samples the cell under
// a point. Cells equal to the nodata value, NaN cells and cells outside the
// grid never contribute to a summary.
package rasterstats

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/record"
)

// DefaultNoData is the nodata value used unless overridden.
const DefaultNoData = -9999

// DefaultStats is the statistic list used when none is configured.
var DefaultStats = []string{"min", "max", "mean", "median", "std", "count", "percentile_10", "percentile_90"}

const percentilePrefix = "percentile_"

type statKind int

const (
	statCount statKind = iota
	statMin
	statMax
	statMean
	statSum
	statStd
	statMedian
	statMajority
	statMinority
	statUnique
	statRange
	statNoData
	statNaN
	statPercentile
)

var statNames = map[string]statKind{
	"count":    statCount,
	"min":      statMin,
	"max":      statMax,
	"mean":     statMean,
	"sum":      statSum,
	"std":      statStd,
	"median":   statMedian,
	"majority": statMajority,
	"minority": statMinority,
	"unique":   statUnique,
	"range":    statRange,
	"nodata":   statNoData,
	"nan":      statNaN,
}

// Stat is one requested statistic. Its Name is also its output field name.
type Stat struct {
	Name string
	kind statKind
	q    float64
}

func (s Stat) String() string { return s.Name }

// ParseStat parses a statistic name such as "mean" or "percentile_90".
func ParseStat(name string) (Stat, error) {
	if k, ok := statNames[name]; ok {
		return Stat{Name: name, kind: k}, nil
	}
	if rest, ok := strings.CutPrefix(name, percentilePrefix); ok {
		q, err := strconv.ParseFloat(rest, 64)
		if err != nil || q < 0 || q > 100 || math.IsNaN(q) {
			return Stat{}, fmt.Errorf("%q: percentile must be between 0 and 100: %w", name, geoerr.ErrInvalidStat)
		}
		return Stat{Name: name, kind: statPercentile, q: q}, nil
	}
	return Stat{}, fmt.Errorf("%q: %w", name, geoerr.ErrInvalidStat)
}

// ParseStats parses every name, failing on the first invalid one.
func ParseStats(names []string) ([]Stat, error) {
	out := make([]Stat, 0, len(names))
	for _, n := range names {
		s, err := ParseStat(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// zone holds the cells selected for one geometry.
type zone struct {
	values []float64
	nodata int
	nan    int
}

// summarize evaluates stats over z. An empty zone yields null for every
// statistic except count, nodata and nan.
func summarize(z *zone, stats []Stat) record.Record {
	out := make(record.Record, len(stats))
	n := len(z.values)

	var sorted []float64
	sortedValues := func() []float64 {
		if sorted == nil {
			sorted = slices.Clone(z.values)
			slices.Sort(sorted)
		}
		return sorted
	}
	var counts map[float64]int
	valueCounts := func() map[float64]int {
		if counts == nil {
			counts = make(map[float64]int)
			for _, v := range z.values {
				counts[v]++
			}
		}
		return counts
	}

	for _, s := range stats {
		switch s.kind {
		case statCount:
			out[s.Name] = record.IntValue(int64(n))
			continue
		case statNoData:
			out[s.Name] = record.FloatValue(float64(z.nodata))
			continue
		case statNaN:
			out[s.Name] = record.FloatValue(float64(z.nan))
			continue
		}
		if n == 0 {
			out[s.Name] = record.NullValue()
			continue
		}

		switch s.kind {
		case statMin:
			out[s.Name] = record.FloatValue(sortedValues()[0])
		case statMax:
			out[s.Name] = record.FloatValue(sortedValues()[n-1])
		case statRange:
			v := sortedValues()
			out[s.Name] = record.FloatValue(v[n-1] - v[0])
		case statSum:
			out[s.Name] = record.FloatValue(sum(z.values))
		case statMean:
			out[s.Name] = record.FloatValue(sum(z.values) / float64(n))
		case statStd:
			out[s.Name] = record.FloatValue(std(z.values))
		case statMedian:
			out[s.Name] = record.FloatValue(percentile(sortedValues(), 50))
		case statPercentile:
			out[s.Name] = record.FloatValue(percentile(sortedValues(), s.q))
		case statUnique:
			out[s.Name] = record.IntValue(int64(len(valueCounts())))
		case statMajority:
			out[s.Name] = record.FloatValue(pickCount(valueCounts(), func(a, b int) bool { return a > b }))
		case statMinority:
			out[s.Name] = record.FloatValue(pickCount(valueCounts(), func(a, b int) bool { return a < b }))
		}
	}
	return out
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

// std is the population standard deviation.
func std(v []float64) float64 {
	mean := sum(v) / float64(len(v))
	var ss float64
	for _, x := range v {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(v)))
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// pickCount returns the value whose count wins under better. Ties go to the
// smallest value.
func pickCount(counts map[float64]int, better func(a, b int) bool) float64 {
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if better(counts[k], counts[best]) {
			best = k
		}
	}
	return best
}
