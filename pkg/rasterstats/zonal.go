package rasterstats

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/eunmann/zonal-extract/pkg/raster"
	"github.com/eunmann/zonal-extract/pkg/record"
)

// Options control cell selection.
type Options struct {
	// NoData overrides any nodata value recorded in the raster.
	NoData float64
	// AllTouched selects every cell a geometry touches instead of only the
	// cells whose centers it contains.
	AllTouched bool
}

// DefaultOptions returns options with the -9999 nodata sentinel.
func DefaultOptions() Options {
	return Options{NoData: DefaultNoData}
}

// Zonal computes stats over the cells of g selected by geom. A nil geometry,
// or one that misses the grid, is an empty zone.
func Zonal(g raster.Grid, geom orb.Geometry, stats []Stat, opts Options) (record.Record, error) {
	z := &zone{}
	if geom == nil {
		return summarize(z, stats), nil
	}

	tr := g.Transform()
	w := boundsWindow(geom.Bound(), tr)
	cells, err := g.Read(w)
	if err != nil {
		return nil, fmt.Errorf("read window %+v: %w", w, err)
	}

	sel := newSelector(geom, opts.AllTouched)
	cw, ch := tr.CellSize()
	for r := 0; r < w.Height; r++ {
		row := w.Row + r
		for c := 0; c < w.Width; c++ {
			col := w.Col + c
			x, y := tr.CellCenter(row, col)
			if !sel.selects(orb.Point{x, y}, cw/2, ch/2) {
				continue
			}
			v := cells[r*w.Width+c]
			switch {
			case row < 0 || col < 0 || row >= g.Height() || col >= g.Width():
				z.nodata++
			case math.IsNaN(v):
				z.nan++
			case v == opts.NoData:
				z.nodata++
			default:
				z.values = append(z.values, v)
			}
		}
	}
	return summarize(z, stats), nil
}

// boundsWindow returns the cells overlapping b: rows and columns are floored
// at the top-left corner and ceiled at the bottom-right. Degenerate bounds
// still cover one cell.
func boundsWindow(b orb.Bound, tr raster.Transform) raster.Window {
	r0, c0 := tr.RowCol(b.Min[0], b.Max[1])
	r1, c1 := tr.RowCol(b.Max[0], b.Min[1])
	rowStart := int(math.Floor(math.Min(r0, r1)))
	rowStop := int(math.Ceil(math.Max(r0, r1)))
	colStart := int(math.Floor(math.Min(c0, c1)))
	colStop := int(math.Ceil(math.Max(c0, c1)))
	if rowStop <= rowStart {
		rowStop = rowStart + 1
	}
	if colStop <= colStart {
		colStop = colStart + 1
	}
	return raster.Window{Row: rowStart, Col: colStart, Height: rowStop - rowStart, Width: colStop - colStart}
}

// selector decides whether a cell belongs to a geometry.
type selector struct {
	geom       orb.Geometry
	allTouched bool
	segments   [][2]orb.Point
	points     []orb.Point
}

func newSelector(geom orb.Geometry, allTouched bool) *selector {
	s := &selector{geom: geom, allTouched: allTouched}
	s.collect(geom)
	return s
}

func (s *selector) collect(geom orb.Geometry) {
	addLine := func(ls []orb.Point) {
		for i := 1; i < len(ls); i++ {
			s.segments = append(s.segments, [2]orb.Point{ls[i-1], ls[i]})
		}
	}
	switch g := geom.(type) {
	case orb.Point:
		s.points = append(s.points, g)
	case orb.MultiPoint:
		s.points = append(s.points, g...)
	case orb.LineString:
		addLine(g)
	case orb.MultiLineString:
		for _, ls := range g {
			addLine(ls)
		}
	case orb.Ring:
		addLine(g)
	case orb.Polygon:
		for _, r := range g {
			addLine(r)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			s.collect(p)
		}
	case orb.Collection:
		for _, c := range g {
			s.collect(c)
		}
	case orb.Bound:
		s.collect(g.ToPolygon())
	}
}

// selects reports whether the cell centered at c with the given half extents
// is part of the geometry. Area geometries select by center containment, and
// also by edge contact under all-touched. Points and lines select every cell
// they touch.
func (s *selector) selects(c orb.Point, hw, hh float64) bool {
	if contains(s.geom, c) {
		return true
	}
	if !s.allTouched && isAreal(s.geom) {
		return false
	}

	cell := orb.Bound{Min: orb.Point{c[0] - hw, c[1] - hh}, Max: orb.Point{c[0] + hw, c[1] + hh}}
	for _, p := range s.points {
		if cell.Contains(p) {
			return true
		}
	}
	for _, seg := range s.segments {
		if segmentTouches(seg[0], seg[1], cell) {
			return true
		}
	}
	return false
}

func isAreal(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return true
	case orb.Collection:
		for _, c := range g {
			if isAreal(c) {
				return true
			}
		}
	}
	return false
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		return planar.RingContains(g, p)
	case orb.Bound:
		return g.Contains(p)
	case orb.Collection:
		for _, c := range g {
			if contains(c, p) {
				return true
			}
		}
	}
	return false
}

// segmentTouches clips the segment a-b against the closed rectangle box.
func segmentTouches(a, b orb.Point, box orb.Bound) bool {
	dx, dy := b[0]-a[0], b[1]-a[1]
	t0, t1 := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return false
			}
			t1 = math.Min(t1, r)
		}
		return true
	}
	return clip(-dx, a[0]-box.Min[0]) &&
		clip(dx, box.Max[0]-a[0]) &&
		clip(-dy, a[1]-box.Min[1]) &&
		clip(dy, box.Max[1]-a[1]) &&
		t0 <= t1
}
