package rasterstats

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/eunmann/zonal-extract/pkg/raster"
	"github.com/eunmann/zonal-extract/pkg/record"
)

// Point returns the value of the cell containing pt, without interpolation.
// Masked cells (nodata, NaN, outside the grid) yield Null. Integer grids
// yield Int values.
func Point(g raster.Grid, pt orb.Point, opts Options) (record.Value, error) {
	rf, cf := g.Transform().RowCol(pt[0], pt[1])
	row, col := int(math.Floor(rf)), int(math.Floor(cf))
	if row < 0 || col < 0 || row >= g.Height() || col >= g.Width() {
		return record.NullValue(), nil
	}

	cells, err := g.Read(raster.Window{Row: row, Col: col, Height: 1, Width: 1})
	if err != nil {
		return record.Value{}, fmt.Errorf("read cell (%d,%d): %w", row, col, err)
	}
	v := cells[0]
	if math.IsNaN(v) || v == opts.NoData {
		return record.NullValue(), nil
	}
	if g.Integer() {
		return record.IntValue(int64(v)), nil
	}
	return record.FloatValue(v), nil
}
