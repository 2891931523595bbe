// Package raster reads single-band gridded datasets through a windowed,
// block-cached interface.
//
// Supported formats are GeoTIFF (.tif, .tiff) and ESRI ASCII grids (.asc).
// Only north-up grids are supported. Blocks (TIFF strips or tiles) are decoded
// on demand and held in a bounded LRU, so memory use does not depend on the
// raster size.
package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/zonal-extract/pkg/geoerr"
)

// DefaultCacheBlocks is the default number of decoded blocks kept in memory.
const DefaultCacheBlocks = 128

// Transform is an affine geotransform in GDAL order:
//
//	x = T[0] + col*T[1] + row*T[2]
//	y = T[3] + col*T[4] + row*T[5]
type Transform [6]float64

// NorthUp reports whether the transform has no rotation terms.
func (t Transform) NorthUp() bool {
	return t[2] == 0 && t[4] == 0 && t[1] != 0 && t[5] != 0
}

// RowCol returns the fractional row and column containing (x, y).
func (t Transform) RowCol(x, y float64) (row, col float64) {
	return (y - t[3]) / t[5], (x - t[0]) / t[1]
}

// CellCenter returns the coordinates of the center of cell (row, col).
func (t Transform) CellCenter(row, col int) (x, y float64) {
	return t[0] + (float64(col)+0.5)*t[1], t[3] + (float64(row)+0.5)*t[5]
}

// CellSize returns the absolute cell width and height.
func (t Transform) CellSize() (w, h float64) {
	return math.Abs(t[1]), math.Abs(t[5])
}

// Window is a rectangular block of cells. It may extend beyond the grid.
type Window struct {
	Row, Col      int
	Height, Width int
}

// Empty reports whether the window covers no cells.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// Grid is a single-band raster.
type Grid interface {
	Width() int
	Height() int
	Transform() Transform
	// NoData returns the nodata value recorded in the file, if any.
	NoData() (float64, bool)
	// Integer reports whether cells hold integer samples.
	Integer() bool
	// Read returns the window's cells in row-major order. Cells outside the
	// grid, and cells of missing blocks, are NaN.
	Read(w Window) ([]float64, error)
	// CacheCapacity returns how many decoded blocks are kept and the size
	// of one block in bytes.
	CacheCapacity() (blocks int, blockBytes int64)
	Close() error
}

// Options tune raster reading.
type Options struct {
	// CacheBlocks bounds the decoded-block cache. Zero means DefaultCacheBlocks.
	CacheBlocks int
	// MaxCacheBytes further caps the cache by decoded size. Zero means no cap.
	// At least one block is always cached.
	MaxCacheBytes uint64
}

// Open opens the raster at path. Failures are *geoerr.OpenError.
func Open(path string, opts Options) (Grid, error) {
	if opts.CacheBlocks <= 0 {
		opts.CacheBlocks = DefaultCacheBlocks
	}

	g, err := open(path, opts)
	if err != nil {
		return nil, geoerr.NewOpenError(geoerr.Raster, path, "", err)
	}
	if !g.Transform().NorthUp() {
		g.Close()
		return nil, geoerr.NewOpenError(geoerr.Raster, path, "", fmt.Errorf("rotated geotransform %v: %w", g.Transform(), geoerr.ErrUnsupportedFormat))
	}
	return g, nil
}

func open(path string, opts Options) (Grid, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return openGeoTIFF(path, opts)
	case ".asc":
		return openASCIIGrid(path, opts)
	default:
		return nil, fmt.Errorf("%q: %w", filepath.Ext(path), geoerr.ErrUnsupportedFormat)
	}
}
