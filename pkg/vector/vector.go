// Package vector opens feature datasets and streams their features in native
// order without loading the dataset into memory.
//
// Supported layouts:
//   - GeoJSON FeatureCollection (.geojson, .json)
//   - GeoPackage (.gpkg), optionally addressed as container.gpkg/layer
//   - ESRI Shapefile (.shp with its .dbf sidecar)
//   - GeoParquet (.parquet, .geoparquet) with a WKB geometry column
//
// File Geodatabases (.gdb) are recognized but have no reader.
package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/eunmann/zonal-extract/pkg/container"
	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/record"
)

// Feature is a single vector feature.
type Feature struct {
	// Index is the zero-based position in the dataset's native order.
	Index int64
	// Geometry is nil for features stored without geometry.
	Geometry orb.Geometry
	// Properties holds the feature attributes.
	Properties record.Record
}

// Reader streams features. It is forward-only and single-pass.
type Reader interface {
	// Next returns the next feature. Returns io.EOF when done.
	Next() (Feature, error)
	// Close releases the underlying file or database handle.
	Close() error
}

// Counter is implemented by readers that know their feature count up front.
type Counter interface {
	Count() (int64, bool)
}

// Options are reader pass-through options. They are kept separate from the
// OpenSpec so that resolution and reader tuning never share state.
type Options struct {
	// Where is an SQL filter applied to GeoPackage layers.
	Where string
}

// Open opens the dataset described by spec. Failures are *geoerr.OpenError.
func Open(spec container.OpenSpec, opts Options) (Reader, error) {
	layer, _ := spec.Layer()
	r, err := open(spec, opts)
	if err != nil {
		return nil, geoerr.NewOpenError(geoerr.Vector, spec.Path(), layer, err)
	}
	return r, nil
}

func open(spec container.OpenSpec, opts Options) (Reader, error) {
	path := spec.Path()
	layer, hasLayer := spec.Layer()

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	format := detectFormat(path)
	if opts.Where != "" && format != formatGeoPackage {
		return nil, fmt.Errorf("where filter needs a GeoPackage, got %s: %w", format, geoerr.ErrUnsupportedFormat)
	}
	if hasLayer && format != formatGeoPackage && format != formatFileGDB {
		return nil, fmt.Errorf("%s has no layers: %w", format, geoerr.ErrUnsupportedFormat)
	}

	switch format {
	case formatGeoJSON:
		return openGeoJSON(path)
	case formatGeoPackage:
		return openGeoPackage(path, layer, opts.Where)
	case formatShapefile:
		return openShapefile(path)
	case formatGeoParquet:
		return openGeoParquet(path)
	case formatFileGDB:
		return nil, fmt.Errorf("file geodatabase: %w", geoerr.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%q: %w", filepath.Ext(path), geoerr.ErrUnsupportedFormat)
	}
}

type format string

const (
	formatUnknown    format = "unknown"
	formatGeoJSON    format = "geojson"
	formatGeoPackage format = "geopackage"
	formatShapefile  format = "shapefile"
	formatGeoParquet format = "geoparquet"
	formatFileGDB    format = "filegdb"
)

func detectFormat(path string) format {
	switch strings.ToLower(filepath.Ext(strings.TrimRight(path, `/\`))) {
	case ".geojson", ".json":
		return formatGeoJSON
	case ".gpkg":
		return formatGeoPackage
	case ".shp":
		return formatShapefile
	case ".parquet", ".geoparquet":
		return formatGeoParquet
	case ".gdb":
		return formatFileGDB
	default:
		return formatUnknown
	}
}

// IsPointGeometry reports whether g is a Point.
func IsPointGeometry(g orb.Geometry) bool {
	_, ok := g.(orb.Point)
	return ok
}

var errBadGeometry = errors.New("malformed geometry")
