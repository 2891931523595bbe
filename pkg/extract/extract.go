// Package extract turns a feature stream into a lazy stream of result
// records, one per feature, by sampling a raster for each feature.
package extract

import (
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/paulmach/orb"

	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/raster"
	"github.com/eunmann/zonal-extract/pkg/rasterstats"
	"github.com/eunmann/zonal-extract/pkg/record"
	"github.com/eunmann/zonal-extract/pkg/vector"
)

// Mode selects what is computed per feature.
type Mode int

const (
	// Zonal computes aggregate statistics over each polygon.
	Zonal Mode = iota
	// Point samples the nearest cell under each point.
	Point
)

func (m Mode) String() string {
	if m == Point {
		return "point"
	}
	return "zonal"
}

// Suffix is the output file name suffix for the mode.
func (m Mode) Suffix() string {
	if m == Point {
		return "point_query"
	}
	return "zonal_stats"
}

// ValueField is the field holding a point query's sampled value.
const ValueField = "value"

// Constant is a fixed field added to every record.
type Constant struct {
	Name  string
	Value record.Value
}

// Config configures a Generator.
type Config struct {
	Mode Mode
	// Stats are computed in Zonal mode and ignored in Point mode.
	Stats []rasterstats.Stat
	// Sampling controls nodata handling and cell selection.
	Sampling rasterstats.Options
	// Constants are set on every record after the statistics.
	Constants []Constant
}

// Result is the raw record produced for one feature.
type Result struct {
	// Index is the feature's position in native order.
	Index int64
	// Record holds the feature's properties overlaid with computed fields.
	Record record.Record
}

// Generator yields one Result per feature, in the feature stream's order.
// It is forward-only and cannot be restarted.
type Generator struct {
	features vector.Reader
	grid     raster.Grid
	cfg      Config
	done     bool
	pulled   int64
}

// New returns a generator over features. It takes no ownership of features
// or grid; the caller closes both.
func New(features vector.Reader, grid raster.Grid, cfg Config) *Generator {
	return &Generator{features: features, grid: grid, cfg: cfg}
}

// Next computes the next feature's record. It returns io.EOF once the
// features are exhausted, and on every call after that.
func (g *Generator) Next() (Result, error) {
	if g.done {
		return Result{}, io.EOF
	}

	f, err := g.features.Next()
	if errors.Is(err, io.EOF) {
		g.done = true
		return Result{}, io.EOF
	}
	if err != nil {
		return Result{}, fmt.Errorf("read feature %d: %w", g.pulled, err)
	}
	g.pulled++

	rec := make(record.Record, len(f.Properties)+len(g.cfg.Stats)+len(g.cfg.Constants))
	maps.Copy(rec, f.Properties)

	switch g.cfg.Mode {
	case Point:
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return Result{}, fmt.Errorf("feature %d has %s: %w", f.Index, geometryType(f.Geometry), geoerr.ErrNonPointGeometry)
		}
		v, err := rasterstats.Point(g.grid, pt, g.cfg.Sampling)
		if err != nil {
			return Result{}, fmt.Errorf("point query feature %d: %w", f.Index, err)
		}
		rec[ValueField] = v
	default:
		stats, err := rasterstats.Zonal(g.grid, f.Geometry, g.cfg.Stats, g.cfg.Sampling)
		if err != nil {
			return Result{}, fmt.Errorf("zonal stats feature %d: %w", f.Index, err)
		}
		maps.Copy(rec, stats)
	}

	for _, c := range g.cfg.Constants {
		rec[c.Name] = c.Value
	}
	return Result{Index: f.Index, Record: rec}, nil
}

// Pulled returns how many features have been read so far.
func (g *Generator) Pulled() int64 { return g.pulled }

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "no geometry"
	}
	return g.GeoJSONType()
}
