package vector

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/eunmann/zonal-extract/pkg/record"
)

// shapefileReader streams records from a .shp/.dbf pair.
type shapefileReader struct {
	r      *shp.Reader
	fields []shp.Field
	names  []string
	count  int64
	index  int64
}

func openShapefile(path string) (*shapefileReader, error) {
	// go-shp ignores a missing .dbf and reports zero fields.
	dbf := strings.TrimSuffix(path, filepath.Ext(path)) + ".dbf"
	if _, err := os.Stat(dbf); err != nil {
		return nil, fmt.Errorf("shapefile attributes: %w", err)
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}

	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}

	return &shapefileReader{
		r:      r,
		fields: fields,
		names:  names,
		count:  int64(r.AttributeCount()),
	}, nil
}

func (s *shapefileReader) Next() (Feature, error) {
	if !s.r.Next() {
		if err := s.r.Err(); err != nil {
			return Feature{}, fmt.Errorf("read shape %d: %w", s.index, err)
		}
		return Feature{}, io.EOF
	}

	n, shape := s.r.Shape()
	feat := Feature{
		Index:      s.index,
		Geometry:   shapeGeometry(shape),
		Properties: make(record.Record, len(s.fields)),
	}
	s.index++

	for i, f := range s.fields {
		raw := strings.TrimSpace(s.r.ReadAttribute(n, i))
		feat.Properties[s.names[i]] = dbfValue(f, raw)
	}
	return feat, nil
}

func (s *shapefileReader) Count() (int64, bool) {
	return s.count, true
}

func (s *shapefileReader) Close() error {
	return s.r.Close()
}

// dbfValue converts a dBASE attribute by its declared field type.
func dbfValue(f shp.Field, raw string) record.Value {
	if raw == "" || strings.Trim(raw, "*") == "" {
		return record.NullValue()
	}

	switch f.Fieldtype {
	case 'N', 'F':
		if f.Fieldtype == 'N' && f.Precision == 0 {
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return record.IntValue(i)
			}
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return record.FloatValue(v)
		}
		return record.NullValue()
	case 'L':
		switch raw {
		case "T", "t", "Y", "y":
			return record.TextValue("True")
		case "F", "f", "N", "n":
			return record.TextValue("False")
		default:
			return record.NullValue()
		}
	case 'D':
		if len(raw) == 8 {
			return record.TextValue(raw[0:4] + "-" + raw[4:6] + "-" + raw[6:8])
		}
		return record.TextValue(raw)
	default:
		return record.TextValue(raw)
	}
}

// shapeGeometry converts a shapefile record to an orb geometry. Null shapes
// and unsupported types yield nil.
func shapeGeometry(s shp.Shape) orb.Geometry {
	switch g := s.(type) {
	case *shp.Point:
		return orb.Point{g.X, g.Y}
	case *shp.PointZ:
		return orb.Point{g.X, g.Y}
	case *shp.PointM:
		return orb.Point{g.X, g.Y}
	case *shp.MultiPoint:
		return multiPoint(g.Points)
	case *shp.MultiPointZ:
		return multiPoint(g.Points)
	case *shp.PolyLine:
		return lines(g.Parts, g.Points)
	case *shp.PolyLineZ:
		return lines(g.Parts, g.Points)
	case *shp.Polygon:
		return polygons(g.Parts, g.Points)
	case *shp.PolygonZ:
		return polygons(g.Parts, g.Points)
	case *shp.PolygonM:
		return polygons(g.Parts, g.Points)
	default:
		return nil
	}
}

func multiPoint(pts []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func splitParts(parts []int32, pts []shp.Point) [][]shp.Point {
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		out = append(out, pts[start:end])
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.Geometry {
	var mls orb.MultiLineString
	for _, part := range splitParts(parts, pts) {
		ls := make(orb.LineString, len(part))
		for i, p := range part {
			ls[i] = orb.Point{p.X, p.Y}
		}
		mls = append(mls, ls)
	}
	if len(mls) == 1 {
		return mls[0]
	}
	return mls
}

// polygons groups shapefile rings into polygons. Outer rings are clockwise
// and each counter-clockwise ring is a hole of the preceding outer ring.
func polygons(parts []int32, pts []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for _, part := range splitParts(parts, pts) {
		ring := make(orb.Ring, len(part))
		for i, p := range part {
			ring[i] = orb.Point{p.X, p.Y}
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}
