package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/zonal-extract/pkg/record"
)

// geoMetadata is the subset of the GeoParquet "geo" file metadata we read.
type geoMetadata struct {
	PrimaryColumn string `json:"primary_column"`
	Columns       map[string]struct {
		Encoding string `json:"encoding"`
	} `json:"columns"`
}

const defaultGeometryColumn = "geometry"

// geoparquetReader streams rows row group by row group, buffering a bounded
// number of rows at a time.
type geoparquetReader struct {
	osFile  *os.File
	file    *parquet.File
	columns []string
	geomCol int
	count   int64
	index   int64

	rowGroups    []parquet.RowGroup
	currentRGIdx int
	currentRows  parquet.Rows
	rowBuf       []parquet.Row
	bufIdx       int
	bufLen       int
}

func openGeoParquet(path string) (*geoparquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	geomName, err := geometryColumn(pf)
	if err != nil {
		f.Close()
		return nil, err
	}

	paths := pf.Schema().Columns()
	columns := make([]string, len(paths))
	geomCol := -1
	for i, p := range paths {
		columns[i] = strings.Join(p, ".")
		if columns[i] == geomName {
			geomCol = i
		}
	}
	if geomCol < 0 {
		f.Close()
		return nil, fmt.Errorf("parquet schema missing geometry column %q", geomName)
	}

	return &geoparquetReader{
		osFile:       f,
		file:         pf,
		columns:      columns,
		geomCol:      geomCol,
		count:        pf.NumRows(),
		rowGroups:    pf.RowGroups(),
		currentRGIdx: -1,
		rowBuf:       make([]parquet.Row, 256),
	}, nil
}

// geometryColumn reads the primary geometry column from the "geo" metadata,
// falling back to "geometry" for files written without it.
func geometryColumn(pf *parquet.File) (string, error) {
	raw, ok := pf.Lookup("geo")
	if !ok {
		return defaultGeometryColumn, nil
	}
	var meta geoMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return "", fmt.Errorf("parse geo metadata: %w", err)
	}
	name := meta.PrimaryColumn
	if name == "" {
		name = defaultGeometryColumn
	}
	if col, ok := meta.Columns[name]; ok && col.Encoding != "" && !strings.EqualFold(col.Encoding, "WKB") {
		return "", fmt.Errorf("geometry encoding %q not supported, need WKB", col.Encoding)
	}
	return name, nil
}

func (r *geoparquetReader) Next() (Feature, error) {
	for {
		if r.bufIdx < r.bufLen {
			row := r.rowBuf[r.bufIdx]
			r.bufIdx++
			return r.rowToFeature(row)
		}

		if r.currentRows != nil {
			n, err := r.currentRows.ReadRows(r.rowBuf)
			if n > 0 {
				r.bufIdx = 0
				r.bufLen = n
				continue
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return Feature{}, fmt.Errorf("read parquet rows: %w", err)
			}
			r.currentRows.Close()
			r.currentRows = nil
		}

		r.currentRGIdx++
		if r.currentRGIdx >= len(r.rowGroups) {
			return Feature{}, io.EOF
		}
		r.currentRows = r.rowGroups[r.currentRGIdx].Rows()
	}
}

func (r *geoparquetReader) rowToFeature(row parquet.Row) (Feature, error) {
	feat := Feature{Index: r.index, Properties: make(record.Record, len(r.columns)-1)}
	r.index++

	for i, name := range r.columns {
		if i != r.geomCol {
			feat.Properties[name] = record.NullValue()
		}
	}

	for _, val := range row {
		col := val.Column()
		if col < 0 || col >= len(r.columns) {
			continue
		}
		if col == r.geomCol {
			if val.IsNull() || len(val.ByteArray()) == 0 {
				continue
			}
			g, err := wkb.Unmarshal(val.ByteArray())
			if err != nil {
				return Feature{}, fmt.Errorf("decode geometry of feature %d: %w", feat.Index, err)
			}
			feat.Geometry = g
			continue
		}
		feat.Properties[r.columns[col]] = parquetValue(val)
	}
	return feat, nil
}

func parquetValue(v parquet.Value) record.Value {
	if v.IsNull() {
		return record.NullValue()
	}
	switch v.Kind() {
	case parquet.Boolean:
		return boolText(v.Boolean())
	case parquet.Int32:
		return record.IntValue(int64(v.Int32()))
	case parquet.Int64:
		return record.IntValue(v.Int64())
	case parquet.Float:
		return record.FloatValue(float64(v.Float()))
	case parquet.Double:
		return record.FloatValue(v.Double())
	default:
		return record.TextValue(string(v.ByteArray()))
	}
}

func (r *geoparquetReader) Count() (int64, bool) {
	return r.count, true
}

func (r *geoparquetReader) Close() error {
	if r.currentRows != nil {
		r.currentRows.Close()
	}
	return r.osFile.Close()
}
