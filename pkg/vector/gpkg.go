package vector

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/logging"
	"github.com/eunmann/zonal-extract/pkg/record"
)

// gpkgReader streams one feature table of a GeoPackage through an open
// *sql.Rows cursor.
type gpkgReader struct {
	db      *sql.DB
	rows    *sql.Rows
	columns []string
	geomCol int
	fidCol  int
	count   int64
	index   int64

	vals []any
	ptrs []any
}

// readOnlyDSN builds a read-only SQLite URI for path, escaping characters
// such as '?', '#' and '%' that would otherwise end the file name.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro"}
	return u.String(), nil
}

func openGeoPackage(path, layer, where string) (*gpkgReader, error) {
	log := logging.WithPhase("vector_open")

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open geopackage: %w", err)
	}

	table, geomColumn, err := findFeatureTable(db, layer)
	if err != nil {
		db.Close()
		return nil, err
	}
	fidColumn, err := primaryKey(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}

	filter := ""
	if where != "" {
		filter = " WHERE " + where
	}

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM " + quoteIdent(table) + filter).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count features in %s: %w", table, err)
	}

	rows, err := db.Query("SELECT * FROM " + quoteIdent(table) + filter + " ORDER BY rowid")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("query layer %s: %w", table, err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		db.Close()
		return nil, fmt.Errorf("layer columns: %w", err)
	}

	r := &gpkgReader{
		db:      db,
		rows:    rows,
		columns: columns,
		geomCol: -1,
		fidCol:  -1,
		count:   count,
		vals:    make([]any, len(columns)),
		ptrs:    make([]any, len(columns)),
	}
	for i, c := range columns {
		r.ptrs[i] = &r.vals[i]
		switch {
		case strings.EqualFold(c, geomColumn):
			r.geomCol = i
		case fidColumn != "" && strings.EqualFold(c, fidColumn):
			r.fidCol = i
		}
	}

	log.Debug().
		Str("path", path).
		Str("layer", table).
		Str("geometry_column", geomColumn).
		Int64("features", count).
		Msg("opened geopackage layer")

	return r, nil
}

// findFeatureTable returns the requested feature table, or the first one
// registered in gpkg_contents when layer is empty.
func findFeatureTable(db *sql.DB, layer string) (table, geomColumn string, err error) {
	rows, err := db.Query(`
		SELECT c.table_name, g.column_name
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.rowid`)
	if err != nil {
		return "", "", fmt.Errorf("read gpkg_contents: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return "", "", fmt.Errorf("scan gpkg_contents: %w", err)
		}
		if layer == "" || name == layer {
			return name, col, nil
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return "", "", fmt.Errorf("read gpkg_contents: %w", err)
	}

	if layer == "" {
		return "", "", errors.New("geopackage has no feature tables")
	}
	return "", "", fmt.Errorf("%q not in [%s]: %w", layer, strings.Join(names, ", "), geoerr.ErrUnknownLayer)
}

func primaryKey(db *sql.DB, table string) (string, error) {
	rows, err := db.Query("PRAGMA table_info(" + quoteIdent(table) + ")")
	if err != nil {
		return "", fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return "", fmt.Errorf("scan table info: %w", err)
		}
		if pk == 1 {
			return name, nil
		}
	}
	return "", rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (r *gpkgReader) Next() (Feature, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return Feature{}, fmt.Errorf("read feature %d: %w", r.index, err)
		}
		return Feature{}, io.EOF
	}
	if err := r.rows.Scan(r.ptrs...); err != nil {
		return Feature{}, fmt.Errorf("scan feature %d: %w", r.index, err)
	}

	feat := Feature{Index: r.index, Properties: make(record.Record, len(r.columns))}
	r.index++

	for i, v := range r.vals {
		switch i {
		case r.fidCol:
			continue
		case r.geomCol:
			if b, ok := v.([]byte); ok && len(b) > 0 {
				g, err := decodeGPKGGeometry(b)
				if err != nil {
					return Feature{}, fmt.Errorf("decode geometry of feature %d: %w", feat.Index, err)
				}
				feat.Geometry = g
			}
			continue
		}
		feat.Properties[r.columns[i]] = sqlValue(v)
	}

	return feat, nil
}

func (r *gpkgReader) Count() (int64, bool) {
	return r.count, true
}

func (r *gpkgReader) Close() error {
	rowsErr := r.rows.Close()
	if err := r.db.Close(); err != nil {
		return err
	}
	return rowsErr
}

func sqlValue(v any) record.Value {
	switch x := v.(type) {
	case nil:
		return record.NullValue()
	case int64:
		return record.IntValue(x)
	case float64:
		return record.FloatValue(x)
	case string:
		return record.TextValue(x)
	case []byte:
		return record.TextValue(string(x))
	case bool:
		return boolText(x)
	case time.Time:
		return record.TextValue(x.Format(time.RFC3339))
	default:
		return record.TextValue(fmt.Sprint(x))
	}
}

// GeoPackage binary header flag bits.
const (
	gpkgFlagLittleEndian = 0x01
	gpkgFlagEmpty        = 0x10
)

// decodeGPKGGeometry strips the "GP" header and envelope from a GeoPackage
// geometry blob and decodes the remaining WKB.
func decodeGPKGGeometry(b []byte) (orb.Geometry, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, fmt.Errorf("missing GP magic: %w", errBadGeometry)
	}
	flags := b[3]
	if flags&gpkgFlagEmpty != 0 {
		return nil, nil
	}

	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelope = 0
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("invalid envelope indicator: %w", errBadGeometry)
	}

	offset := 8 + envelope
	if len(b) < offset {
		return nil, fmt.Errorf("truncated header: %w", errBadGeometry)
	}
	return wkb.Unmarshal(b[offset:])
}
