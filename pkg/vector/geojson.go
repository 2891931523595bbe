package vector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/eunmann/zonal-extract/pkg/record"
)

// geojsonReader walks a FeatureCollection's "features" array token by token,
// decoding one feature per Next call.
type geojsonReader struct {
	file  *os.File
	dec   *json.Decoder
	index int64
	done  bool
}

type rawFeature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

func openGeoJSON(path string) (*geojsonReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bufio.NewReaderSize(f, 256*1024))
	if err := seekFeatures(dec); err != nil {
		f.Close()
		return nil, err
	}

	return &geojsonReader{file: f, dec: dec}, nil
}

// seekFeatures advances dec to just inside the top-level "features" array.
func seekFeatures(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read geojson: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("geojson must be an object: %w", errBadGeometry)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read geojson key: %w", err)
		}
		key, _ := tok.(string)
		if key == "features" {
			tok, err := dec.Token()
			if err != nil {
				return fmt.Errorf("read features: %w", err)
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return errors.New("geojson \"features\" must be an array")
			}
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return fmt.Errorf("skip geojson member %q: %w", key, err)
		}
	}
	return errors.New("geojson has no \"features\" member")
}

func (r *geojsonReader) Next() (Feature, error) {
	if r.done {
		return Feature{}, io.EOF
	}
	if !r.dec.More() {
		r.done = true
		return Feature{}, io.EOF
	}

	var raw rawFeature
	if err := r.dec.Decode(&raw); err != nil {
		return Feature{}, fmt.Errorf("decode feature %d: %w", r.index, err)
	}

	feat := Feature{Index: r.index}
	r.index++

	if len(raw.Geometry) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Geometry), []byte("null")) {
		g, err := geojson.UnmarshalGeometry(raw.Geometry)
		if err != nil {
			return Feature{}, fmt.Errorf("decode geometry of feature %d: %w", feat.Index, err)
		}
		feat.Geometry = g.Geometry()
	}

	props, err := decodeProperties(raw.Properties)
	if err != nil {
		return Feature{}, fmt.Errorf("decode properties of feature %d: %w", feat.Index, err)
	}
	feat.Properties = props

	return feat, nil
}

func (r *geojsonReader) Close() error {
	return r.file.Close()
}

// decodeProperties keeps JSON integers as Int by decoding numbers as json.Number.
func decodeProperties(raw json.RawMessage) (record.Record, error) {
	props := make(record.Record)
	if len(raw) == 0 {
		return props, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	for k, v := range m {
		props[k] = jsonValue(v)
	}
	return props, nil
}

func jsonValue(v any) record.Value {
	switch x := v.(type) {
	case nil:
		return record.NullValue()
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return record.IntValue(i)
			}
		}
		f, err := x.Float64()
		if err != nil {
			return record.TextValue(s)
		}
		return record.FloatValue(f)
	case string:
		return record.TextValue(x)
	case bool:
		return boolText(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return record.TextValue(fmt.Sprint(x))
		}
		return record.TextValue(string(b))
	}
}

func boolText(b bool) record.Value {
	if b {
		return record.TextValue("True")
	}
	return record.TextValue("False")
}
