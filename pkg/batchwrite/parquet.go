package batchwrite

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/zonal-extract/pkg/project"
)

// FieldOrderKey is the parquet key-value metadata entry listing the output
// fields in order. Parquet group columns are stored sorted by name.
const FieldOrderKey = "zonal.fields"

// ParquetSink writes rows as optional string columns, one row group per
// batch. Cells hold the same text as the CSV output; Null cells are null.
type ParquetSink struct {
	out    io.Writer
	closer io.Closer
	fields []string
	pw     *parquet.GenericWriter[map[string]any]
}

// NewParquetSink writes to w. If w is an io.Closer it is closed by Close.
// The schema is fixed by WriteHeader.
func NewParquetSink(w io.Writer) *ParquetSink {
	s := &ParquetSink{out: w}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateParquet creates (or truncates) the file at path.
func CreateParquet(path string) (*ParquetSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet: %w", err)
	}
	return NewParquetSink(f), nil
}

func (s *ParquetSink) WriteHeader(fields []string) error {
	if s.pw != nil {
		return errors.New("parquet header already written")
	}
	nodes := make(map[string]parquet.Node, len(fields))
	for _, f := range fields {
		nodes[f] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("zonal", parquet.Group(nodes))
	s.fields = fields
	s.pw = parquet.NewGenericWriter[map[string]any](s.out, schema,
		parquet.KeyValueMetadata(FieldOrderKey, strings.Join(fields, ",")))
	return nil
}

func (s *ParquetSink) WriteRows(rows []project.Row) error {
	batch := make([]map[string]any, len(rows))
	for i, r := range rows {
		m := make(map[string]any, len(s.fields))
		for j, name := range s.fields {
			if r[j].IsNull() {
				m[name] = nil
				continue
			}
			m[name] = r[j].String()
		}
		batch[i] = m
	}
	if _, err := s.pw.Write(batch); err != nil {
		return err
	}
	return s.pw.Flush()
}

func (s *ParquetSink) Close() error {
	var err error
	if s.pw != nil {
		err = s.pw.Close()
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
