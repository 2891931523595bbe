package batchwrite

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/eunmann/zonal-extract/pkg/project"
)

// LineTerminator selects the CSV record separator.
type LineTerminator string

const (
	// CRLF ends rows with "\r\n".
	CRLF LineTerminator = "crlf"
	// LF ends rows with "\n".
	LF LineTerminator = "lf"
)

// ParseLineTerminator validates a terminator name.
func ParseLineTerminator(s string) (LineTerminator, error) {
	switch LineTerminator(s) {
	case CRLF, LF:
		return LineTerminator(s), nil
	case "":
		return CRLF, nil
	default:
		return "", fmt.Errorf("line terminator must be %q or %q, got %q", CRLF, LF, s)
	}
}

// CSVSink writes comma-separated rows. Each batch reaches the underlying
// writer before WriteRows returns.
type CSVSink struct {
	w      *csv.Writer
	buf    *bufio.Writer
	closer io.Closer
}

// NewCSVSink writes to w. If w is an io.Closer it is closed by Close.
func NewCSVSink(w io.Writer, term LineTerminator) *CSVSink {
	buf := bufio.NewWriter(w)
	cw := csv.NewWriter(buf)
	cw.UseCRLF = term != LF
	s := &CSVSink{w: cw, buf: buf}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateCSV creates (or truncates) the file at path.
func CreateCSV(path string, term LineTerminator) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv: %w", err)
	}
	return NewCSVSink(f, term), nil
}

func (s *CSVSink) WriteHeader(fields []string) error {
	if err := s.w.Write(fields); err != nil {
		return err
	}
	return s.flush()
}

func (s *CSVSink) WriteRows(rows []project.Row) error {
	for _, r := range rows {
		if err := s.w.Write(r.Strings()); err != nil {
			return err
		}
	}
	return s.flush()
}

func (s *CSVSink) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.buf.Flush()
}

func (s *CSVSink) Close() error {
	err := s.flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
