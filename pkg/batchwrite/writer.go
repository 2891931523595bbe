// Package batchwrite buffers projected rows and hands them to an output sink
// in bounded batches.
package batchwrite

import (
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/zonal-extract/pkg/project"
)

// DefaultBatchSize is the number of rows buffered before a flush.
const DefaultBatchSize = 2000

// Sink receives the header once and then whole batches of rows.
type Sink interface {
	WriteHeader(fields []string) error
	WriteRows(rows []project.Row) error
	Close() error
}

// FlushInfo describes one completed flush.
type FlushInfo struct {
	// Batch is the 1-based flush number.
	Batch     int
	// Rows is the number of rows in this flush.
	Rows      int
	// TotalRows is the number of rows written so far, this flush included.
	TotalRows int64
	Elapsed   time.Duration
}

// Writer accumulates rows and flushes them to a Sink every batchSize rows.
// At most batchSize rows are held at any time. Not safe for concurrent use.
type Writer struct {
	sink      Sink
	batchSize int
	buf       []project.Row
	flushes   int
	rows      int64
	onFlush   func(FlushInfo)
	closed    bool
}

// Option customizes a Writer.
type Option func(*Writer)

// WithFlushHook registers fn to run after every successful flush.
func WithFlushHook(fn func(FlushInfo)) Option {
	return func(w *Writer) { w.onFlush = fn }
}

// New writes spec's header to sink and returns a writer for it.
func New(sink Sink, spec project.FieldSpec, batchSize int, opts ...Option) (*Writer, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := sink.WriteHeader(spec.Names()); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	w := &Writer{
		sink:      sink,
		batchSize: batchSize,
		buf:       make([]project.Row, 0, batchSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add buffers row, flushing when the batch is full.
func (w *Writer) Add(row project.Row) error {
	if w.closed {
		return errors.New("batchwrite: add after close")
	}
	w.buf = append(w.buf, row)
	if len(w.buf) >= w.batchSize {
		return w.Flush()
	}
	return nil
}

// Flush writes buffered rows as one batch. Flushing an empty buffer is a
// no-op and is not counted.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	start := time.Now()
	if err := w.sink.WriteRows(w.buf); err != nil {
		return fmt.Errorf("write batch %d: %w", w.flushes+1, err)
	}
	w.flushes++
	w.rows += int64(len(w.buf))
	n := len(w.buf)
	// A fresh slice so the sink may retain the flushed one.
	w.buf = make([]project.Row, 0, w.batchSize)

	if w.onFlush != nil {
		w.onFlush(FlushInfo{Batch: w.flushes, Rows: n, TotalRows: w.rows, Elapsed: time.Since(start)})
	}
	return nil
}

// Pending returns the number of buffered rows.
func (w *Writer) Pending() int { return len(w.buf) }

// Flushes returns the number of flushes so far.
func (w *Writer) Flushes() int { return w.flushes }

// Rows returns the number of rows flushed so far.
func (w *Writer) Rows() int64 { return w.rows }

// Close flushes the remaining rows and closes the sink.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	flushErr := w.Flush()
	closeErr := w.sink.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("close sink: %w", closeErr)
	}
	return nil
}

// Abort drops buffered rows and closes the sink. Rows already flushed stay
// in the output.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.buf = nil
	return w.sink.Close()
}
