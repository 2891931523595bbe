// Package geoerr defines the error taxonomy shared by the extraction pipeline.
//
// Every error produced here is fatal to a run. Nothing in the pipeline retries
// or recovers locally; callers inspect failures with errors.Is and errors.As.
package geoerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat indicates no reader exists for the dataset format.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	// ErrUnknownLayer indicates the requested layer is not in the container.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrNonPointGeometry indicates a point query received a non-point feature.
	ErrNonPointGeometry = errors.New("point query requires point geometries")
	// ErrInvalidStat indicates a statistic name the engine does not know.
	ErrInvalidStat = errors.New("invalid statistic")
)

// Resource identifies which input failed to open.
type Resource string

const (
	// Vector is a feature dataset.
	Vector Resource = "vector"
	// Raster is a gridded dataset.
	Raster Resource = "raster"
)

// OpenError reports that a vector or raster resource could not be opened.
type OpenError struct {
	Resource Resource
	Path     string
	Layer    string
	Err      error
}

func (e *OpenError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("open %s %s (layer %q): %v", e.Resource, e.Path, e.Layer, e.Err)
	}
	return fmt.Sprintf("open %s %s: %v", e.Resource, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// NewOpenError wraps err as an OpenError. A nil err yields nil.
func NewOpenError(res Resource, path, layer string, err error) error {
	if err == nil {
		return nil
	}
	return &OpenError{Resource: res, Path: path, Layer: layer, Err: err}
}

// MissingFieldError reports a configured output field absent from a result record.
type MissingFieldError struct {
	Field string
	// Feature is the zero-based position of the feature in native order.
	Feature int64
	// Available lists the fields the record did carry, sorted.
	Available []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %q missing from result for feature %d (available: %s)",
		e.Field, e.Feature, strings.Join(e.Available, ", "))
}
