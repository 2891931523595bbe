// Package logging holds the process logger for zonal-extract and the
// completion events and progress tracking built on it.
//
// Logs are JSON on stderr by default. Human mode switches to a console
// writer and adds human-readable companions (_h fields) to completion events.
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger     atomic.Pointer[zerolog.Logger]
	prettyMode atomic.Bool
)

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	SetLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
}

// Init configures the process logger to write to stderr.
func Init(debug bool, human bool) {
	InitTo(os.Stderr, debug, human)
}

// InitTo configures the process logger to write to w. Debug lowers the
// global level; human selects the console format and pretty mode.
func InitTo(w io.Writer, debug bool, human bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	out := w
	if human {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	SetPrettyMode(human)
	SetLogger(zerolog.New(out).With().Timestamp().Logger())
}

// L returns the process logger.
func L() *zerolog.Logger {
	return logger.Load()
}

// WithPhase returns a child of the process logger with the phase field set.
func WithPhase(phase string) zerolog.Logger {
	return L().With().Str("phase", phase).Logger()
}

// SetLogger replaces the process logger.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// SetPrettyMode toggles human-readable companion fields.
func SetPrettyMode(on bool) {
	prettyMode.Store(on)
}

// IsPrettyMode reports whether human-readable companion fields are emitted.
func IsPrettyMode() bool {
	return prettyMode.Load()
}
