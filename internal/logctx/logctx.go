// Package logctx carries a run-scoped logger through context.Context.
//
// A run attaches its identifier once at the top and every stage below logs
// through the context, so all events of one extraction share a run_id:
//
//	ctx, runID := logctx.WithRunID(ctx)
//	log := logctx.FromContext(ctx)
//
//	// Narrow the logger for a sub-step:
//	ctx = logctx.WithStr(ctx, "input", path)
package logctx

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eunmann/zonal-extract/pkg/logging"
)

// RunIDKey is the log field holding the run identifier.
const RunIDKey = "run_id"

type loggerKey struct{}

type runIDKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the context's logger, falling back to the process
// logger from pkg/logging when ctx is nil or carries none.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithRunID tags ctx and its logger with a fresh run identifier. An
// identifier already present on ctx is kept.
func WithRunID(ctx context.Context) (context.Context, string) {
	if id := RunID(ctx); id != "" {
		return ctx, id
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	ctx = context.WithValue(ctx, runIDKey{}, id)
	return WithStr(ctx, RunIDKey, id), id
}

// RunID returns the run identifier on ctx, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithField returns a new context whose logger has key set to value.
func WithField(ctx context.Context, key string, value any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Interface(key, value).Logger())
}

// WithStr returns a new context whose logger has the string field set.
func WithStr(ctx context.Context, key, value string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Str(key, value).Logger())
}

// WithInt returns a new context whose logger has the int field set.
func WithInt(ctx context.Context, key string, value int) context.Context {
	return WithLogger(ctx, FromContext(ctx).With().Int(key, value).Logger())
}
