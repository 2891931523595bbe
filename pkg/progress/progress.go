// Package progress counts processed features and reports the running count
// to an observer at fixed intervals.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/zonal-extract/pkg/logging"
)

// DefaultThreshold is the default reporting interval.
const DefaultThreshold = 1000

// Observer receives progress counts. Implementations must not fail the run;
// reporting is best effort.
type Observer interface {
	Progress(count int64)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(count int64)

func (f ObserverFunc) Progress(count int64) { f(count) }

// Reporter emits the running count every threshold ticks and once more when
// the stream ends, unless that count was just reported.
type Reporter struct {
	threshold int64
	obs       Observer
	count     int64
	last      int64
}

// NewReporter returns a reporter. A threshold <= 0 or a nil observer
// disables reporting; counting still happens.
func NewReporter(threshold int, obs Observer) *Reporter {
	return &Reporter{threshold: int64(threshold), obs: obs}
}

// Enabled reports whether counts are emitted.
func (r *Reporter) Enabled() bool { return r.threshold > 0 && r.obs != nil }

// Tick counts one processed feature.
func (r *Reporter) Tick() {
	r.count++
	if r.Enabled() && r.count%r.threshold == 0 {
		r.emit()
	}
}

// Done signals the end of the stream. pending reports whether a final
// partial batch was written; only then is the final count emitted.
func (r *Reporter) Done(pending bool) {
	if pending && r.Enabled() && r.count != r.last {
		r.emit()
	}
}

// Count returns the number of ticks so far.
func (r *Reporter) Count() int64 { return r.count }

func (r *Reporter) emit() {
	r.last = r.count
	r.obs.Progress(r.count)
}

// WriterObserver writes each count as a bare integer line.
func WriterObserver(w io.Writer) Observer {
	return ObserverFunc(func(count int64) {
		_, _ = fmt.Fprintln(w, count)
	})
}

// LogObserver logs each count as a progress event with rate and ETA.
// total may be zero when the feature count is unknown.
type LogObserver struct {
	log     zerolog.Logger
	tracker *logging.ProgressTracker
	prev    int64
	prevAt  time.Time
}

// NewLogObserver returns an observer logging to log.
func NewLogObserver(log zerolog.Logger, phase string, total int64) *LogObserver {
	return &LogObserver{
		log:     log,
		tracker: logging.NewProgressTracker(phase, total, log),
		prevAt:  time.Now(),
	}
}

func (o *LogObserver) Progress(count int64) {
	now := time.Now()
	o.tracker.RecordBatch(count-o.prev, now.Sub(o.prevAt))
	o.prev, o.prevAt = count, now
	o.tracker.Log("features processed")
}

// Multi fans counts out to several observers.
func Multi(obs ...Observer) Observer {
	return ObserverFunc(func(count int64) {
		for _, o := range obs {
			o.Progress(count)
		}
	})
}
