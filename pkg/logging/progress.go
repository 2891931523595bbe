package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/zonal-extract/pkg/humanfmt"
)

// ProgressTracker tracks progress through a stream of items with ETA
// calculation. Items are recorded in batches. It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	startTime time.Time
	log       zerolog.Logger
	phase     string

	// For moving average of per-item durations
	mu          sync.Mutex
	recentItems []time.Duration
	maxRecent   int
}

// NewProgressTracker creates a new progress tracker. A total of zero means
// the item count is unknown.
func NewProgressTracker(phase string, total int64, log zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		total:       total,
		startTime:   time.Now(),
		log:         log,
		phase:       phase,
		recentItems: make([]time.Duration, 0, 10),
		maxRecent:   10,
	}
}

// RecordBatch records that n items completed over d.
func (pt *ProgressTracker) RecordBatch(n int64, d time.Duration) {
	if n <= 0 {
		return
	}
	pt.completed.Add(n)

	pt.mu.Lock()
	if len(pt.recentItems) >= pt.maxRecent {
		pt.recentItems = pt.recentItems[1:]
	}
	pt.recentItems = append(pt.recentItems, d/time.Duration(n))
	pt.mu.Unlock()
}

// Progress returns current progress stats.
func (pt *ProgressTracker) Progress() (completed, total int64) {
	return pt.completed.Load(), pt.total
}

// ProgressPct returns the progress percentage (0-100), or 0 when the total
// is unknown.
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total == 0 {
		return 0
	}
	return float64(pt.completed.Load()) * 100.0 / float64(pt.total)
}

// ETA returns the estimated time remaining based on the recent per-item rate.
func (pt *ProgressTracker) ETA() time.Duration {
	completed := pt.completed.Load()
	if completed == 0 || pt.total == 0 {
		return 0
	}

	remaining := pt.total - completed
	if remaining <= 0 {
		return 0
	}

	// Use moving average if available, else overall average
	pt.mu.Lock()
	var perItem time.Duration
	if len(pt.recentItems) > 0 {
		var sum time.Duration
		for _, d := range pt.recentItems {
			sum += d
		}
		perItem = sum / time.Duration(len(pt.recentItems))
	} else {
		perItem = time.Since(pt.startTime) / time.Duration(completed)
	}
	pt.mu.Unlock()

	return perItem * time.Duration(remaining)
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// Remaining returns how many items are remaining, or 0 when the total is
// unknown.
func (pt *ProgressTracker) Remaining() int64 {
	if pt.total == 0 {
		return 0
	}
	return max(pt.total-pt.completed.Load(), 0)
}

// Completed returns the completed count.
func (pt *ProgressTracker) Completed() int64 {
	return pt.completed.Load()
}

// Total returns the total count.
func (pt *ProgressTracker) Total() int64 {
	return pt.total
}

// Log emits a progress event carrying the tracker's counts, rate and ETA.
func (pt *ProgressTracker) Log(msg string) {
	NewCompletionEvent(pt.log, "progress", pt.phase, pt.Elapsed()).
		ProgressFromTracker(pt).
		Rate(pt.Completed()).
		Log(msg)
}

// CompletionEvent helps build consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int64 adds an int64 field.
func (ce *CompletionEvent) Int64(key string, val int64) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds byte count with optional human-readable companion.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// Count adds count with optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// ProgressFromTracker adds progress fields from a ProgressTracker.
func (ce *CompletionEvent) ProgressFromTracker(pt *ProgressTracker) *CompletionEvent {
	completed, total := pt.Progress()
	ce.fields["completed"] = completed
	if total > 0 {
		ce.fields["total"] = total
		ce.fields["progress_pct"] = float64(completed) * 100.0 / float64(total)
		if IsPrettyMode() {
			ce.fields["progress_h"] = humanfmt.Count(completed) + "/" + humanfmt.Count(total)
		}
	}
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Rate adds an items-per-second field.
func (ce *CompletionEvent) Rate(items int64) *CompletionEvent {
	if ce.elapsed > 0 {
		ce.fields["items_per_sec"] = float64(items) / ce.elapsed.Seconds()
		if IsPrettyMode() {
			ce.fields["rate_h"] = humanfmt.Rate(items, ce.elapsed)
		}
	}
	return ce
}

// Throughput adds throughput fields.
func (ce *CompletionEvent) Throughput(bytes int64) *CompletionEvent {
	if ce.elapsed > 0 {
		bps := float64(bytes) / ce.elapsed.Seconds()
		ce.fields["throughput_bps"] = bps
		if IsPrettyMode() {
			ce.fields["throughput_h"] = humanfmt.Throughput(bytes, ce.elapsed)
		}
	}
	return ce
}

// Log emits the completion event.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PhaseComplete logs a phase completion event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// BatchComplete logs a batch flush completion event.
func BatchComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "batch_completed", phase, elapsed)
}

// FileCreated logs a file creation completion event.
func FileCreated(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "file_created", phase, elapsed)
}

// TransferComplete logs an object storage transfer completion event.
func TransferComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "transfer_completed", phase, elapsed)
}
