package memdiag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTracker_Disabled(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker(false, zerolog.New(&buf))
	tr.SetPhase("extract")
	tr.Snapshot("batch_flush", 2000)

	if buf.Len() != 0 {
		t.Errorf("disabled tracker logged: %s", buf.String())
	}
	if tr.Samples() != 0 {
		t.Errorf("Samples() = %d, want 0", tr.Samples())
	}
}

func TestTracker_PeakHeap(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracker(true, zerolog.New(&buf).Level(zerolog.DebugLevel))

	heaps := []uint64{10 << 20, 30 << 20, 20 << 20}
	i := 0
	tr.read = func() Stats {
		s := Stats{HeapAlloc: heaps[i]}
		i++
		return s
	}

	tr.SetPhase("extract")
	tr.Snapshot("batch_flush", 2000)
	tr.Snapshot("batch_flush", 4000)

	if got := tr.PeakHeap(); got != 30<<20 {
		t.Errorf("PeakHeap() = %d, want %d", got, 30<<20)
	}
	if tr.Samples() != 3 {
		t.Errorf("Samples() = %d, want 3", tr.Samples())
	}

	out := buf.String()
	if !strings.Contains(out, `"phase":"extract"`) {
		t.Errorf("expected phase in output, got: %s", out)
	}
	if !strings.Contains(out, `"rows":4000`) {
		t.Errorf("expected rows in output, got: %s", out)
	}
	if !strings.Contains(out, `"peak_heap":"30.0MB"`) {
		t.Errorf("expected peak heap in output, got: %s", out)
	}
}

func TestFormatMB(t *testing.T) {
	if got := FormatMB(1536 * 1024); got != "1.5MB" {
		t.Errorf("FormatMB = %q, want 1.5MB", got)
	}
}
