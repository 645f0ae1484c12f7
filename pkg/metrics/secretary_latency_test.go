package metrics

import (
	"testing"
	"time"
)

func TestWindowPercentiles(t *testing.T) {
	w := NewWindow(100)
	for i := 1; i <= 100; i++ {
		w.Record(time.Duration(i) * time.Millisecond)
	}
	s := w.Stats()
	if s.Count != 100 || s.Max != 100*time.Millisecond {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.P50 != 50*time.Millisecond || s.P95 != 95*time.Millisecond {
		t.Errorf("unexpected percentiles p50=%v p95=%v", s.P50, s.P95)
	}
}

func TestWindowOverwritesOldest(t *testing.T) {
	w := NewWindow(3)
	for _, ms := range []int{900, 1, 2, 3} {
		w.Record(time.Duration(ms) * time.Millisecond)
	}
	s := w.Stats()
	if s.Max != 3*time.Millisecond {
		t.Errorf("oldest sample should be gone, max=%v", s.Max)
	}
	if s.Count != 4 {
		t.Errorf("count tracks every record, got %d", s.Count)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(10)
	r.Record("document.ocr", time.Second)
	r.Record("email.process", 20*time.Millisecond)
	r.Record("email.process", 40*time.Millisecond)

	snap := r.Snapshot()
	if len(snap) != 2 || snap["email.process"].Count != 2 || snap["document.ocr"].Max != time.Second {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if (&Window{samples: make([]time.Duration, 1)}).Stats() != (LatencyStats{}) {
		t.Error("empty window should report zero stats")
	}
}
