// Package metrics keeps in-process job latency percentiles.
package metrics

import (
	"slices"
	"sync"
	"time"
)

// Window is a fixed-size ring of recent durations.
type Window struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 500
	}
	return &Window{samples: make([]time.Duration, size)}
}

// Record overwrites the oldest sample once the window is full.
func (w *Window) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.count++
}

// LatencyStats summarizes a window.
type LatencyStats struct {
	Count int64         `json:"count"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

func (w *Window) Stats() LatencyStats {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := slices.Clone(w.samples[:n])
	count := w.count
	w.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}
	slices.Sort(sorted)
	return LatencyStats{
		Count: count,
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// Registry holds one window per key (job type).
type Registry struct {
	mu      sync.RWMutex
	windows map[string]*Window
	size    int
}

func NewRegistry(windowSize int) *Registry {
	return &Registry{windows: make(map[string]*Window), size: windowSize}
}

func (r *Registry) Record(key string, d time.Duration) {
	r.mu.RLock()
	w, ok := r.windows[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if w, ok = r.windows[key]; !ok {
			w = NewWindow(r.size)
			r.windows[key] = w
		}
		r.mu.Unlock()
	}
	w.Record(d)
}

// Snapshot returns stats for every key seen so far.
func (r *Registry) Snapshot() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LatencyStats, len(r.windows))
	for key, w := range r.windows {
		out[key] = w.Stats()
	}
	return out
}
