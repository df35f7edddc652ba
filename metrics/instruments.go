package metrics

import (
	"math"
	"sort"
	"time"
)

// Counter is a monotonically non-decreasing value. Negative deltas are
// ignored rather than applied.
type Counter struct{ f *family }

// Inc adds one to the series selected by labelValues.
func (c *Counter) Inc(labelValues ...string) { c.Add(1, labelValues...) }

// Add adds delta (ignored when <= 0).
func (c *Counter) Add(delta float64, labelValues ...string) {
	s := c.f.seriesFor(labelValues)
	if delta <= 0 {
		return
	}
	c.f.mu.Lock()
	s.value += delta
	c.f.mu.Unlock()
}

// Value returns the current value of the selected series.
func (c *Counter) Value(labelValues ...string) float64 {
	s := c.f.seriesFor(labelValues)
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return s.value
}

// Gauge is an arbitrary float value.
type Gauge struct{ f *family }

// Set stores v.
func (g *Gauge) Set(v float64, labelValues ...string) {
	s := g.f.seriesFor(labelValues)
	g.f.mu.Lock()
	s.value = v
	g.f.mu.Unlock()
}

// Add applies a delta (may be negative).
func (g *Gauge) Add(delta float64, labelValues ...string) {
	s := g.f.seriesFor(labelValues)
	g.f.mu.Lock()
	s.value += delta
	g.f.mu.Unlock()
}

// Inc adds one.
func (g *Gauge) Inc(labelValues ...string) { g.Add(1, labelValues...) }

// Dec subtracts one.
func (g *Gauge) Dec(labelValues ...string) { g.Add(-1, labelValues...) }

// Value returns the current value of the selected series.
func (g *Gauge) Value(labelValues ...string) float64 {
	s := g.f.seriesFor(labelValues)
	g.f.mu.Lock()
	defer g.f.mu.Unlock()
	return s.value
}

// Histogram accumulates observations into cumulative buckets.
type Histogram struct{ f *family }

// Observe records x: every bucket whose upper bound is >= x is
// incremented, sum grows by x and count by one, all under one lock so
// bucket counts, sum and count stay consistent.
func (h *Histogram) Observe(x float64, labelValues ...string) {
	s := h.f.seriesFor(labelValues)
	h.f.mu.Lock()
	for i, ub := range h.f.buckets {
		if ub >= x {
			s.bucketCounts[i]++
		}
	}
	s.sum += x
	s.count++
	h.f.mu.Unlock()
}

// Buckets returns the configured upper bounds.
func (h *Histogram) Buckets() []float64 { return append([]float64(nil), h.f.buckets...) }

// Snapshot returns bucket counts, sum and count for the selected series.
func (h *Histogram) Snapshot(labelValues ...string) (buckets []uint64, sum float64, count uint64) {
	s := h.f.seriesFor(labelValues)
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return append([]uint64(nil), s.bucketCounts...), s.sum, s.count
}

// Summary keeps a sliding window of recent samples and reports
// quantiles over it.
type Summary struct{ f *family }

// DefaultQuantiles are the quantiles included in exports.
var DefaultQuantiles = []float64{0.5, 0.9, 0.99}

// Observe appends x to the window, discarding the oldest sample once
// the window holds 1024 entries.
func (s *Summary) Observe(x float64, labelValues ...string) {
	se := s.f.seriesFor(labelValues)
	s.f.mu.Lock()
	se.window = append(se.window, x)
	if len(se.window) > summaryWindow {
		se.window = se.window[len(se.window)-summaryWindow:]
	}
	se.sum += x
	se.count++
	s.f.mu.Unlock()
}

// Quantiles computes the requested quantiles over the current window.
// An empty window yields an empty map.
func (s *Summary) Quantiles(qs []float64, labelValues ...string) map[float64]float64 {
	se := s.f.seriesFor(labelValues)
	s.f.mu.Lock()
	window := append([]float64(nil), se.window...)
	s.f.mu.Unlock()
	return quantilesOf(window, qs)
}

func quantilesOf(window []float64, qs []float64) map[float64]float64 {
	out := make(map[float64]float64, len(qs))
	if len(window) == 0 {
		return out
	}
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	n := len(sorted)
	for _, q := range qs {
		idx := int(math.Floor(q*float64(n-1) + 0.5))
		if idx < 0 {
			idx = 0
		}
		if idx > n-1 {
			idx = n - 1
		}
		out[q] = sorted[idx]
	}
	return out
}

// Timer is a histogram over elapsed seconds.
type Timer struct{ f *family }

// StopWatch is one running measurement started by Timer.Start.
type StopWatch struct {
	t           *Timer
	start       time.Time
	labelValues []string
}

// Start begins a measurement for the selected series.
func (t *Timer) Start(labelValues ...string) *StopWatch {
	// Resolve now so an arity mistake surfaces at Start, not at Stop.
	t.f.seriesFor(labelValues)
	return &StopWatch{t: t, start: time.Now(), labelValues: labelValues}
}

// Stop records the elapsed time and returns it in seconds.
func (sw *StopWatch) Stop() float64 {
	elapsed := time.Since(sw.start).Seconds()
	sw.t.Observe(elapsed, sw.labelValues...)
	return elapsed
}

// Observe records an elapsed duration in seconds directly.
func (t *Timer) Observe(seconds float64, labelValues ...string) {
	s := t.f.seriesFor(labelValues)
	t.f.mu.Lock()
	for i, ub := range t.f.buckets {
		if ub >= seconds {
			s.bucketCounts[i]++
		}
	}
	s.sum += seconds
	s.count++
	t.f.mu.Unlock()
}

// Time runs fn and records its duration.
func (t *Timer) Time(fn func(), labelValues ...string) {
	sw := t.Start(labelValues...)
	fn()
	sw.Stop()
}

// Snapshot returns total observations and accumulated seconds.
func (t *Timer) Snapshot(labelValues ...string) (count uint64, totalSeconds float64) {
	s := t.f.seriesFor(labelValues)
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	return s.count, s.sum
}
