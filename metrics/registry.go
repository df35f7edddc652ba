// Package metrics implements a self-contained metrics registry with
// counters, gauges, histograms, summaries and timers, multi-format
// export (Prometheus text, JSON, Graphite) and optional bridges into
// prometheus/client_golang and OpenTelemetry.
package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind identifies the behavior of a registered metric.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindSummary   Kind = "summary"
	KindTimer     Kind = "timer"
)

var (
	// ErrTypeConflict is returned when a name is re-registered with a
	// different kind.
	ErrTypeConflict = errors.New("metrics: name already registered with different kind")
	// ErrInvalidName is returned for names outside [A-Za-z_][A-Za-z0-9_]*.
	ErrInvalidName = errors.New("metrics: invalid metric name")
)

var nameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultBuckets are the histogram upper bounds used when none are given.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Registry holds named metrics. All methods are safe for concurrent use.
// A zero Registry is not usable; construct with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*family
	now     func() time.Time
}

// family is one registered name: its kind, label schema and series map.
type family struct {
	name       string
	kind       Kind
	labelNames []string
	buckets    []float64 // histogram/timer only

	mu     sync.Mutex
	series map[string]*series
}

// series is the per-label-tuple state of a family.
type series struct {
	labelValues []string

	value float64 // counter, gauge

	bucketCounts []uint64 // histogram/timer, cumulative per upper bound
	sum          float64
	count        uint64

	window []float64 // summary sliding window, insertion order
}

const summaryWindow = 1024

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*family), now: time.Now}
}

// register returns the family for name, creating it when absent.
// Re-registering an existing name with the same kind returns the
// existing family; a different kind fails with ErrTypeConflict.
func (r *Registry) register(name string, kind Kind, labelNames []string, buckets []float64) (*family, error) {
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.metrics[name]; ok {
		if f.kind != kind {
			return nil, fmt.Errorf("%w: %s is %s, requested %s", ErrTypeConflict, name, f.kind, kind)
		}
		return f, nil
	}
	f := &family{
		name:       name,
		kind:       kind,
		labelNames: append([]string(nil), labelNames...),
		buckets:    buckets,
		series:     make(map[string]*series),
	}
	r.metrics[name] = f
	return f, nil
}

// Counter registers (or looks up) a counter.
func (r *Registry) Counter(name string, labelNames ...string) (*Counter, error) {
	f, err := r.register(name, KindCounter, labelNames, nil)
	if err != nil {
		return nil, err
	}
	return &Counter{f: f}, nil
}

// Gauge registers (or looks up) a gauge.
func (r *Registry) Gauge(name string, labelNames ...string) (*Gauge, error) {
	f, err := r.register(name, KindGauge, labelNames, nil)
	if err != nil {
		return nil, err
	}
	return &Gauge{f: f}, nil
}

// Histogram registers (or looks up) a histogram. Buckets are upper
// bounds and are sorted ascending; nil buckets select DefaultBuckets.
func (r *Registry) Histogram(name string, buckets []float64, labelNames ...string) (*Histogram, error) {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	bs := append([]float64(nil), buckets...)
	sort.Float64s(bs)
	f, err := r.register(name, KindHistogram, labelNames, bs)
	if err != nil {
		return nil, err
	}
	return &Histogram{f: f}, nil
}

// Summary registers (or looks up) a summary with a sliding window of
// the last 1024 samples per series.
func (r *Registry) Summary(name string, labelNames ...string) (*Summary, error) {
	f, err := r.register(name, KindSummary, labelNames, nil)
	if err != nil {
		return nil, err
	}
	return &Summary{f: f}, nil
}

// Timer registers (or looks up) a timer: a histogram over elapsed
// seconds with Start/Stop convenience.
func (r *Registry) Timer(name string, labelNames ...string) (*Timer, error) {
	bs := append([]float64(nil), DefaultBuckets...)
	f, err := r.register(name, KindTimer, labelNames, bs)
	if err != nil {
		return nil, err
	}
	return &Timer{f: f}, nil
}

// Names returns the registered metric names sorted ascending.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.metrics))
	for n := range r.metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// seriesFor resolves (creating if needed) the series for the given
// label values. The label tuple length must equal the registered label
// arity; a mismatch panics, matching prometheus/client_golang's
// WithLabelValues contract for programming errors.
func (f *family) seriesFor(labelValues []string) *series {
	if len(labelValues) != len(f.labelNames) {
		panic(fmt.Sprintf("metrics: %s expects %d label values, got %d", f.name, len(f.labelNames), len(labelValues)))
	}
	key := strings.Join(labelValues, "\xff")
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series{labelValues: append([]string(nil), labelValues...)}
		if f.kind == KindHistogram || f.kind == KindTimer {
			s.bucketCounts = make([]uint64, len(f.buckets))
		}
		f.series[key] = s
	}
	return s
}

// snapshot copies the family's series under its lock, ordered by key.
func (f *family) snapshot() []seriesSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]seriesSnapshot, 0, len(keys))
	for _, k := range keys {
		s := f.series[k]
		ss := seriesSnapshot{
			labelValues: append([]string(nil), s.labelValues...),
			value:       s.value,
			sum:         s.sum,
			count:       s.count,
		}
		if len(s.bucketCounts) > 0 {
			ss.bucketCounts = append([]uint64(nil), s.bucketCounts...)
		}
		if len(s.window) > 0 {
			ss.window = append([]float64(nil), s.window...)
		}
		out = append(out, ss)
	}
	return out
}

type seriesSnapshot struct {
	labelValues  []string
	value        float64
	bucketCounts []uint64
	sum          float64
	count        uint64
	window       []float64
}
