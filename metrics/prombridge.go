package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromBridge exposes a Registry to a prometheus/client_golang registry
// as an unchecked collector producing const metrics at scrape time.
// It lets embedders that already run a Prometheus exposition pipeline
// scrape this registry without double bookkeeping.
type PromBridge struct {
	registry *Registry
	reg      *prom.Registry
}

// NewPromBridge wraps r. When target is nil a fresh prometheus
// registry is created.
func NewPromBridge(r *Registry, target *prom.Registry) (*PromBridge, error) {
	if target == nil {
		target = prom.NewRegistry()
	}
	b := &PromBridge{registry: r, reg: target}
	if err := target.Register(b); err != nil {
		return nil, err
	}
	return b, nil
}

// PromRegistry returns the underlying prometheus registry.
func (b *PromBridge) PromRegistry() *prom.Registry { return b.reg }

// Handler returns a promhttp scrape handler for the bridged registry.
func (b *PromBridge) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{})
}

// Describe intentionally sends nothing: the metric set is dynamic, so
// the bridge registers as an unchecked collector.
func (b *PromBridge) Describe(chan<- *prom.Desc) {}

// Collect converts the current registry state into const metrics.
func (b *PromBridge) Collect(ch chan<- prom.Metric) {
	for _, name := range b.registry.Names() {
		b.registry.mu.RLock()
		f := b.registry.metrics[name]
		b.registry.mu.RUnlock()
		if f == nil {
			continue
		}
		desc := prom.NewDesc(name, "", f.labelNames, nil)
		for _, s := range f.snapshot() {
			var m prom.Metric
			var err error
			switch f.kind {
			case KindCounter:
				m, err = prom.NewConstMetric(desc, prom.CounterValue, s.value, s.labelValues...)
			case KindGauge:
				m, err = prom.NewConstMetric(desc, prom.GaugeValue, s.value, s.labelValues...)
			case KindHistogram, KindTimer:
				buckets := make(map[float64]uint64, len(f.buckets))
				for i, ub := range f.buckets {
					buckets[ub] = s.bucketCounts[i]
				}
				m, err = prom.NewConstHistogram(desc, s.count, s.sum, buckets, s.labelValues...)
			case KindSummary:
				m, err = prom.NewConstSummary(desc, s.count, s.sum, quantilesOf(s.window, DefaultQuantiles), s.labelValues...)
			}
			if err == nil && m != nil {
				ch <- m
			}
		}
	}
}
