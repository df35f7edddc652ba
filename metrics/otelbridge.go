package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelBridge re-publishes registry observations onto an OpenTelemetry
// meter, for embedders whose metric pipeline is OTLP rather than
// Prometheus scrape. Instruments are created lazily per metric name;
// observations must be routed through the bridge's Record* helpers.
type OTelBridge struct {
	provider *sdkmetric.MeterProvider
	meter    otelmetric.Meter

	mu         sync.Mutex
	counters   map[string]otelmetric.Float64Counter
	gauges     map[string]otelmetric.Float64Gauge
	histograms map[string]otelmetric.Float64Histogram
}

// NewOTelBridge builds a bridge with a zero-config SDK meter provider.
// Callers wanting exporters or views can pass their own provider.
func NewOTelBridge(provider *sdkmetric.MeterProvider) *OTelBridge {
	if provider == nil {
		provider = sdkmetric.NewMeterProvider()
	}
	return &OTelBridge{
		provider:   provider,
		meter:      provider.Meter("aspect"),
		counters:   make(map[string]otelmetric.Float64Counter),
		gauges:     make(map[string]otelmetric.Float64Gauge),
		histograms: make(map[string]otelmetric.Float64Histogram),
	}
}

// MeterProvider returns the underlying SDK provider, for exporter wiring.
func (b *OTelBridge) MeterProvider() *sdkmetric.MeterProvider { return b.provider }

// RecordCounter mirrors a counter increment.
func (b *OTelBridge) RecordCounter(name string, delta float64, labels map[string]string) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	inst, ok := b.counters[name]
	if !ok {
		created, err := b.meter.Float64Counter(name)
		if err != nil {
			b.mu.Unlock()
			return
		}
		inst = created
		b.counters[name] = inst
	}
	b.mu.Unlock()
	inst.Add(context.Background(), delta, otelmetric.WithAttributes(toAttributes(labels)...))
}

// RecordGauge mirrors a gauge set.
func (b *OTelBridge) RecordGauge(name string, v float64, labels map[string]string) {
	b.mu.Lock()
	inst, ok := b.gauges[name]
	if !ok {
		created, err := b.meter.Float64Gauge(name)
		if err != nil {
			b.mu.Unlock()
			return
		}
		inst = created
		b.gauges[name] = inst
	}
	b.mu.Unlock()
	inst.Record(context.Background(), v, otelmetric.WithAttributes(toAttributes(labels)...))
}

// RecordHistogram mirrors a histogram observation.
func (b *OTelBridge) RecordHistogram(name string, v float64, labels map[string]string) {
	b.mu.Lock()
	inst, ok := b.histograms[name]
	if !ok {
		created, err := b.meter.Float64Histogram(name)
		if err != nil {
			b.mu.Unlock()
			return
		}
		inst = created
		b.histograms[name] = inst
	}
	b.mu.Unlock()
	inst.Record(context.Background(), v, otelmetric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}
