package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromBridge(t *testing.T) {
	t.Run("gather_reflects_registry_state", func(t *testing.T) {
		r := NewRegistry()
		c, err := r.Counter("bridge_ops_total", "op")
		require.NoError(t, err)
		c.Add(7, "put")

		h, err := r.Histogram("bridge_latency", []float64{0.1, 1})
		require.NoError(t, err)
		h.Observe(0.05)

		bridge, err := NewPromBridge(r, nil)
		require.NoError(t, err)

		families, err := bridge.PromRegistry().Gather()
		require.NoError(t, err)

		byName := map[string]bool{}
		for _, mf := range families {
			byName[mf.GetName()] = true
		}
		assert.True(t, byName["bridge_ops_total"])
		assert.True(t, byName["bridge_latency"])
	})

	t.Run("scrape_handler_serves_text", func(t *testing.T) {
		r := NewRegistry()
		g, err := r.Gauge("bridge_gauge")
		require.NoError(t, err)
		g.Set(3)

		bridge, err := NewPromBridge(r, nil)
		require.NoError(t, err)

		srv := httptest.NewServer(bridge.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestOTelBridge(t *testing.T) {
	t.Run("record_helpers_do_not_error", func(t *testing.T) {
		b := NewOTelBridge(nil)
		require.NotNil(t, b.MeterProvider())

		b.RecordCounter("otel_ops_total", 1, map[string]string{"op": "get"})
		b.RecordGauge("otel_depth", 4, nil)
		b.RecordHistogram("otel_latency", 0.2, nil)
		// Re-recording reuses cached instruments.
		b.RecordCounter("otel_ops_total", 2, nil)
	})
}
