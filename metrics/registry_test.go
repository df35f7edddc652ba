package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("same_kind_returns_existing_metric", func(t *testing.T) {
		r := NewRegistry()
		c1, err := r.Counter("requests_total", "method")
		require.NoError(t, err)
		c1.Add(3, "GET")

		c2, err := r.Counter("requests_total", "method")
		require.NoError(t, err)
		assert.Equal(t, 3.0, c2.Value("GET"))
	})

	t.Run("kind_conflict_fails", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Counter("latency")
		require.NoError(t, err)

		_, err = r.Gauge("latency")
		require.ErrorIs(t, err, ErrTypeConflict)
	})

	t.Run("invalid_name_rejected", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Counter("9starts_with_digit")
		require.ErrorIs(t, err, ErrInvalidName)

		_, err = r.Gauge("has-dash")
		require.ErrorIs(t, err, ErrInvalidName)

		_, err = r.Counter("_ok_name")
		assert.NoError(t, err)
	})

	t.Run("label_arity_mismatch_panics", func(t *testing.T) {
		r := NewRegistry()
		c, err := r.Counter("labeled_total", "a", "b")
		require.NoError(t, err)

		assert.Panics(t, func() { c.Inc("only_one") })
		assert.Panics(t, func() { c.Inc() })
		assert.NotPanics(t, func() { c.Inc("x", "y") })
	})

	t.Run("counter_is_monotonic", func(t *testing.T) {
		r := NewRegistry()
		c, err := r.Counter("ops_total")
		require.NoError(t, err)

		c.Inc()
		c.Add(2.5)
		c.Add(-10) // ignored
		assert.Equal(t, 3.5, c.Value())
	})

	t.Run("gauge_moves_both_ways", func(t *testing.T) {
		r := NewRegistry()
		g, err := r.Gauge("temperature")
		require.NoError(t, err)

		g.Set(20)
		g.Add(5)
		g.Dec()
		assert.Equal(t, 24.0, g.Value())
	})

	t.Run("concurrent_counter_updates", func(t *testing.T) {
		r := NewRegistry()
		c, err := r.Counter("concurrent_total")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 1000; j++ {
					c.Inc()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 8000.0, c.Value())
	})
}

func TestHistogram(t *testing.T) {
	t.Run("observation_updates_matching_buckets", func(t *testing.T) {
		r := NewRegistry()
		h, err := r.Histogram("h", []float64{1, 5, 10})
		require.NoError(t, err)

		h.Observe(0.5)
		h.Observe(3)
		h.Observe(7)

		buckets, sum, count := h.Snapshot()
		assert.Equal(t, []uint64{1, 2, 3}, buckets)
		assert.Equal(t, 10.5, sum)
		assert.Equal(t, uint64(3), count)
	})

	t.Run("default_buckets_applied", func(t *testing.T) {
		r := NewRegistry()
		h, err := r.Histogram("defaulted", nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultBuckets, h.Buckets())
	})

	t.Run("unsorted_buckets_are_sorted", func(t *testing.T) {
		r := NewRegistry()
		h, err := r.Histogram("sorted", []float64{10, 1, 5})
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 5, 10}, h.Buckets())
	})
}

func TestSummary(t *testing.T) {
	t.Run("quantiles_over_window", func(t *testing.T) {
		r := NewRegistry()
		s, err := r.Summary("latency_summary")
		require.NoError(t, err)

		for i := 1; i <= 100; i++ {
			s.Observe(float64(i))
		}
		qs := s.Quantiles([]float64{0, 0.5, 1})
		assert.Equal(t, 1.0, qs[0])
		assert.Equal(t, 51.0, qs[0.5]) // floor(0.5*99+0.5) = 50 -> value 51
		assert.Equal(t, 100.0, qs[1])
	})

	t.Run("empty_summary_returns_empty_map", func(t *testing.T) {
		r := NewRegistry()
		s, err := r.Summary("empty_summary")
		require.NoError(t, err)
		assert.Empty(t, s.Quantiles([]float64{0.5, 0.99}))
	})

	t.Run("window_is_bounded", func(t *testing.T) {
		r := NewRegistry()
		s, err := r.Summary("bounded_summary")
		require.NoError(t, err)

		for i := 0; i < summaryWindow+500; i++ {
			s.Observe(float64(i))
		}
		// Oldest 500 samples fell out of the window; the minimum the
		// quantile query can see is sample 500.
		qs := s.Quantiles([]float64{0})
		assert.Equal(t, 500.0, qs[0])
	})
}

func TestTimer(t *testing.T) {
	t.Run("stop_records_elapsed_seconds", func(t *testing.T) {
		r := NewRegistry()
		tm, err := r.Timer("op_duration")
		require.NoError(t, err)

		sw := tm.Start()
		elapsed := sw.Stop()
		assert.GreaterOrEqual(t, elapsed, 0.0)

		count, total := tm.Snapshot()
		assert.Equal(t, uint64(1), count)
		assert.GreaterOrEqual(t, total, elapsed)
	})

	t.Run("time_wraps_a_function", func(t *testing.T) {
		r := NewRegistry()
		tm, err := r.Timer("fn_duration")
		require.NoError(t, err)

		ran := false
		tm.Time(func() { ran = true })
		assert.True(t, ran)

		count, _ := tm.Snapshot()
		assert.Equal(t, uint64(1), count)
	})
}

func TestExportPrometheus(t *testing.T) {
	t.Run("histogram_series", func(t *testing.T) {
		r := NewRegistry()
		h, err := r.Histogram("h", []float64{1, 5, 10})
		require.NoError(t, err)
		h.Observe(0.5)
		h.Observe(3)
		h.Observe(7)

		out := r.ExportPrometheus()
		assert.Contains(t, out, `h_bucket{le="1"} 1`)
		assert.Contains(t, out, `h_bucket{le="5"} 2`)
		assert.Contains(t, out, `h_bucket{le="10"} 3`)
		assert.Contains(t, out, `h_bucket{le="+Inf"} 3`)
		assert.Contains(t, out, "h_sum 10.5")
		assert.Contains(t, out, "h_count 3")
	})

	t.Run("labeled_series_and_escaping", func(t *testing.T) {
		r := NewRegistry()
		c, err := r.Counter("hits_total", "path")
		require.NoError(t, err)
		c.Add(2, `a"b\c`)

		out := r.ExportPrometheus()
		assert.Contains(t, out, `hits_total{path="a\"b\\c"} 2`)
	})

	t.Run("summary_series", func(t *testing.T) {
		r := NewRegistry()
		s, err := r.Summary("s")
		require.NoError(t, err)
		for i := 1; i <= 10; i++ {
			s.Observe(float64(i))
		}

		out := r.ExportPrometheus()
		assert.Contains(t, out, `s{quantile="0.5"}`)
		assert.Contains(t, out, `s{quantile="0.99"}`)
		assert.Contains(t, out, "s_sum 55")
		assert.Contains(t, out, "s_count 10")
	})
}

func TestExportJSON(t *testing.T) {
	r := NewRegistry()
	c, err := r.Counter("visits_total", "page")
	require.NoError(t, err)
	c.Add(4, "home")

	h, err := r.Histogram("sizes", []float64{10, 100})
	require.NoError(t, err)
	h.Observe(42)

	out := r.ExportJSON()
	require.Contains(t, out, "visits_total")
	cm := out["visits_total"]
	assert.Equal(t, KindCounter, cm.Kind)
	assert.Equal(t, []string{"page"}, cm.Labels)
	require.Len(t, cm.Series, 1)
	assert.Equal(t, "home", cm.Series[0].Labels["page"])
	require.NotNil(t, cm.Series[0].Value)
	assert.Equal(t, 4.0, *cm.Series[0].Value)

	hm := out["sizes"]
	assert.Equal(t, KindHistogram, hm.Kind)
	require.Len(t, hm.Series, 1)
	assert.Equal(t, uint64(0), hm.Series[0].Buckets["10"])
	assert.Equal(t, uint64(1), hm.Series[0].Buckets["100"])
	assert.Equal(t, uint64(1), hm.Series[0].Buckets["+Inf"])
}

func TestExportGraphite(t *testing.T) {
	r := NewRegistry()
	g, err := r.Gauge("queue_depth", "shard")
	require.NoError(t, err)
	g.Set(12, "a")

	out := r.ExportGraphite()
	require.NotEmpty(t, out)
	line := strings.SplitN(strings.TrimSpace(out), "\n", 2)[0]
	fields := strings.Fields(line)
	require.Len(t, fields, 3)
	assert.Equal(t, "queue_depth.shard=a", fields[0])
	assert.Equal(t, "12", fields[1])
}
