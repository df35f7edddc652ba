package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregation(t *testing.T) {
	t.Run("flushes_at_batch_size_with_combined_message", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "ops"}
		m.AddChannel(ch)
		m.EnableAggregation(AggregationPolicy{Window: time.Hour, GroupBy: []string{"service"}, MaxBatchSize: 3})

		for _, msg := range []string{"first", "second", "third"} {
			n := New("t", msg, SeverityHigh).WithMetadata("service", "api")
			m.SendAggregated(context.Background(), n, []string{"ops"})
		}

		require.Equal(t, 1, ch.deliveredCount())
		combined := ch.delivered[0]
		assert.Equal(t, "3 high in api", combined.Title)
		assert.Equal(t, "first\nsecond\nthird", combined.Message)
		assert.Equal(t, SeverityHigh, combined.Severity)
	})

	t.Run("groups_by_metadata_fields", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "ops"}
		m.AddChannel(ch)
		m.EnableAggregation(AggregationPolicy{Window: time.Hour, GroupBy: []string{"service"}, MaxBatchSize: 2})

		m.SendAggregated(context.Background(), New("t", "a1", SeverityInfo).WithMetadata("service", "api"), []string{"ops"})
		m.SendAggregated(context.Background(), New("t", "d1", SeverityInfo).WithMetadata("service", "db"), []string{"ops"})
		assert.Equal(t, 0, ch.deliveredCount(), "separate groups, neither full")

		m.SendAggregated(context.Background(), New("t", "a2", SeverityInfo).WithMetadata("service", "api"), []string{"ops"})
		require.Equal(t, 1, ch.deliveredCount())
		assert.True(t, strings.HasSuffix(ch.delivered[0].Title, "in api"))
	})

	t.Run("flush_aggregated_emits_all_buckets", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "ops"}
		m.AddChannel(ch)
		m.EnableAggregation(AggregationPolicy{Window: time.Hour, GroupBy: []string{"k"}, MaxBatchSize: 100})

		m.SendAggregated(context.Background(), New("t", "x", SeverityInfo).WithMetadata("k", "a"), []string{"ops"})
		m.SendAggregated(context.Background(), New("t", "y", SeverityInfo).WithMetadata("k", "b"), []string{"ops"})

		m.FlushAggregated()
		assert.Equal(t, 2, ch.deliveredCount())
	})

	t.Run("window_expiry_tick", func(t *testing.T) {
		clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		var mu sync.Mutex
		now := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		}

		m := newTestManager(WithClock(now))
		ch := &recordingChannel{name: "ops"}
		m.AddChannel(ch)
		m.EnableAggregation(AggregationPolicy{Window: time.Minute, MaxBatchSize: 100})

		m.SendAggregated(context.Background(), New("t", "x", SeverityInfo), []string{"ops"})

		m.ProcessAggregated() // window not expired yet
		assert.Equal(t, 0, ch.deliveredCount())

		mu.Lock()
		clock = clock.Add(2 * time.Minute)
		mu.Unlock()
		m.ProcessAggregated()
		assert.Equal(t, 1, ch.deliveredCount())
	})

	t.Run("without_aggregation_degrades_to_send", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "ops"}
		m.AddChannel(ch)

		results := m.SendAggregated(context.Background(), New("t", "m", SeverityInfo), []string{"ops"})
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
	})

	t.Run("severity_uses_highest_in_batch", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "ops"}
		m.AddChannel(ch)
		m.EnableAggregation(AggregationPolicy{Window: time.Hour, MaxBatchSize: 2})

		m.SendAggregated(context.Background(), New("t", "a", SeverityInfo), []string{"ops"})
		m.SendAggregated(context.Background(), New("t", "b", SeverityCritical), []string{"ops"})

		require.Equal(t, 1, ch.deliveredCount())
		assert.Equal(t, SeverityCritical, ch.delivered[0].Severity)
	})
}

func TestScheduling(t *testing.T) {
	clockAt := func(t0 time.Time) (func() time.Time, func(time.Duration)) {
		var mu sync.Mutex
		cur := t0
		return func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				return cur
			}, func(d time.Duration) {
				mu.Lock()
				cur = cur.Add(d)
				mu.Unlock()
			}
	}

	t.Run("dispatches_when_due", func(t *testing.T) {
		now, advance := clockAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
		m := newTestManager(WithClock(now))
		ch := &recordingChannel{name: "later"}
		m.AddChannel(ch)

		m.Schedule(New("t", "m", SeverityInfo), []string{"later"}, time.Minute)
		assert.Equal(t, 1, m.ScheduledCount())

		results := m.ProcessScheduled(context.Background())
		assert.Empty(t, results, "not due yet")

		advance(2 * time.Minute)
		results = m.ProcessScheduled(context.Background())
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
		assert.Equal(t, 0, m.ScheduledCount())
	})

	t.Run("cancel_before_due", func(t *testing.T) {
		now, advance := clockAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
		m := newTestManager(WithClock(now))
		ch := &recordingChannel{name: "later"}
		m.AddChannel(ch)

		id := m.Schedule(New("t", "m", SeverityInfo), []string{"later"}, time.Minute)
		assert.True(t, m.CancelScheduled(id))
		assert.False(t, m.CancelScheduled(id), "second cancel is a no-op")

		advance(2 * time.Minute)
		assert.Empty(t, m.ProcessScheduled(context.Background()))
		assert.Equal(t, 0, ch.deliveredCount())
	})
}

func TestBreakerChannel(t *testing.T) {
	t.Run("opens_after_consecutive_failures", func(t *testing.T) {
		inner := &recordingChannel{name: "fragile", failures: 99}
		br := NewBreakerChannel(inner, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute})

		ctx := context.Background()
		n := New("t", "m", SeverityInfo)
		require.Error(t, br.Send(ctx, n))
		require.Error(t, br.Send(ctx, n))

		err := br.Send(ctx, n)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, gobreaker.StateOpen, br.State())

		// The open circuit fails fast: the inner channel saw only the
		// first two attempts.
		inner.mu.Lock()
		attempts := inner.attempts
		inner.mu.Unlock()
		assert.Equal(t, 2, attempts)
	})

	t.Run("integrates_with_manager_retries", func(t *testing.T) {
		inner := &recordingChannel{name: "fragile", failures: 99}
		br := NewBreakerChannel(inner, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute})

		m := newTestManager()
		m.SetRetryPolicy(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 1})
		m.AddChannel(br)

		results := m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"fragile"})
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Equal(t, 5, results[0].Attempts)

		inner.mu.Lock()
		attempts := inner.attempts
		inner.mu.Unlock()
		assert.Equal(t, 2, attempts, "breaker cut off the remaining retries")
	})
}

func TestHistory(t *testing.T) {
	m := newTestManager()
	m.AddChannel(&recordingChannel{name: "a"})

	m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"a"})
	m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"missing"})

	history := m.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
	assert.False(t, history[1].Success)
}
