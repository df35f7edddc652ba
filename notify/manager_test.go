package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingChannel fails a configurable number of times then succeeds.
type recordingChannel struct {
	name      string
	failures  int
	mu        sync.Mutex
	attempts  int
	delivered []Notification
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.failures {
		return errors.New("transient failure")
	}
	c.delivered = append(c.delivered, n)
	return nil
}

func (c *recordingChannel) deliveredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

// instantSleep makes retry backoff immediate in tests.
func instantSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestManager(opts ...ManagerOption) *Manager {
	return NewManager(append([]ManagerOption{WithSleeper(instantSleep)}, opts...)...)
}

func TestSend(t *testing.T) {
	t.Run("successful_delivery", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "mail"}
		m.AddChannel(ch)

		results := m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"mail"})
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
		assert.Equal(t, 1, results[0].Attempts)
		assert.Equal(t, "mail", results[0].Channel)
		assert.Equal(t, 1, ch.deliveredCount())
	})

	t.Run("retry_until_success", func(t *testing.T) {
		m := newTestManager()
		m.SetRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Multiplier: 2})
		ch := &recordingChannel{name: "flaky", failures: 2}
		m.AddChannel(ch)

		results := m.Send(context.Background(), New("t", "m", SeverityHigh), []string{"flaky"})
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
		assert.Equal(t, 3, results[0].Attempts)
	})

	t.Run("exhausted_retries_fail", func(t *testing.T) {
		m := newTestManager()
		m.SetRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2})
		ch := &recordingChannel{name: "down", failures: 99}
		m.AddChannel(ch)

		results := m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"down"})
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Equal(t, 3, results[0].Attempts)
		assert.Equal(t, "transient failure", results[0].Error)
	})

	t.Run("backoff_delays_grow_geometrically", func(t *testing.T) {
		var delays []time.Duration
		m := NewManager(WithSleeper(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}))
		m.SetRetryPolicy(RetryPolicy{MaxAttempts: 4, InitialDelay: 10 * time.Millisecond, Multiplier: 2})
		m.AddChannel(&recordingChannel{name: "down", failures: 99})

		m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"down"})
		assert.Equal(t, []time.Duration{
			10 * time.Millisecond,
			20 * time.Millisecond,
			40 * time.Millisecond,
		}, delays)
	})

	t.Run("unknown_channel_reports_failure", func(t *testing.T) {
		m := newTestManager()
		results := m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"nope"})
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Equal(t, 0, results[0].Attempts)
		assert.Contains(t, results[0].Error, "unknown channel")
	})

	t.Run("channel_panic_is_a_failed_result", func(t *testing.T) {
		m := newTestManager()
		m.SetRetryPolicy(RetryPolicy{MaxAttempts: 1, InitialDelay: 0, Multiplier: 1})
		m.AddChannel(ChannelFunc{ChannelName: "explosive", SendFunc: func(context.Context, Notification) error {
			panic("boom")
		}})

		results := m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"explosive"})
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Contains(t, results[0].Error, "boom")
	})

	t.Run("failure_on_one_channel_does_not_block_others", func(t *testing.T) {
		m := newTestManager()
		m.SetRetryPolicy(RetryPolicy{MaxAttempts: 1, InitialDelay: 0, Multiplier: 1})
		good := &recordingChannel{name: "good"}
		bad := &recordingChannel{name: "bad", failures: 99}
		m.AddChannel(good)
		m.AddChannel(bad)

		results := m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"bad", "good"})
		require.Len(t, results, 2)
		assert.False(t, results[0].Success)
		assert.True(t, results[1].Success)
	})

	t.Run("distinct_channels_deliver_in_parallel", func(t *testing.T) {
		m := newTestManager()
		var inFlight atomic.Int32
		var peak atomic.Int32
		slow := func(name string) Channel {
			return ChannelFunc{ChannelName: name, SendFunc: func(context.Context, Notification) error {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			}}
		}
		m.AddChannel(slow("a"))
		m.AddChannel(slow("b"))

		m.Send(context.Background(), New("t", "m", SeverityInfo), []string{"a", "b"})
		assert.Equal(t, int32(2), peak.Load())
	})
}

func TestSendRouted(t *testing.T) {
	t.Run("union_of_matching_routes", func(t *testing.T) {
		m := newTestManager()
		a := &recordingChannel{name: "a"}
		b := &recordingChannel{name: "b"}
		c := &recordingChannel{name: "c"}
		m.AddChannel(a)
		m.AddChannel(b)
		m.AddChannel(c)

		m.AddRoute(Route{
			Name:     "critical",
			Filter:   func(n Notification) bool { return n.Severity == SeverityCritical },
			Channels: []string{"a", "b"},
		})
		m.AddRoute(Route{
			Name:     "all",
			Filter:   func(Notification) bool { return true },
			Channels: []string{"b", "c"},
		})

		results := m.SendRouted(context.Background(), New("t", "m", SeverityCritical))
		require.Len(t, results, 3, "b deduplicated across routes")
		assert.Equal(t, 1, a.deliveredCount())
		assert.Equal(t, 1, b.deliveredCount())
		assert.Equal(t, 1, c.deliveredCount())
	})

	t.Run("no_matching_route_sends_nowhere", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "a"}
		m.AddChannel(ch)
		m.AddRoute(Route{
			Name:     "never",
			Filter:   func(Notification) bool { return false },
			Channels: []string{"a"},
		})

		results := m.SendRouted(context.Background(), New("t", "m", SeverityInfo))
		assert.Empty(t, results)
		assert.Equal(t, 0, ch.deliveredCount())
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("denial_without_channel_call", func(t *testing.T) {
		clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		var mu sync.Mutex
		now := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return clock
		}
		advance := func(d time.Duration) {
			mu.Lock()
			clock = clock.Add(d)
			mu.Unlock()
		}

		m := newTestManager(WithClock(now))
		ch := &recordingChannel{name: "limited"}
		m.AddChannel(ch)
		m.SetRateLimit("limited", RateLimit{PerMinute: 2, PerHour: 100})

		n := New("t", "m", SeverityInfo)
		for i := 0; i < 2; i++ {
			results := m.Send(context.Background(), n, []string{"limited"})
			assert.True(t, results[0].Success)
		}

		results := m.Send(context.Background(), n, []string{"limited"})
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Equal(t, 0, results[0].Attempts)
		assert.Equal(t, "rate limit exceeded", results[0].Error)
		assert.Equal(t, 2, ch.deliveredCount(), "denied send never reached the channel")

		// The minute bucket refills after its window.
		advance(61 * time.Second)
		results = m.Send(context.Background(), n, []string{"limited"})
		assert.True(t, results[0].Success)
	})

	t.Run("hour_bucket_also_gates", func(t *testing.T) {
		m := newTestManager()
		ch := &recordingChannel{name: "hourly"}
		m.AddChannel(ch)
		m.SetRateLimit("hourly", RateLimit{PerMinute: 100, PerHour: 1})

		n := New("t", "m", SeverityInfo)
		assert.True(t, m.Send(context.Background(), n, []string{"hourly"})[0].Success)
		assert.False(t, m.Send(context.Background(), n, []string{"hourly"})[0].Success)
	})
}

func TestTemplates(t *testing.T) {
	t.Run("substitution_and_defaults", func(t *testing.T) {
		m := newTestManager()
		m.AddTemplate(Template{
			Name:     "deploy",
			Title:    "Deploy {service} to {env}",
			Message:  "Version {version} rolled out by {who}",
			Severity: SeverityMedium,
		})

		n, err := m.CreateFromTemplate("deploy", map[string]any{
			"service": "api",
			"env":     "prod",
			"version": 42,
		})
		require.NoError(t, err)
		assert.Equal(t, "Deploy api to prod", n.Title)
		assert.Equal(t, "Version 42 rolled out by {who}", n.Message, "unknown vars stay literal")
		assert.Equal(t, SeverityMedium, n.Severity)
	})

	t.Run("severity_override", func(t *testing.T) {
		m := newTestManager()
		m.AddTemplate(Template{Name: "alert", Title: "x", Message: "y", Severity: SeverityInfo})

		n, err := m.CreateFromTemplate("alert", map[string]any{"severity": "critical"})
		require.NoError(t, err)
		assert.Equal(t, SeverityCritical, n.Severity)
	})

	t.Run("unknown_template_fails", func(t *testing.T) {
		m := newTestManager()
		_, err := m.CreateFromTemplate("missing", nil)
		assert.ErrorIs(t, err, ErrUnknownTemplate)
	})
}
