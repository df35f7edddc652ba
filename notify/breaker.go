package notify

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerChannel wraps a channel with a circuit breaker so a flapping
// destination is short-circuited instead of burning the full retry
// budget on every notification.
type BreakerChannel struct {
	inner Channel
	cb    *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	// MaxFailures opens the circuit after this many consecutive
	// failures (default 5).
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a
	// half-open probe (default 30s).
	OpenTimeout time.Duration
}

// NewBreakerChannel wraps inner.
func NewBreakerChannel(inner Channel, settings BreakerSettings) *BreakerChannel {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := settings.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return &BreakerChannel{inner: inner, cb: cb}
}

// Name implements Channel.
func (c *BreakerChannel) Name() string { return c.inner.Name() }

// Send implements Channel. While the circuit is open, sends fail fast
// with gobreaker.ErrOpenState.
func (c *BreakerChannel) Send(ctx context.Context, n Notification) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.inner.Send(ctx, n)
	})
	return err
}

// State exposes the current breaker state for dashboards.
func (c *BreakerChannel) State() gobreaker.State { return c.cb.State() }
