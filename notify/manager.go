package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aspect/metrics"
)

var (
	// ErrUnknownChannel is returned when dispatching to an unregistered
	// channel name.
	ErrUnknownChannel = errors.New("notify: unknown channel")
	// ErrUnknownTemplate is returned by CreateFromTemplate for an
	// unregistered template name.
	ErrUnknownTemplate = errors.New("notify: unknown template")
)

const rateLimitedError = "rate limit exceeded"

// historySize bounds the retained delivery result ring.
const historySize = 512

// Manager routes, rate-limits, retries, aggregates and schedules
// notification deliveries across registered channels.
type Manager struct {
	logger   *slog.Logger
	registry *metrics.Registry
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	channels  map[string]Channel
	routes    []Route
	templates map[string]Template
	retry     RetryPolicy
	limits    map[string]*channelLimiter
	history   []DeliveryResult

	agg       *aggregationState
	scheduled map[string]*scheduledDelivery

	deliveries *metrics.Counter
	sendTimer  *metrics.Timer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger routes dispatch diagnostics to logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records delivery counters and send durations.
func WithMetrics(r *metrics.Registry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleeper overrides backoff sleeping, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// NewManager builds an empty notification manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:    slog.Default(),
		now:       time.Now,
		sleep:     sleepContext,
		channels:  make(map[string]Channel),
		templates: make(map[string]Template),
		retry:     DefaultRetryPolicy,
		limits:    make(map[string]*channelLimiter),
		scheduled: make(map[string]*scheduledDelivery),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry != nil {
		m.deliveries, _ = m.registry.Counter("notify_deliveries_total", "channel", "outcome")
		m.sendTimer, _ = m.registry.Timer("notify_send_seconds", "channel")
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddChannel registers a delivery channel under its own name.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
}

// RemoveChannel drops a channel.
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	delete(m.channels, name)
	m.mu.Unlock()
}

// AddRoute registers a route evaluated by SendRouted.
func (m *Manager) AddRoute(r Route) {
	m.mu.Lock()
	m.routes = append(m.routes, r)
	m.mu.Unlock()
}

// AddTemplate registers a template for CreateFromTemplate.
func (m *Manager) AddTemplate(t Template) {
	m.mu.Lock()
	m.templates[t.Name] = t
	m.mu.Unlock()
}

// SetRetryPolicy replaces the delivery retry policy.
func (m *Manager) SetRetryPolicy(p RetryPolicy) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 1
	}
	m.mu.Lock()
	m.retry = p
	m.mu.Unlock()
}

// SetRateLimit attaches token buckets to a channel name.
func (m *Manager) SetRateLimit(channel string, limit RateLimit) {
	m.mu.Lock()
	m.limits[channel] = newChannelLimiter(limit, m.now())
	m.mu.Unlock()
}

// CreateFromTemplate renders a registered template.
func (m *Manager) CreateFromTemplate(name string, params map[string]any) (Notification, error) {
	m.mu.Lock()
	tpl, ok := m.templates[name]
	m.mu.Unlock()
	if !ok {
		return Notification{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return tpl.Render(params), nil
}

// Send dispatches the notification to every named channel, in
// parallel across channels with sequential retries inside each, and
// returns one result per channel in input order.
func (m *Manager) Send(ctx context.Context, n Notification, channelNames []string) []DeliveryResult {
	results := make([]DeliveryResult, len(channelNames))
	var wg sync.WaitGroup
	for i, name := range channelNames {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = m.deliver(ctx, n, name)
		}(i, name)
	}
	wg.Wait()
	for _, r := range results {
		m.recordResult(r)
	}
	return results
}

// SendRouted evaluates every route filter and dispatches to the union
// of channels from matching routes.
func (m *Manager) SendRouted(ctx context.Context, n Notification) []DeliveryResult {
	m.mu.Lock()
	routes := append([]Route(nil), m.routes...)
	m.mu.Unlock()

	seen := make(map[string]struct{})
	var channels []string
	for _, r := range routes {
		if r.Filter != nil && !r.Filter(n) {
			continue
		}
		for _, ch := range r.Channels {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			channels = append(channels, ch)
		}
	}
	return m.Send(ctx, n, channels)
}

// deliver runs the full per-channel pipeline: rate limit admission,
// then retries per policy.
func (m *Manager) deliver(ctx context.Context, n Notification, channelName string) DeliveryResult {
	m.mu.Lock()
	ch, ok := m.channels[channelName]
	limiter := m.limits[channelName]
	policy := m.retry
	m.mu.Unlock()

	if !ok {
		return DeliveryResult{
			Channel:   channelName,
			Success:   false,
			Attempts:  0,
			Error:     ErrUnknownChannel.Error(),
			Timestamp: m.now(),
		}
	}
	if limiter != nil && !limiter.allow(m.now()) {
		m.logger.Debug("notification rate limited", "channel", channelName, "id", n.ID)
		return DeliveryResult{
			Channel:   channelName,
			Success:   false,
			Attempts:  0,
			Error:     rateLimitedError,
			Timestamp: m.now(),
		}
	}

	var sw *metrics.StopWatch
	if m.sendTimer != nil {
		sw = m.sendTimer.Start(channelName)
	}
	result := m.attemptWithRetries(ctx, ch, n, policy)
	if sw != nil {
		sw.Stop()
	}
	return result
}

func (m *Manager) attemptWithRetries(ctx context.Context, ch Channel, n Notification, policy RetryPolicy) DeliveryResult {
	delay := policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 && delay > 0 {
			if err := m.sleep(ctx, delay); err != nil {
				lastErr = err
				return DeliveryResult{
					Channel: ch.Name(), Success: false, Attempts: attempt - 1,
					Error: lastErr.Error(), Timestamp: m.now(),
				}
			}
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}
		err := m.sendOnce(ctx, ch, n)
		if err == nil {
			return DeliveryResult{Channel: ch.Name(), Success: true, Attempts: attempt, Timestamp: m.now()}
		}
		lastErr = err
		m.logger.Debug("notification attempt failed",
			"channel", ch.Name(), "id", n.ID, "attempt", attempt, "error", err)
	}
	return DeliveryResult{
		Channel: ch.Name(), Success: false, Attempts: policy.MaxAttempts,
		Error: lastErr.Error(), Timestamp: m.now(),
	}
}

// sendOnce invokes the channel with panic containment.
func (m *Manager) sendOnce(ctx context.Context, ch Channel, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: channel panic: %v", r)
		}
	}()
	return ch.Send(ctx, n)
}

func (m *Manager) recordResult(r DeliveryResult) {
	if m.deliveries != nil {
		outcome := "failure"
		if r.Success {
			outcome = "success"
		}
		m.deliveries.Inc(r.Channel, outcome)
	}
	m.mu.Lock()
	m.history = append(m.history, r)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	m.mu.Unlock()
}

// History returns the retained delivery results oldest-first.
func (m *Manager) History() []DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeliveryResult(nil), m.history...)
}
