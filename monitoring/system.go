package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aspect/events"
	"aspect/metrics"
)

// DefaultInterval is the loop cadence when none is configured.
const DefaultInterval = 15 * time.Second

// alertHistory bounds the retained alert ring.
const alertHistory = 256

// DashboardAlerts is how many recent alerts a dashboard snapshot carries.
const DashboardAlerts = 50

// AlertFunc observes every fired alert.
type AlertFunc func(Alert)

// CheckCompleteFunc observes every finished health check execution.
type CheckCompleteFunc func(name string, result CheckResult)

// System orchestrates health checks, resource monitors and alert
// rules on a periodic loop. User callback failures never abort the
// loop.
type System struct {
	interval time.Duration
	logger   *slog.Logger
	registry *metrics.Registry
	bus      *events.Bus
	now      func() time.Time

	mu       sync.Mutex
	checks   map[string]*HealthCheck
	monitors map[string]*ResourceMonitor
	rules    map[string]*AlertRule
	custom   map[string]float64
	alerts   []Alert
	onAlert  AlertFunc
	onCheck  CheckCompleteFunc

	state *ApplicationState

	checksTotal *metrics.Counter
	alertsTotal *metrics.Counter
	healthGauge *metrics.Gauge

	loopStop chan struct{}
	loopWG   sync.WaitGroup
}

// Option configures a System.
type Option func(*System)

// WithInterval sets the loop cadence.
func WithInterval(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger routes loop diagnostics to logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records check outcomes, alert counts and overall health
// into the registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *System) { s.registry = r }
}

// WithBus publishes monitoring.alert events for every firing.
func WithBus(b *events.Bus) Option {
	return func(s *System) { s.bus = b }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *System) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSystem builds an idle monitoring system; Start begins the loop.
func NewSystem(opts ...Option) *System {
	s := &System{
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
		checks:   make(map[string]*HealthCheck),
		monitors: make(map[string]*ResourceMonitor),
		rules:    make(map[string]*AlertRule),
		custom:   make(map[string]float64),
		state:    NewApplicationState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry != nil {
		s.checksTotal, _ = s.registry.Counter("monitoring_checks_total", "name", "status")
		s.alertsTotal, _ = s.registry.Counter("monitoring_alerts_total", "severity")
		s.healthGauge, _ = s.registry.Gauge("monitoring_health_status")
	}
	return s
}

// AddHealthCheck registers a check, replacing any with the same name.
func (s *System) AddHealthCheck(check *HealthCheck) {
	s.mu.Lock()
	s.checks[check.Name()] = check
	s.mu.Unlock()
}

// RemoveHealthCheck drops a check.
func (s *System) RemoveHealthCheck(name string) {
	s.mu.Lock()
	delete(s.checks, name)
	s.mu.Unlock()
}

// AddResourceMonitor registers a monitor, replacing any with the same
// name.
func (s *System) AddResourceMonitor(m *ResourceMonitor) {
	s.mu.Lock()
	s.monitors[m.Name()] = m
	s.mu.Unlock()
}

// AddAlertRule registers a rule, replacing any with the same name.
func (s *System) AddAlertRule(r *AlertRule) {
	s.mu.Lock()
	s.rules[r.Name()] = r
	s.mu.Unlock()
}

// SetCustomMetric records a custom value usable in alert conditions.
func (s *System) SetCustomMetric(name string, value float64) {
	s.mu.Lock()
	s.custom[name] = value
	s.mu.Unlock()
}

// State returns the application state tracker.
func (s *System) State() *ApplicationState { return s.state }

// OnAlert sets the alert callback.
func (s *System) OnAlert(fn AlertFunc) {
	s.mu.Lock()
	s.onAlert = fn
	s.mu.Unlock()
}

// OnHealthCheck sets the check-completion callback.
func (s *System) OnHealthCheck(fn CheckCompleteFunc) {
	s.mu.Lock()
	s.onCheck = fn
	s.mu.Unlock()
}

// Start launches the periodic loop until Stop (or ctx cancellation).
func (s *System) Start(ctx context.Context) {
	s.mu.Lock()
	if s.loopStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.loopStop = stop
	s.mu.Unlock()

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *System) Stop() {
	s.mu.Lock()
	stop := s.loopStop
	s.loopStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	s.loopWG.Wait()
}

// Tick runs one monitoring iteration: all enabled health checks in
// parallel, then every collector, then alert evaluation against the
// latest values.
func (s *System) Tick(ctx context.Context) {
	s.runChecks(ctx)
	s.runCollectors(ctx)
	s.evaluateRules()
	s.publishHealthGauge()
}

func (s *System) runChecks(ctx context.Context) {
	s.mu.Lock()
	checks := make([]*HealthCheck, 0, len(s.checks))
	for _, c := range s.checks {
		if c.Enabled() && c.fn != nil {
			checks = append(checks, c)
		}
	}
	onCheck := s.onCheck
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, check := range checks {
		c := check
		g.Go(func() error {
			result := c.Execute(gctx)
			if s.checksTotal != nil {
				s.checksTotal.Inc(c.Name(), string(result.Status))
			}
			if onCheck != nil {
				s.safeCheckCallback(onCheck, c.Name(), result)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *System) safeCheckCallback(fn CheckCompleteFunc, name string, result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("health check callback panic", "check", name, "cause", r)
		}
	}()
	fn(name, result)
}

func (s *System) runCollectors(ctx context.Context) {
	s.mu.Lock()
	monitors := make([]*ResourceMonitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		if m.collector != nil {
			monitors = append(monitors, m)
		}
	}
	s.mu.Unlock()

	for _, m := range monitors {
		if err := m.Collect(ctx); err != nil {
			s.logger.Warn("resource collection failed", "monitor", m.Name(), "error", err)
		}
	}
}

func (s *System) evaluateRules() {
	now := s.now()
	s.mu.Lock()
	rules := make([]*AlertRule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	onAlert := s.onAlert
	s.mu.Unlock()

	for _, rule := range rules {
		value, ok := s.metricValue(rule.Condition().Metric)
		if !ok {
			continue
		}
		alert, fired := rule.Evaluate(value, now)
		if !fired {
			continue
		}
		s.recordAlert(alert)
		if s.alertsTotal != nil {
			s.alertsTotal.Inc(string(alert.Severity))
		}
		if s.bus != nil {
			ev := events.New("monitoring.alert."+alert.Rule, events.Object(map[string]events.Value{
				"rule":     events.String(alert.Rule),
				"severity": events.String(string(alert.Severity)),
				"message":  events.String(alert.Message),
			}))
			s.bus.Publish(ev)
		}
		if onAlert != nil {
			s.safeAlertCallback(onAlert, alert)
		}
	}
}

func (s *System) safeAlertCallback(fn AlertFunc, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("alert callback panic", "rule", alert.Rule, "cause", r)
		}
	}()
	fn(alert)
}

// metricValue resolves the latest value for a metric name: resource
// monitors first, custom metrics second.
func (s *System) metricValue(name string) (float64, bool) {
	s.mu.Lock()
	m, ok := s.monitors[name]
	if !ok {
		v, ok := s.custom[name]
		s.mu.Unlock()
		return v, ok
	}
	s.mu.Unlock()
	sample, ok := m.Latest()
	return sample.Value, ok
}

func (s *System) recordAlert(alert Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > alertHistory {
		s.alerts = s.alerts[len(s.alerts)-alertHistory:]
	}
	s.mu.Unlock()
}

// Alerts returns the retained alert ring oldest-first.
func (s *System) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

// OverallStatus rolls up the last result of every check: unhealthy
// dominates, then degraded; no checks yields unknown.
func (s *System) OverallStatus() Status {
	s.mu.Lock()
	checks := make([]*HealthCheck, 0, len(s.checks))
	for _, c := range s.checks {
		checks = append(checks, c)
	}
	s.mu.Unlock()

	if len(checks) == 0 {
		return StatusUnknown
	}
	overall := StatusHealthy
	for _, c := range checks {
		switch c.Last().Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func (s *System) publishHealthGauge() {
	if s.healthGauge == nil {
		return
	}
	switch s.OverallStatus() {
	case StatusHealthy:
		s.healthGauge.Set(1)
	case StatusDegraded:
		s.healthGauge.Set(0.5)
	case StatusUnhealthy:
		s.healthGauge.Set(0)
	default:
		s.healthGauge.Set(-1)
	}
}

// Dashboard is a point-in-time view of the whole system.
type Dashboard struct {
	Overall     Status                  `json:"overall"`
	Checks      map[string]CheckResult  `json:"checks"`
	Resources   map[string]Sample       `json:"resources"`
	Alerts      []Alert                 `json:"alerts"`
	States      map[string]any          `json:"states"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// Snapshot generates a dashboard with current check statuses, latest
// resource samples, the last 50 alerts and current application states.
func (s *System) Snapshot() Dashboard {
	s.mu.Lock()
	checks := make(map[string]*HealthCheck, len(s.checks))
	for n, c := range s.checks {
		checks[n] = c
	}
	monitors := make(map[string]*ResourceMonitor, len(s.monitors))
	for n, m := range s.monitors {
		monitors[n] = m
	}
	alerts := append([]Alert(nil), s.alerts...)
	s.mu.Unlock()

	d := Dashboard{
		Overall:     s.OverallStatus(),
		Checks:      make(map[string]CheckResult, len(checks)),
		Resources:   make(map[string]Sample, len(monitors)),
		States:      s.state.All(),
		GeneratedAt: s.now(),
	}
	for n, c := range checks {
		d.Checks[n] = c.Last()
	}
	for n, m := range monitors {
		if sample, ok := m.Latest(); ok {
			d.Resources[n] = sample
		}
	}
	if len(alerts) > DashboardAlerts {
		alerts = alerts[len(alerts)-DashboardAlerts:]
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].FiredAt.Before(alerts[j].FiredAt) })
	d.Alerts = alerts
	return d
}

// ErrUnknownDefinition is returned when LoadState references nothing
// loadable.
var ErrUnknownDefinition = errors.New("monitoring: malformed state snapshot")
