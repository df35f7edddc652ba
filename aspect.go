// Package aspect composes the runtime subsystems — cache, event bus,
// metrics registry, monitoring core and notification dispatcher —
// behind a single facade. Every subsystem remains usable standalone;
// the Runtime only wires the bridges an embedding application would
// otherwise assemble by hand.
package aspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"aspect/cache"
	"aspect/config"
	"aspect/events"
	"aspect/metrics"
	"aspect/monitoring"
	"aspect/notify"
	"aspect/persist"
)

// Runtime composes all subsystems behind one facade.
type Runtime struct {
	cfg config.Config

	registry *metrics.Registry
	bus      *events.Bus
	store    *events.Store
	cache    *cache.Cache[string, any]
	monitor  *monitoring.System
	notifier *notify.Manager
	snaps    *persist.Store

	started   atomic.Bool
	startedAt time.Time
	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
}

// Option adjusts runtime construction.
type Option func(*Runtime)

// WithAlertNotifications routes every monitoring alert through the
// notifier's route table as a notification.
func WithAlertNotifications() Option {
	return func(r *Runtime) {
		r.monitor.OnAlert(func(a monitoring.Alert) {
			n := notify.New(a.Rule, a.Message, alertSeverity(a.Severity))
			for k, v := range a.Metadata {
				n = n.WithMetadata(k, v)
			}
			r.notifier.SendRouted(context.Background(), n)
		})
	}
}

func alertSeverity(s monitoring.Severity) notify.Severity {
	switch s {
	case monitoring.SeverityCritical:
		return notify.SeverityCritical
	case monitoring.SeverityWarning:
		return notify.SeverityHigh
	default:
		return notify.SeverityInfo
	}
}

// New builds a runtime from configuration.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, startedAt: time.Now()}
	r.registry = metrics.NewRegistry()
	r.bus = events.NewBus()
	r.store = events.NewStore(cfg.Events.StoreCapacity)
	r.store.Attach(r.bus)

	cacheOpts := []cache.Option[string, any]{
		cache.WithMaxSize[string, any](cfg.Cache.MaxSize),
		cache.WithDefaultTTL[string, any](cfg.Cache.DefaultTTL),
		cache.WithPolicy[string, any](cachePolicy(cfg.Cache.Policy)),
		cache.WithListener[string, any](r.cacheListener),
	}
	r.cache = cache.New(cacheOpts...)

	monOpts := []monitoring.Option{
		monitoring.WithInterval(cfg.Monitoring.Interval),
		monitoring.WithBus(r.bus),
	}
	notifyOpts := []notify.ManagerOption{}
	if cfg.Metrics.Enabled {
		monOpts = append(monOpts, monitoring.WithMetrics(r.registry))
		notifyOpts = append(notifyOpts, notify.WithMetrics(r.registry))
	}
	r.monitor = monitoring.NewSystem(monOpts...)
	r.notifier = notify.NewManager(notifyOpts...)
	r.notifier.SetRetryPolicy(notify.RetryPolicy{
		MaxAttempts:  cfg.Notify.RetryMaxAttempts,
		InitialDelay: cfg.Notify.RetryInitialDelay,
		Multiplier:   cfg.Notify.RetryMultiplier,
	})

	if cfg.Persist.Path != "" {
		snaps, err := persist.Open(cfg.Persist.Path)
		if err != nil {
			return nil, err
		}
		r.snaps = snaps
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func cachePolicy(name string) cache.Policy {
	switch name {
	case "lfu":
		return cache.LFU
	case "fifo":
		return cache.FIFO
	default:
		return cache.LRU
	}
}

// cacheListener republishes cache activity onto the event bus.
func (r *Runtime) cacheListener(kind cache.EventKind, key string) {
	r.bus.Publish(events.New("cache."+string(kind), events.String(key)))
}

// Bus returns the event bus.
func (r *Runtime) Bus() *events.Bus { return r.bus }

// EventStore returns the bus-attached event store.
func (r *Runtime) EventStore() *events.Store { return r.store }

// Metrics returns the metrics registry.
func (r *Runtime) Metrics() *metrics.Registry { return r.registry }

// Cache returns the default cache.
func (r *Runtime) Cache() *cache.Cache[string, any] { return r.cache }

// Monitoring returns the monitoring system.
func (r *Runtime) Monitoring() *monitoring.System { return r.monitor }

// Notifier returns the notification manager.
func (r *Runtime) Notifier() *notify.Manager { return r.notifier }

// MetricsHandler exposes the registry's Prometheus text endpoint, or
// nil when metrics are disabled.
func (r *Runtime) MetricsHandler() http.Handler {
	if !r.cfg.Metrics.Enabled {
		return nil
	}
	return r.registry.Handler()
}

// Start launches the periodic machinery: the monitoring loop, the
// notification scheduler/aggregation ticks and the cache sweeper.
// Idempotent while running.
func (r *Runtime) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancelRun = cancel
	r.cancelMu.Unlock()

	r.monitor.Start(runCtx)
	go r.notifier.Run(runCtx, r.cfg.Notify.TickInterval)
	if r.cfg.Cache.SweepEvery > 0 {
		r.cache.StartSweeper(r.cfg.Cache.SweepEvery)
	}
}

// Stop halts the periodic machinery (when running) and closes the
// snapshot store. Idempotent.
func (r *Runtime) Stop() error {
	if r.started.CompareAndSwap(true, false) {
		r.cancelMu.Lock()
		cancel := r.cancelRun
		r.cancelRun = nil
		r.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.monitor.Stop()
		r.cache.StopSweeper()
	}
	r.cancelMu.Lock()
	snaps := r.snaps
	r.snaps = nil
	r.cancelMu.Unlock()
	if snaps != nil {
		return snaps.Close()
	}
	return nil
}

// Snapshot is a unified view of runtime state.
type Snapshot struct {
	StartedAt time.Time            `json:"started_at"`
	Uptime    time.Duration        `json:"uptime"`
	Cache     cache.Stats          `json:"cache"`
	Health    monitoring.Status    `json:"health"`
	Events    int                  `json:"events_retained"`
	Scheduled int                  `json:"notifications_scheduled"`
	Dashboard monitoring.Dashboard `json:"dashboard"`
}

// Snapshot returns a unified state view.
func (r *Runtime) Snapshot() Snapshot {
	return Snapshot{
		StartedAt: r.startedAt,
		Uptime:    time.Since(r.startedAt),
		Cache:     r.cache.GetStats(),
		Health:    r.monitor.OverallStatus(),
		Events:    r.store.Len(),
		Scheduled: r.notifier.ScheduledCount(),
		Dashboard: r.monitor.Snapshot(),
	}
}

// ErrNoPersistence is returned by SaveState/LoadState when no snapshot
// store is configured.
var ErrNoPersistence = errors.New("aspect: persistence not configured")

// SaveState persists the cache contents, retained events and
// monitoring definitions into the snapshot store.
func (r *Runtime) SaveState() error {
	if r.snaps == nil {
		return ErrNoPersistence
	}
	cacheBlob, err := json.Marshal(r.cache.Save())
	if err != nil {
		return fmt.Errorf("aspect: encode cache snapshot: %w", err)
	}
	if err := r.snaps.Save(persist.BucketCache, "default", cacheBlob); err != nil {
		return err
	}
	eventsBlob, err := json.Marshal(r.store)
	if err != nil {
		return fmt.Errorf("aspect: encode event history: %w", err)
	}
	if err := r.snaps.Save(persist.BucketEvents, "history", eventsBlob); err != nil {
		return err
	}
	monBlob, err := json.Marshal(r.monitor.SaveState())
	if err != nil {
		return fmt.Errorf("aspect: encode monitoring state: %w", err)
	}
	return r.snaps.Save(persist.BucketMonitoring, "state", monBlob)
}

// LoadState restores what SaveState persisted. Missing snapshots are
// skipped; malformed ones fail without partial application of the
// failing section.
func (r *Runtime) LoadState() error {
	if r.snaps == nil {
		return ErrNoPersistence
	}
	if blob, err := r.snaps.Load(persist.BucketCache, "default"); err == nil {
		var snap cache.Snapshot[string, any]
		if err := json.Unmarshal(blob, &snap); err != nil {
			return fmt.Errorf("aspect: decode cache snapshot: %w", err)
		}
		if err := r.cache.Load(snap); err != nil {
			return err
		}
	} else if !errors.Is(err, persist.ErrNotFound) {
		return err
	}
	if blob, err := r.snaps.Load(persist.BucketEvents, "history"); err == nil {
		if err := json.Unmarshal(blob, r.store); err != nil {
			return fmt.Errorf("aspect: decode event history: %w", err)
		}
	} else if !errors.Is(err, persist.ErrNotFound) {
		return err
	}
	if blob, err := r.snaps.Load(persist.BucketMonitoring, "state"); err == nil {
		var snap monitoring.StateSnapshot
		if err := json.Unmarshal(blob, &snap); err != nil {
			return fmt.Errorf("aspect: decode monitoring state: %w", err)
		}
		if err := r.monitor.LoadState(snap); err != nil {
			return err
		}
	} else if !errors.Is(err, persist.ErrNotFound) {
		return err
	}
	return nil
}
