package monitoring

import (
	"time"
)

// CheckDefinition is the persisted form of a health check (the
// callable is not persisted).
type CheckDefinition struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Timeout     time.Duration `json:"timeout"`
	Enabled     bool          `json:"enabled"`
}

// MonitorDefinition is the persisted form of a resource monitor.
type MonitorDefinition struct {
	Name      string        `json:"name"`
	Kind      ResourceKind  `json:"kind"`
	Interval  time.Duration `json:"interval"`
	Threshold *float64      `json:"threshold,omitempty"`
}

// RuleDefinition is the persisted form of an alert rule.
type RuleDefinition struct {
	Name      string    `json:"name"`
	Severity  Severity  `json:"severity"`
	Condition Condition `json:"condition"`
}

// StateSnapshot persists the system's definitions and application
// states. Callbacks, check functions and collectors are not covered;
// after LoadState they are reattached with BindCheck/BindCollector.
type StateSnapshot struct {
	Checks   []CheckDefinition   `json:"checks"`
	Monitors []MonitorDefinition `json:"monitors"`
	Rules    []RuleDefinition    `json:"rules"`
	Custom   map[string]float64  `json:"custom,omitempty"`
	States   map[string]any      `json:"states,omitempty"`
	TakenAt  time.Time           `json:"taken_at"`
}

// SaveState captures every registered definition.
func (s *System) SaveState() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StateSnapshot{TakenAt: s.now(), Custom: make(map[string]float64, len(s.custom))}
	for _, c := range s.checks {
		snap.Checks = append(snap.Checks, CheckDefinition{
			Name:        c.Name(),
			Description: c.Description(),
			Timeout:     c.Timeout(),
			Enabled:     c.Enabled(),
		})
	}
	for _, m := range s.monitors {
		def := MonitorDefinition{Name: m.Name(), Kind: m.Kind(), Interval: m.Interval()}
		if t, ok := m.Threshold(); ok {
			def.Threshold = &t
		}
		snap.Monitors = append(snap.Monitors, def)
	}
	for _, r := range s.rules {
		snap.Rules = append(snap.Rules, RuleDefinition{
			Name:      r.Name(),
			Severity:  r.Severity(),
			Condition: r.Condition(),
		})
	}
	for k, v := range s.custom {
		snap.Custom[k] = v
	}
	snap.States = s.state.All()
	return snap
}

// LoadState restores definitions from a snapshot. Checks and monitors
// come back without their callables and stay dormant until bound;
// rules and custom metrics are immediately active. Existing entries
// with the same names are replaced.
func (s *System) LoadState(snap StateSnapshot) error {
	for _, c := range snap.Checks {
		if c.Name == "" {
			return ErrUnknownDefinition
		}
	}
	for _, m := range snap.Monitors {
		if m.Name == "" {
			return ErrUnknownDefinition
		}
	}
	for _, r := range snap.Rules {
		if r.Name == "" {
			return ErrUnknownDefinition
		}
	}

	s.mu.Lock()
	for _, def := range snap.Checks {
		check := NewHealthCheck(def.Name, def.Description, def.Timeout, nil)
		check.SetEnabled(def.Enabled)
		s.checks[def.Name] = check
	}
	for _, def := range snap.Monitors {
		m := NewResourceMonitor(def.Name, def.Kind, def.Interval, nil)
		if def.Threshold != nil {
			m.SetThreshold(*def.Threshold)
		}
		s.monitors[def.Name] = m
	}
	for _, def := range snap.Rules {
		s.rules[def.Name] = NewAlertRule(def.Name, def.Severity, def.Condition)
	}
	for k, v := range snap.Custom {
		s.custom[k] = v
	}
	s.mu.Unlock()

	for k, v := range snap.States {
		s.state.Set(k, v)
	}
	return nil
}

// BindCheck reattaches the callable of a loaded check definition.
func (s *System) BindCheck(name string, fn CheckFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checks[name]
	if !ok {
		return false
	}
	c.fn = fn
	return true
}

// BindCollector reattaches the collector of a loaded monitor
// definition.
func (s *System) BindCollector(name string, fn Collector) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[name]
	if !ok {
		return false
	}
	m.collector = fn
	return true
}
