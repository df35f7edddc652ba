package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type scheduledDelivery struct {
	notification Notification
	channels     []string
	dueAt        time.Time
}

// Schedule queues the notification for dispatch after delay and
// returns a cancellation id.
func (m *Manager) Schedule(n Notification, channels []string, delay time.Duration) string {
	id := uuid.NewString()
	n.Status = StatusScheduled
	m.mu.Lock()
	m.scheduled[id] = &scheduledDelivery{
		notification: n,
		channels:     append([]string(nil), channels...),
		dueAt:        m.now().Add(delay),
	}
	m.mu.Unlock()
	return id
}

// CancelScheduled drops a scheduled notification before its due time.
// Returns false when the id is unknown (already dispatched or
// cancelled).
func (m *Manager) CancelScheduled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scheduled[id]; !ok {
		return false
	}
	delete(m.scheduled, id)
	return true
}

// ScheduledCount returns how many notifications await dispatch.
func (m *Manager) ScheduledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scheduled)
}

// ProcessScheduled dispatches every scheduled notification whose due
// time has arrived and returns the combined delivery results.
func (m *Manager) ProcessScheduled(ctx context.Context) []DeliveryResult {
	now := m.now()
	m.mu.Lock()
	var due []*scheduledDelivery
	for id, s := range m.scheduled {
		if !now.Before(s.dueAt) {
			due = append(due, s)
			delete(m.scheduled, id)
		}
	}
	m.mu.Unlock()

	var results []DeliveryResult
	for _, s := range due {
		n := s.notification
		n.Status = StatusPending
		results = append(results, m.Send(ctx, n, s.channels)...)
	}
	return results
}

// Run drives scheduled dispatch and aggregation window expiry at the
// given interval until ctx is cancelled. Call in a goroutine.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.ProcessScheduled(ctx)
			m.ProcessAggregated()
		case <-ctx.Done():
			return
		}
	}
}
