// Package notify implements multi-channel notification dispatch with
// template rendering, filter-driven routing, retry with exponential
// backoff, per-channel token-bucket rate limiting, time/size-window
// aggregation and delayed scheduling. Concrete channel I/O lives
// outside the package; anything satisfying Channel plugs in.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Severity ranks notification importance.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Status tracks a notification through its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusAggregated Status = "aggregated"
	StatusScheduled  Status = "scheduled"
)

// Notification is one message to deliver.
type Notification struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Status    Status            `json:"status"`
}

// New creates a pending notification.
func New(title, message string, severity Severity) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Metadata:  map[string]string{},
		Timestamp: time.Now(),
		Status:    StatusPending,
	}
}

// WithMetadata returns a copy with the key set.
func (n Notification) WithMetadata(key, value string) Notification {
	md := make(map[string]string, len(n.Metadata)+1)
	for k, v := range n.Metadata {
		md[k] = v
	}
	md[key] = value
	n.Metadata = md
	return n
}

// Channel delivers notifications. Implementations are opaque to the
// dispatcher; a Send error marks the attempt failed and is retried per
// policy.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc struct {
	ChannelName string
	SendFunc    func(ctx context.Context, n Notification) error
}

// Name implements Channel.
func (c ChannelFunc) Name() string { return c.ChannelName }

// Send implements Channel.
func (c ChannelFunc) Send(ctx context.Context, n Notification) error { return c.SendFunc(ctx, n) }

// DeliveryResult reports the outcome of dispatching one notification
// to one channel.
type DeliveryResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RetryPolicy controls delivery retries: attempt 1 immediately, then
// sleep InitialDelay, InitialDelay*Multiplier, ... up to MaxAttempts.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// DefaultRetryPolicy is applied until SetRetryPolicy overrides it.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, Multiplier: 2.0}

// Route selects destination channels for notifications admitted by
// its filter.
type Route struct {
	Name     string
	Filter   func(Notification) bool
	Channels []string
}
