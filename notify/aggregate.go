package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// AggregationPolicy batches notifications into per-group buckets that
// flush when full or when the window since the first buffered
// notification elapses.
type AggregationPolicy struct {
	Window       time.Duration
	GroupBy      []string
	MaxBatchSize int
}

type aggregationState struct {
	policy  AggregationPolicy
	mu      sync.Mutex
	buckets map[string]*aggregationBucket
}

type aggregationBucket struct {
	notifications []Notification
	channels      []string
	channelSet    map[string]struct{}
	openedAt      time.Time
}

// EnableAggregation turns on batching for SendAggregated.
func (m *Manager) EnableAggregation(policy AggregationPolicy) {
	m.mu.Lock()
	m.agg = &aggregationState{policy: policy, buckets: make(map[string]*aggregationBucket)}
	m.mu.Unlock()
}

// DisableAggregation flushes any buffered batches and turns batching
// off.
func (m *Manager) DisableAggregation() {
	m.mu.Lock()
	agg := m.agg
	m.agg = nil
	m.mu.Unlock()
	if agg != nil {
		m.flushBuckets(agg, true)
	}
}

// groupKey concatenates the configured metadata fields.
func (a *aggregationState) groupKey(n Notification) string {
	if len(a.policy.GroupBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a.policy.GroupBy))
	for _, f := range a.policy.GroupBy {
		parts = append(parts, n.Metadata[f])
	}
	return strings.Join(parts, "/")
}

// SendAggregated buffers the notification in its group bucket; a full
// bucket flushes immediately. Without aggregation enabled it degrades
// to a plain Send.
func (m *Manager) SendAggregated(ctx context.Context, n Notification, channels []string) []DeliveryResult {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()
	if agg == nil {
		return m.Send(ctx, n, channels)
	}

	key := agg.groupKey(n)
	agg.mu.Lock()
	b, ok := agg.buckets[key]
	if !ok {
		b = &aggregationBucket{openedAt: m.now(), channelSet: make(map[string]struct{})}
		agg.buckets[key] = b
	}
	n.Status = StatusAggregated
	b.notifications = append(b.notifications, n)
	for _, ch := range channels {
		if _, dup := b.channelSet[ch]; !dup {
			b.channelSet[ch] = struct{}{}
			b.channels = append(b.channels, ch)
		}
	}
	var due *aggregationBucket
	if agg.policy.MaxBatchSize > 0 && len(b.notifications) >= agg.policy.MaxBatchSize {
		due = b
		delete(agg.buckets, key)
	}
	agg.mu.Unlock()

	if due != nil {
		return m.dispatchBucket(key, due)
	}
	return nil
}

// FlushAggregated emits one combined notification per buffered bucket
// regardless of window age.
func (m *Manager) FlushAggregated() {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()
	if agg != nil {
		m.flushBuckets(agg, true)
	}
}

// ProcessAggregated flushes only the buckets whose window has expired.
// Intended to be driven by a periodic tick.
func (m *Manager) ProcessAggregated() {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()
	if agg != nil {
		m.flushBuckets(agg, false)
	}
}

func (m *Manager) flushBuckets(agg *aggregationState, force bool) {
	now := m.now()
	type due struct {
		key    string
		bucket *aggregationBucket
	}
	var out []due
	agg.mu.Lock()
	for key, b := range agg.buckets {
		if len(b.notifications) == 0 {
			continue
		}
		if force || (agg.policy.Window > 0 && now.Sub(b.openedAt) >= agg.policy.Window) {
			out = append(out, due{key, b})
			delete(agg.buckets, key)
		}
	}
	agg.mu.Unlock()

	for _, d := range out {
		m.dispatchBucket(d.key, d.bucket)
	}
}

// dispatchBucket builds the combined notification and sends it through
// the normal delivery path.
func (m *Manager) dispatchBucket(key string, b *aggregationBucket) []DeliveryResult {
	severity := SeverityInfo
	messages := make([]string, 0, len(b.notifications))
	for _, n := range b.notifications {
		if severityRank(n.Severity) > severityRank(severity) {
			severity = n.Severity
		}
		messages = append(messages, n.Message)
	}
	combined := New(
		fmt.Sprintf("%d %s in %s", len(b.notifications), severity, key),
		strings.Join(messages, "\n"),
		severity,
	)
	combined = combined.WithMetadata("aggregated_count", fmt.Sprint(len(b.notifications)))
	if key != "" {
		combined = combined.WithMetadata("group", key)
	}
	return m.Send(context.Background(), combined, b.channels)
}
