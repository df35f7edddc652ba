package events

import (
	"sync"
	"sync/atomic"
)

// StreamSubscription is a channel-backed event feed.
type StreamSubscription interface {
	C() <-chan Event
	Close()
	ID() int64
}

// StreamStats summarises stream bus activity.
type StreamStats struct {
	Subscribers        int64
	Published          uint64
	Dropped            uint64
	PerSubscriberDrops map[int64]uint64
}

// StreamBus fans events out to buffered subscriber channels. Slow
// subscribers lose events rather than blocking the publisher; drops
// are counted per subscriber. It complements Bus for consumers that
// want a pull-based feed (UIs, log shippers) instead of callbacks.
type StreamBus struct {
	mu        sync.RWMutex
	subs      map[int64]*streamSubscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64
}

type streamSubscriber struct {
	id      int64
	ch      chan Event
	pattern string
	bus     *StreamBus
	dropped atomic.Uint64
	once    sync.Once
}

// NewStreamBus creates an empty stream bus.
func NewStreamBus() *StreamBus {
	return &StreamBus{subs: make(map[int64]*streamSubscriber)}
}

// AttachTo feeds the stream bus from a dispatch bus, forwarding every
// event matching pattern. Returns the subscription id on the source
// bus for later removal.
func (b *StreamBus) AttachTo(bus *Bus, pattern string) string {
	return bus.Subscribe(pattern, func(ev Event) error {
		b.Publish(ev)
		return nil
	})
}

// Subscribe opens a feed of events matching pattern with the given
// channel buffer (default 64 when <= 0).
func (b *StreamBus) Subscribe(pattern string, buffer int) StreamSubscription {
	if buffer <= 0 {
		buffer = 64
	}
	id := atomic.AddInt64(&b.nextID, 1)
	sub := &streamSubscriber{id: id, ch: make(chan Event, buffer), pattern: pattern, bus: b}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Publish fans the event out to every matching subscriber, dropping
// for subscribers whose buffer is full.
func (b *StreamBus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]*streamSubscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, s := range subs {
		if s.pattern != "" && !Match(s.pattern, ev.Type) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of bus counters.
func (b *StreamBus) Stats() StreamStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := StreamStats{
		Subscribers:        int64(len(b.subs)),
		Published:          b.published.Load(),
		Dropped:            b.dropped.Load(),
		PerSubscriberDrops: make(map[int64]uint64, len(b.subs)),
	}
	for id, s := range b.subs {
		st.PerSubscriberDrops[id] = s.dropped.Load()
	}
	return st
}

func (s *streamSubscriber) C() <-chan Event { return s.ch }
func (s *streamSubscriber) ID() int64       { return s.id }

func (s *streamSubscriber) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
