package events

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// DefaultStoreCapacity bounds the event store ring when no capacity is
// given.
const DefaultStoreCapacity = 10000

// StorePriority is the priority the store subscribes at: below any
// sane user priority so recording observes handler-visible order last.
const StorePriority = math.MinInt32

// Store is a bounded append-only log of observed events. It holds a
// handle to the bus it records from; the bus does not know about it.
type Store struct {
	mu        sync.Mutex
	events    []Event
	capacity  int
	bus       *Bus
	subID     string
	replaying bool
}

// NewStore creates a store retaining up to capacity events (the
// default 10000 when capacity <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &Store{capacity: capacity}
}

// Attach subscribes the store to every event on the bus. Attaching a
// second time first detaches from the previous bus.
func (s *Store) Attach(bus *Bus) {
	s.Detach()
	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()
	s.subID = bus.SubscribePriority("*", StorePriority, func(ev Event) error {
		s.record(ev)
		return nil
	})
}

// Detach unsubscribes from the current bus, if any.
func (s *Store) Detach() {
	s.mu.Lock()
	bus, id := s.bus, s.subID
	s.bus, s.subID = nil, ""
	s.mu.Unlock()
	if bus != nil && id != "" {
		bus.Unsubscribe(id)
	}
}

func (s *Store) record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaying {
		return
	}
	s.events = append(s.events, ev)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
}

// Append records an event directly, without a bus.
func (s *Store) Append(ev Event) { s.record(ev) }

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// All returns the retained events oldest-first.
func (s *Store) All() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// ByPattern returns retained events whose type matches the pattern.
func (s *Store) ByPattern(pattern string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if Match(pattern, ev.Type) {
			out = append(out, ev)
		}
	}
	return out
}

// ByType returns retained events of exactly the given type.
func (s *Store) ByType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// ByTimeRange returns retained events with from <= timestamp <= to.
func (s *Store) ByTimeRange(from, to time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out
}

// ByID returns the retained event with the given id.
func (s *Store) ByID(id string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// Replay re-publishes retained events matching pattern (all events
// when pattern is empty) onto the attached bus in original order. The
// store suppresses re-recording of its own replays.
func (s *Store) Replay(pattern string) {
	s.mu.Lock()
	bus := s.bus
	if bus == nil {
		s.mu.Unlock()
		return
	}
	var batch []Event
	for _, ev := range s.events {
		if pattern == "" || Match(pattern, ev.Type) {
			batch = append(batch, ev)
		}
	}
	s.replaying = true
	s.mu.Unlock()

	for _, ev := range batch {
		bus.Publish(ev)
	}

	s.mu.Lock()
	s.replaying = false
	s.mu.Unlock()
}

// Clear drops all retained events.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// MarshalJSON serialises the retained events.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.All())
}

// UnmarshalJSON restores retained events, truncating to capacity.
func (s *Store) UnmarshalJSON(data []byte) error {
	var evs []Event
	if err := json.Unmarshal(data, &evs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity <= 0 {
		s.capacity = DefaultStoreCapacity
	}
	if len(evs) > s.capacity {
		evs = evs[len(evs)-s.capacity:]
	}
	s.events = evs
	return nil
}
