// Package events implements an in-process publish/subscribe bus with
// dotted-pattern matching, priority ordering, middleware, namespacing,
// a bounded event store with replay, and count/time batch aggregation.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one immutable occurrence. The ID is assigned at creation
// and never changes; published events are treated as values and must
// not be mutated by handlers.
type Event struct {
	ID        string
	Type      string
	Data      Value
	Timestamp time.Time
	Metadata  map[string]string
}

// New creates an event of the given dotted type carrying data. The
// timestamp is truncated to millisecond precision so the JSON wire
// form (Unix milliseconds) round-trips exactly.
func New(eventType string, data Value) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Truncate(time.Millisecond),
		Metadata:  map[string]string{},
	}
}

// WithMetadata returns a copy of the event with the key set.
func (e Event) WithMetadata(key, value string) Event {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Equal reports whether two events carry identical identity and payload.
func (e Event) Equal(o Event) bool {
	if e.ID != o.ID || e.Type != o.Type || !e.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if !e.Data.Equal(o.Data) {
		return false
	}
	if len(e.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range e.Metadata {
		if o.Metadata[k] != v {
			return false
		}
	}
	return true
}

// eventJSON is the wire shape. Timestamps travel as Unix milliseconds.
type eventJSON struct {
	ID        string            `json:"id"`
	EventType string            `json:"eventType"`
	Data      Value             `json:"data"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	md := e.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return json.Marshal(eventJSON{
		ID:        e.ID,
		EventType: e.Type,
		Data:      e.Data,
		Timestamp: e.Timestamp.UnixMilli(),
		Metadata:  md,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	md := wire.Metadata
	if md == nil {
		md = map[string]string{}
	}
	*e = Event{
		ID:        wire.ID,
		Type:      wire.EventType,
		Data:      wire.Data,
		Timestamp: time.UnixMilli(wire.Timestamp),
		Metadata:  md,
	}
	return nil
}
