package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"aspect/internal/tracing"
)

// Handler receives an event during dispatch. A returned error is
// captured at the dispatch site and routed to the bus error handler;
// it never propagates to the publisher.
type Handler func(Event) error

// Filter admits or rejects an event for one subscription.
type Filter func(Event) bool

// Middleware wraps dispatch. Calling next continues the chain (the
// innermost next invokes the matched handlers); not calling it halts
// dispatch for this event.
type Middleware func(ev Event, next func(Event))

// ErrorHandler observes handler failures.
type ErrorHandler func(Event, error)

type subscription struct {
	id       string
	pattern  string
	filter   Filter
	priority int
	seq      uint64
	handler  Handler
}

// busCore holds the shared state behind a Bus and all of its
// namespaced views.
type busCore struct {
	mu         sync.RWMutex
	subs       map[string]*subscription
	nextSeq    uint64
	middleware []Middleware
	errHandler ErrorHandler
}

// Bus is a synchronous publish/subscribe dispatcher. Namespaced views
// created by Namespace share subscriptions, middleware and the error
// handler with their parent. All methods are safe for concurrent use;
// handlers run outside the bus lock.
type Bus struct {
	core   *busCore
	prefix string
}

// NewBus creates an empty bus. A non-empty namespace prefixes every
// published type and subscribed pattern.
func NewBus(namespace ...string) *Bus {
	b := &Bus{core: &busCore{subs: make(map[string]*subscription)}}
	if len(namespace) > 0 && namespace[0] != "" {
		b.prefix = namespace[0]
	}
	return b
}

// Namespace returns a lightweight view that prefixes types and
// patterns with prefix, stacking on any existing prefix.
func (b *Bus) Namespace(prefix string) *Bus {
	return &Bus{core: b.core, prefix: b.qualify(prefix)}
}

func (b *Bus) qualify(s string) string {
	if b.prefix == "" {
		return s
	}
	if s == "" {
		return b.prefix
	}
	return b.prefix + "." + s
}

// Subscribe registers a handler for a pattern at priority zero.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	return b.SubscribePriority(pattern, 0, handler)
}

// SubscribePriority registers a handler dispatched in descending
// priority order, stable for equal priorities.
func (b *Bus) SubscribePriority(pattern string, priority int, handler Handler) string {
	return b.add(&subscription{pattern: b.qualify(pattern), priority: priority, handler: handler})
}

// SubscribeFilter registers a handler invoked for every event admitted
// by the filter, regardless of type.
func (b *Bus) SubscribeFilter(filter Filter, handler Handler) string {
	return b.add(&subscription{pattern: "*", filter: filter, handler: handler})
}

// SubscribePatternFilter registers a handler requiring both a pattern
// match and filter admission.
func (b *Bus) SubscribePatternFilter(pattern string, filter Filter, priority int, handler Handler) string {
	return b.add(&subscription{pattern: b.qualify(pattern), filter: filter, priority: priority, handler: handler})
}

func (b *Bus) add(sub *subscription) string {
	sub.id = uuid.NewString()
	b.core.mu.Lock()
	b.core.nextSeq++
	sub.seq = b.core.nextSeq
	b.core.subs[sub.id] = sub
	b.core.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.core.mu.Lock()
	delete(b.core.subs, id)
	b.core.mu.Unlock()
}

// Use appends a middleware to the dispatch chain.
func (b *Bus) Use(mw Middleware) {
	if mw == nil {
		return
	}
	b.core.mu.Lock()
	b.core.middleware = append(b.core.middleware, mw)
	b.core.mu.Unlock()
}

// OnError sets the handler invoked when a subscription handler fails
// or panics.
func (b *Bus) OnError(h ErrorHandler) {
	b.core.mu.Lock()
	b.core.errHandler = h
	b.core.mu.Unlock()
}

// Publish dispatches the event synchronously to every matching
// subscription in descending priority order, through the middleware
// chain. Handler errors and panics are captured; they never reach the
// publisher.
func (b *Bus) Publish(ev Event) {
	if b.prefix != "" {
		ev.Type = b.prefix + "." + ev.Type
	}

	b.core.mu.RLock()
	matched := make([]*subscription, 0, len(b.core.subs))
	for _, sub := range b.core.subs {
		if Match(sub.pattern, ev.Type) && (sub.filter == nil || sub.filter(ev)) {
			matched = append(matched, sub)
		}
	}
	chain := append([]Middleware(nil), b.core.middleware...)
	errHandler := b.core.errHandler
	b.core.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority > matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})

	dispatch := func(final Event) {
		for _, sub := range matched {
			b.invoke(sub, final, errHandler)
		}
	}
	next := dispatch
	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		inner := next
		next = func(e Event) { mw(e, inner) }
	}
	next(ev)
}

// PublishContext publishes after stamping trace correlation IDs from
// ctx (OpenTelemetry span context or the internal tracer) into the
// event metadata.
func (b *Bus) PublishContext(ctx context.Context, ev Event) {
	if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" || spanID != "" {
		if traceID != "" {
			ev = ev.WithMetadata("trace_id", traceID)
		}
		if spanID != "" {
			ev = ev.WithMetadata("span_id", spanID)
		}
	}
	b.Publish(ev)
}

// PublishAsync dispatches on a separate goroutine and returns
// immediately. Ordering across PublishAsync calls is not guaranteed.
func (b *Bus) PublishAsync(ev Event) {
	go b.Publish(ev)
}

func (b *Bus) invoke(sub *subscription, ev Event, errHandler ErrorHandler) {
	defer func() {
		if r := recover(); r != nil && errHandler != nil {
			errHandler(ev, fmt.Errorf("events: handler panic: %v", r))
		}
	}()
	if err := sub.handler(ev); err != nil && errHandler != nil {
		errHandler(ev, err)
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.core.mu.RLock()
	defer b.core.mu.RUnlock()
	return len(b.core.subs)
}
