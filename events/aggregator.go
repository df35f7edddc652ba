package events

import (
	"sync"
	"time"
)

// BatchHandler receives a flushed batch of events in insertion order.
type BatchHandler func([]Event)

// Aggregator buffers events per registered pattern and flushes a batch
// when the buffer reaches maxBatchSize, or when the oldest buffered
// event is older than maxWait (evaluated on a periodic tick or an
// explicit Flush).
type Aggregator struct {
	bus          *Bus
	maxBatchSize int
	maxWait      time.Duration
	now          func() time.Time

	mu       sync.Mutex
	closed   bool
	patterns map[string]*patternBuffer
	subIDs   []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type patternBuffer struct {
	handler BatchHandler
	events  []Event
	oldest  time.Time
}

// NewAggregator creates an aggregator bound to bus. A maxBatchSize
// <= 0 disables the size trigger; a maxWait <= 0 disables the age
// trigger and the background tick.
func NewAggregator(bus *Bus, maxBatchSize int, maxWait time.Duration) *Aggregator {
	a := &Aggregator{
		bus:          bus,
		maxBatchSize: maxBatchSize,
		maxWait:      maxWait,
		now:          time.Now,
		patterns:     make(map[string]*patternBuffer),
		stopCh:       make(chan struct{}),
	}
	if maxWait > 0 {
		a.wg.Add(1)
		go a.tickLoop()
	}
	return a
}

// OnBatch registers a batch receiver for a pattern and starts
// buffering matching events.
func (a *Aggregator) OnBatch(pattern string, handler BatchHandler) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.patterns[pattern] = &patternBuffer{handler: handler}
	a.mu.Unlock()

	id := a.bus.Subscribe(pattern, func(ev Event) error {
		a.buffer(pattern, ev)
		return nil
	})
	a.mu.Lock()
	a.subIDs = append(a.subIDs, id)
	a.mu.Unlock()
}

func (a *Aggregator) buffer(pattern string, ev Event) {
	a.mu.Lock()
	pb, ok := a.patterns[pattern]
	if !ok || a.closed {
		a.mu.Unlock()
		return
	}
	if len(pb.events) == 0 {
		pb.oldest = a.now()
	}
	pb.events = append(pb.events, ev)
	var due []Event
	handler := pb.handler
	if a.maxBatchSize > 0 && len(pb.events) >= a.maxBatchSize {
		due = pb.events
		pb.events = nil
	}
	a.mu.Unlock()
	if len(due) > 0 {
		handler(due)
	}
}

// Flush emits every buffered batch whose oldest event has exceeded
// maxWait.
func (a *Aggregator) Flush() { a.flush(false) }

// FlushAll emits every buffered batch regardless of age.
func (a *Aggregator) FlushAll() { a.flush(true) }

func (a *Aggregator) flush(force bool) {
	type pending struct {
		handler BatchHandler
		events  []Event
	}
	var out []pending
	now := a.now()
	a.mu.Lock()
	for _, pb := range a.patterns {
		if len(pb.events) == 0 {
			continue
		}
		if force || (a.maxWait > 0 && now.Sub(pb.oldest) >= a.maxWait) {
			out = append(out, pending{handler: pb.handler, events: pb.events})
			pb.events = nil
		}
	}
	a.mu.Unlock()
	for _, p := range out {
		p.handler(p.events)
	}
}

func (a *Aggregator) tickLoop() {
	defer a.wg.Done()
	interval := a.maxWait / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush(false)
		case <-a.stopCh:
			return
		}
	}
}

// Close stops the tick loop, unsubscribes from the bus and emits any
// remaining buffered batches.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	ids := append([]string(nil), a.subIDs...)
	a.mu.Unlock()

	close(a.stopCh)
	a.wg.Wait()
	for _, id := range ids {
		a.bus.Unsubscribe(id)
	}
	a.flush(true)
}
