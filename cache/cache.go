// Package cache implements a generic in-process key/value store with
// TTL, pluggable eviction (LRU/LFU/FIFO), statistics, listener events,
// pattern and group invalidation, memory-aware bounding, loading and
// async variants, multi-level composition, and a Redis-backed
// distributed adapter.
package cache

import (
	"sync"
	"time"
)

// Policy selects the eviction rule applied when a bounded cache
// exceeds its capacity.
type Policy int

const (
	// LRU evicts the entry with the oldest access, ties broken by
	// insertion order.
	LRU Policy = iota
	// LFU evicts the entry with the fewest hits, ties broken by oldest
	// access.
	LFU
	// FIFO evicts the entry inserted first.
	FIFO
)

// EventKind labels cache listener notifications.
type EventKind string

const (
	EventHit    EventKind = "hit"
	EventMiss   EventKind = "miss"
	EventPut    EventKind = "put"
	EventEvict  EventKind = "evict"
	EventExpire EventKind = "expire"
)

// Listener observes cache activity. Listeners run after the cache
// releases its lock; calling back into the cache is safe.
type Listener[K comparable] func(kind EventKind, key K)

// Stats is an atomic snapshot of cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Puts        uint64
	Evictions   uint64
	Expirations uint64
	Size        int
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	value          V
	insertedAt     time.Time
	lastAccessedAt time.Time
	expiresAt      time.Time // zero means no expiry
	hitCount       uint64
	sizeBytes      int64
	groups         map[string]struct{}

	insertSeq uint64
	accessSeq uint64
}

// Cache is a bounded key/value store. All methods are safe for
// concurrent use; per-key operations are linearised under one lock and
// eviction runs inside the put critical section.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	seq     uint64

	maxSize    int
	defaultTTL time.Duration
	policy     Policy
	listener   Listener[K]
	now        func() time.Time

	maxMemory  int64
	sizer      func(V) int64
	totalBytes int64

	hits        uint64
	misses      uint64
	puts        uint64
	evictions   uint64
	expirations uint64

	sweepStop chan struct{}
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxSize bounds the entry count; 0 means unbounded.
func WithMaxSize[K comparable, V any](n int) Option[K, V] {
	return func(c *Cache[K, V]) { c.maxSize = n }
}

// WithDefaultTTL applies a TTL to entries put without one.
func WithDefaultTTL[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.defaultTTL = d }
}

// WithPolicy selects the eviction policy (default LRU).
func WithPolicy[K comparable, V any](p Policy) Option[K, V] {
	return func(c *Cache[K, V]) { c.policy = p }
}

// WithListener registers the event listener.
func WithListener[K comparable, V any](l Listener[K]) Option[K, V] {
	return func(c *Cache[K, V]) { c.listener = l }
}

// WithClock overrides the time source, for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// New creates a cache.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		policy:  LRU,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewLRU creates an LRU-bounded cache.
func NewLRU[K comparable, V any](maxSize int, opts ...Option[K, V]) *Cache[K, V] {
	return New(append(opts, WithMaxSize[K, V](maxSize), WithPolicy[K, V](LRU))...)
}

// NewLFU creates an LFU-bounded cache.
func NewLFU[K comparable, V any](maxSize int, opts ...Option[K, V]) *Cache[K, V] {
	return New(append(opts, WithMaxSize[K, V](maxSize), WithPolicy[K, V](LFU))...)
}

// NewFIFO creates a FIFO-bounded cache.
func NewFIFO[K comparable, V any](maxSize int, opts ...Option[K, V]) *Cache[K, V] {
	return New(append(opts, WithMaxSize[K, V](maxSize), WithPolicy[K, V](FIFO))...)
}

type firedEvent[K comparable] struct {
	kind EventKind
	key  K
}

func (c *Cache[K, V]) emit(pending []firedEvent[K]) {
	if c.listener == nil {
		return
	}
	for _, ev := range pending {
		c.listener(ev.kind, ev.key)
	}
}

// Put upserts the value under key using the default TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL upserts with an explicit TTL (0 means no expiry). Updating an
// existing key refreshes its value, TTL and recency but keeps its
// insertion position.
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	c.putInternal(key, value, ttl, nil)
}

func (c *Cache[K, V]) putInternal(key K, value V, ttl time.Duration, groups []string) {
	var pending []firedEvent[K]
	c.mu.Lock()
	now := c.now()
	c.seq++
	size := int64(0)
	if c.sizer != nil {
		size = c.sizer(value)
	}
	e, exists := c.entries[key]
	if exists {
		c.totalBytes -= e.sizeBytes
		e.value = value
		e.lastAccessedAt = now
		e.accessSeq = c.seq
		e.sizeBytes = size
	} else {
		e = &entry[V]{
			value:          value,
			insertedAt:     now,
			lastAccessedAt: now,
			insertSeq:      c.seq,
			accessSeq:      c.seq,
			sizeBytes:      size,
		}
		c.entries[key] = e
	}
	c.totalBytes += size
	if len(groups) > 0 {
		e.groups = make(map[string]struct{}, len(groups))
		for _, g := range groups {
			e.groups[g] = struct{}{}
		}
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	c.puts++
	pending = append(pending, firedEvent[K]{EventPut, key})
	pending = c.evictLocked(pending)
	c.mu.Unlock()
	c.emit(pending)
}

// evictLocked enforces the size and memory bounds. Caller holds c.mu.
func (c *Cache[K, V]) evictLocked(pending []firedEvent[K]) []firedEvent[K] {
	for (c.maxSize > 0 && len(c.entries) > c.maxSize) ||
		(c.maxMemory > 0 && c.totalBytes > c.maxMemory) {
		victim, ok := c.selectVictimLocked()
		if !ok {
			break
		}
		c.removeLocked(victim)
		c.evictions++
		pending = append(pending, firedEvent[K]{EventEvict, victim})
	}
	return pending
}

func (c *Cache[K, V]) selectVictimLocked() (K, bool) {
	var victim K
	var best *entry[V]
	for k, e := range c.entries {
		if best == nil || c.worseThan(e, best) {
			victim, best = k, e
		}
	}
	return victim, best != nil
}

// worseThan reports whether a is a better eviction victim than b.
func (c *Cache[K, V]) worseThan(a, b *entry[V]) bool {
	switch c.policy {
	case LFU:
		if a.hitCount != b.hitCount {
			return a.hitCount < b.hitCount
		}
		return a.accessSeq < b.accessSeq
	case FIFO:
		return a.insertSeq < b.insertSeq
	default: // LRU
		if a.accessSeq != b.accessSeq {
			return a.accessSeq < b.accessSeq
		}
		return a.insertSeq < b.insertSeq
	}
}

func (c *Cache[K, V]) removeLocked(key K) {
	if e, ok := c.entries[key]; ok {
		c.totalBytes -= e.sizeBytes
		delete(c.entries, key)
	}
}

// Get returns the live value under key. Expired entries are removed
// lazily and never returned.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	var pending []firedEvent[K]
	c.mu.Lock()
	now := c.now()
	e, ok := c.entries[key]
	if ok && !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		c.removeLocked(key)
		c.expirations++
		pending = append(pending, firedEvent[K]{EventExpire, key})
		ok = false
	}
	if !ok {
		c.misses++
		pending = append(pending, firedEvent[K]{EventMiss, key})
		c.mu.Unlock()
		c.emit(pending)
		return zero, false
	}
	c.seq++
	e.lastAccessedAt = now
	e.accessSeq = c.seq
	e.hitCount++
	c.hits++
	value := e.value
	pending = append(pending, firedEvent[K]{EventHit, key})
	c.mu.Unlock()
	c.emit(pending)
	return value, true
}

// Peek returns the live value without touching recency or stats.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key holds a live entry, without side effects.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.Peek(key)
	return ok
}

// Invalidate removes key if present.
func (c *Cache[K, V]) Invalidate(key K) {
	var pending []firedEvent[K]
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
		pending = append(pending, firedEvent[K]{EventEvict, key})
	}
	c.mu.Unlock()
	c.emit(pending)
}

// InvalidateAll removes every entry, emitting one evict event per key.
func (c *Cache[K, V]) InvalidateAll() {
	var pending []firedEvent[K]
	c.mu.Lock()
	for k := range c.entries {
		pending = append(pending, firedEvent[K]{EventEvict, k})
	}
	c.entries = make(map[K]*entry[V])
	c.totalBytes = 0
	c.mu.Unlock()
	c.emit(pending)
}

// Keys returns the keys of all live entries.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	keys := make([]K, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Size returns the current entry count, expired entries included until
// their lazy removal.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetStats returns an atomic snapshot of counters.
func (c *Cache[K, V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Puts:        c.puts,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.entries),
	}
}

// MemoryBytes returns the current estimated memory footprint (0 unless
// memory-aware).
func (c *Cache[K, V]) MemoryBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// StartSweeper runs background expiry at the given interval until
// StopSweeper. Lazy expiry on access remains active regardless.
func (c *Cache[K, V]) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.mu.Lock()
	if c.sweepStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.sweepStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweeper halts the background sweeper. Safe to call repeatedly.
func (c *Cache[K, V]) StopSweeper() {
	c.mu.Lock()
	stop := c.sweepStop
	c.sweepStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (c *Cache[K, V]) sweep() {
	var pending []firedEvent[K]
	c.mu.Lock()
	now := c.now()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			c.removeLocked(k)
			c.expirations++
			pending = append(pending, firedEvent[K]{EventExpire, k})
		}
	}
	c.mu.Unlock()
	c.emit(pending)
}
