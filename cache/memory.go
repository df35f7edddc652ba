package cache

import (
	"errors"
	"time"
)

// ErrEntryTooLarge is returned when a single entry exceeds the memory
// budget of a memory-aware cache.
var ErrEntryTooLarge = errors.New("cache: entry larger than memory budget")

// entryOverhead is the fixed size charged for values whose size cannot
// be derived from their content.
const entryOverhead = 64

// Sizer estimates the memory footprint of a value in bytes.
type Sizer[V any] func(V) int64

// DefaultSizer charges strings and byte slices their length plus the
// fixed per-entry overhead, and everything else the overhead alone.
func DefaultSizer[V any](v V) int64 {
	switch t := any(v).(type) {
	case string:
		return int64(len(t)) + entryOverhead
	case []byte:
		return int64(len(t)) + entryOverhead
	default:
		return entryOverhead
	}
}

// MemoryAware bounds a cache by estimated memory footprint instead of
// (or in addition to) entry count. When the total estimate exceeds the
// budget, entries are evicted per the configured policy until the
// cache fits.
type MemoryAware[K comparable, V any] struct {
	*Cache[K, V]
}

// NewMemoryAware creates a memory-bounded cache. A nil sizer selects
// DefaultSizer.
func NewMemoryAware[K comparable, V any](maxMemoryBytes int64, sizer Sizer[V], opts ...Option[K, V]) *MemoryAware[K, V] {
	c := New(opts...)
	if sizer == nil {
		sizer = DefaultSizer[V]
	}
	c.maxMemory = maxMemoryBytes
	c.sizer = sizer
	return &MemoryAware[K, V]{Cache: c}
}

// Put stores the value, evicting as needed to stay within the memory
// budget. An entry larger than the whole budget is rejected with
// ErrEntryTooLarge and the cache is left unchanged.
func (c *MemoryAware[K, V]) Put(key K, value V) error {
	return c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL is Put with an explicit TTL.
func (c *MemoryAware[K, V]) PutTTL(key K, value V, ttl time.Duration) error {
	if c.maxMemory > 0 && c.sizer(value) > c.maxMemory {
		return ErrEntryTooLarge
	}
	c.Cache.PutTTL(key, value, ttl)
	return nil
}
