package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// AsyncLoader computes the value for a missing key under a context.
type AsyncLoader[K comparable, V any] func(context.Context, K) (V, error)

// AsyncCache exposes context-aware operations over a Cache and
// deduplicates concurrent loads per key.
type AsyncCache[K comparable, V any] struct {
	*Cache[K, V]
	flights singleflight.Group
}

// NewAsync wraps a cache for context-aware use.
func NewAsync[K comparable, V any](opts ...Option[K, V]) *AsyncCache[K, V] {
	return &AsyncCache[K, V]{Cache: New(opts...)}
}

// GetCtx returns the cached value, honoring ctx cancellation before
// the lookup.
func (c *AsyncCache[K, V]) GetCtx(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := c.Cache.Get(key)
	return v, ok, nil
}

// PutCtx stores the value, honoring ctx cancellation first.
func (c *AsyncCache[K, V]) PutCtx(ctx context.Context, key K, value V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Cache.Put(key, value)
	return nil
}

// GetOrLoad returns the cached value or computes it with loader.
// Concurrent callers for the same missing key share one load: the
// first caller's loader runs to completion (it is detached from that
// caller's cancellation) and its result is stored before any caller
// observes it. Loader errors are shared by all waiters and nothing is
// stored.
func (c *AsyncCache[K, V]) GetOrLoad(ctx context.Context, key K, loader AsyncLoader[K, V]) (V, error) {
	var zero V
	if v, ok := c.Cache.Get(key); ok {
		return v, nil
	}
	flightKey := keyString(key)
	res, err, _ := c.flights.Do(flightKey, func() (any, error) {
		// Re-check under the flight: a racing load may have stored it.
		if v, ok := c.Cache.Get(key); ok {
			return v, nil
		}
		v, err := loader(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		c.Cache.Put(key, v)
		return v, nil
	})
	if err != nil {
		return zero, fmt.Errorf("cache: load %v: %w", key, err)
	}
	return res.(V), nil
}
