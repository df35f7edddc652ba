package cache

import "fmt"

// Loader computes the value for a missing key.
type Loader[K comparable, V any] func(K) (V, error)

// LoadingCache populates misses through a loader. Loader errors
// propagate to the caller and nothing is stored.
type LoadingCache[K comparable, V any] struct {
	*Cache[K, V]
	loader Loader[K, V]
}

// NewLoading wraps a cache with a loader.
func NewLoading[K comparable, V any](loader Loader[K, V], opts ...Option[K, V]) *LoadingCache[K, V] {
	return &LoadingCache[K, V]{Cache: New(opts...), loader: loader}
}

// Get returns the cached value, invoking the loader on a miss and
// storing the result under the default TTL.
func (c *LoadingCache[K, V]) Get(key K) (V, error) {
	if v, ok := c.Cache.Get(key); ok {
		return v, nil
	}
	v, err := c.loader(key)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("cache: load %v: %w", key, err)
	}
	c.Cache.Put(key, v)
	return v, nil
}
