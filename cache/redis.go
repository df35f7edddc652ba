package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Distributed over a Redis client with JSON
// value encoding. All keys are namespaced under a prefix so Clear
// only touches this cache's keys.
type RedisCache[V any] struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. Keys are stored as "<prefix>:<key>"; an empty
// prefix defaults to "aspect".
func NewRedis[V any](client redis.UniversalClient, prefix string) *RedisCache[V] {
	if prefix == "" {
		prefix = "aspect"
	}
	return &RedisCache[V]{client: client, prefix: prefix}
}

func (c *RedisCache[V]) key(k string) string { return c.prefix + ":" + k }

// Get fetches and decodes the value under key.
func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cache: redis get %s: %w", key, err)
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("cache: redis decode %s: %w", key, err)
	}
	return v, true, nil
}

// Put encodes and stores the value with an optional TTL (0 keeps the
// key until deleted).
func (c *RedisCache[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: redis encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis put %s: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (c *RedisCache[V]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under this cache's prefix using SCAN to
// avoid blocking the server.
func (c *RedisCache[V]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 256 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: redis clear: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis clear scan: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache: redis clear: %w", err)
		}
	}
	return nil
}
