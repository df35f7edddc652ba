package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCache(t *testing.T) {
	t.Run("put_get_round_trip", func(t *testing.T) {
		_, client := newTestRedis(t)
		c := NewRedis[payload](client, "test")
		ctx := context.Background()

		require.NoError(t, c.Put(ctx, "k", payload{Name: "a", Count: 3}, 0))

		v, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, payload{Name: "a", Count: 3}, v)
	})

	t.Run("missing_key_is_not_an_error", func(t *testing.T) {
		_, client := newTestRedis(t)
		c := NewRedis[string](client, "test")

		_, ok, err := c.Get(context.Background(), "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ttl_expires_entries", func(t *testing.T) {
		mr, client := newTestRedis(t)
		c := NewRedis[string](client, "test")
		ctx := context.Background()

		require.NoError(t, c.Put(ctx, "k", "v", time.Second))
		mr.FastForward(2 * time.Second)

		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete_and_clear_respect_prefix", func(t *testing.T) {
		_, client := newTestRedis(t)
		mine := NewRedis[string](client, "mine")
		other := NewRedis[string](client, "other")
		ctx := context.Background()

		require.NoError(t, mine.Put(ctx, "a", "1", 0))
		require.NoError(t, mine.Put(ctx, "b", "2", 0))
		require.NoError(t, other.Put(ctx, "a", "3", 0))

		require.NoError(t, mine.Delete(ctx, "a"))
		_, ok, err := mine.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, mine.Clear(ctx))
		_, ok, err = mine.Get(ctx, "b")
		require.NoError(t, err)
		assert.False(t, ok)

		v, ok, err := other.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "3", v)
	})
}
