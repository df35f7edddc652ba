package persist

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aspect/cache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aspect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	t.Run("save_load_round_trip", func(t *testing.T) {
		s := openTestStore(t)

		require.NoError(t, s.Save(BucketCache, "default", []byte(`{"x":1}`)))
		data, err := s.Load(BucketCache, "default")
		require.NoError(t, err)
		assert.JSONEq(t, `{"x":1}`, string(data))
	})

	t.Run("missing_key_is_not_found", func(t *testing.T) {
		s := openTestStore(t)
		_, err := s.Load(BucketEvents, "absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete_and_keys", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.Save(BucketNotify, "a", []byte("1")))
		require.NoError(t, s.Save(BucketNotify, "b", []byte("2")))

		keys, err := s.Keys(BucketNotify)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, keys)

		require.NoError(t, s.Delete(BucketNotify, "a"))
		require.NoError(t, s.Delete(BucketNotify, "a")) // idempotent

		keys, err = s.Keys(BucketNotify)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, keys)
	})

	t.Run("survives_reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aspect.db")
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Save(BucketMonitoring, "state", []byte("payload")))
		require.NoError(t, s.Close())

		s2, err := Open(path)
		require.NoError(t, err)
		defer func() { _ = s2.Close() }()

		data, err := s2.Load(BucketMonitoring, "state")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	})

	t.Run("carries_cache_snapshots", func(t *testing.T) {
		s := openTestStore(t)

		c := cache.New[string, string]()
		c.Put("k", "v")
		blob, err := json.Marshal(c.Save())
		require.NoError(t, err)
		require.NoError(t, s.Save(BucketCache, "default", blob))

		data, err := s.Load(BucketCache, "default")
		require.NoError(t, err)

		var snap cache.Snapshot[string, string]
		require.NoError(t, json.Unmarshal(data, &snap))

		restored := cache.New[string, string]()
		require.NoError(t, restored.Load(snap))
		v, ok := restored.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})
}
