// Package persist implements the bbolt-backed snapshot store behind
// the save/load hooks of the cache, event store, monitoring system and
// notification history. The on-disk layout is opaque; only the
// round-trip contract is guaranteed.
package persist

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per subsystem.
var (
	BucketCache      = []byte("cache")
	BucketEvents     = []byte("events")
	BucketMonitoring = []byte("monitoring")
	BucketNotify     = []byte("notify")
)

// ErrNotFound is returned when a snapshot key does not exist.
var ErrNotFound = errors.New("persist: snapshot not found")

// Store is a bbolt-backed key/value snapshot store.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{BucketCache, BucketEvents, BucketMonitoring, BucketNotify} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("persist: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save writes a snapshot blob under bucket/key.
func (s *Store) Save(bucket []byte, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("persist: unknown bucket %s", bucket)
		}
		return b.Put([]byte(key), value)
	})
}

// Load reads the snapshot blob under bucket/key.
func (s *Store) Load(bucket []byte, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("persist: unknown bucket %s", bucket)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// Delete removes the snapshot under bucket/key. Deleting a missing
// key is not an error.
func (s *Store) Delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("persist: unknown bucket %s", bucket)
		}
		return b.Delete([]byte(key))
	})
}

// Keys lists the snapshot keys in a bucket.
func (s *Store) Keys(bucket []byte) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("persist: unknown bucket %s", bucket)
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
