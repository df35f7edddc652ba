package cache

import (
	"errors"
	"sort"
	"time"
)

// ErrBadSnapshot is returned when Load is given a malformed snapshot.
var ErrBadSnapshot = errors.New("cache: malformed snapshot")

// EntrySnapshot is the persisted form of one cache entry.
type EntrySnapshot[K comparable, V any] struct {
	Key            K          `json:"key"`
	Value          V          `json:"value"`
	InsertedAt     time.Time  `json:"insertedAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	HitCount       uint64     `json:"hitCount"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Groups         []string   `json:"groups,omitempty"`
}

// Snapshot is the persisted form of a cache. The layout is opaque to
// callers beyond the Save/Load round-trip contract.
type Snapshot[K comparable, V any] struct {
	TakenAt time.Time             `json:"takenAt"`
	Entries []EntrySnapshot[K, V] `json:"entries"`
}

// Save serialises the full entry map with timestamps. Already expired
// entries are skipped.
func (c *Cache[K, V]) Save() Snapshot[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	snap := Snapshot[K, V]{TakenAt: now, Entries: make([]EntrySnapshot[K, V], 0, len(c.entries))}
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		es := EntrySnapshot[K, V]{
			Key:            k,
			Value:          e.value,
			InsertedAt:     e.insertedAt,
			LastAccessedAt: e.lastAccessedAt,
			HitCount:       e.hitCount,
		}
		if !e.expiresAt.IsZero() {
			t := e.expiresAt
			es.ExpiresAt = &t
		}
		if len(e.groups) > 0 {
			for g := range e.groups {
				es.Groups = append(es.Groups, g)
			}
			sort.Strings(es.Groups)
		}
		snap.Entries = append(snap.Entries, es)
	}
	// Restore order follows original insertion so sequence-based
	// eviction tie-breaks survive the round-trip.
	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].InsertedAt.Before(snap.Entries[j].InsertedAt)
	})
	return snap
}

// Load replaces the cache contents with the snapshot, preserving
// timestamps, hit counts, TTL remainders and groups. Entries whose
// expiry already passed are dropped. On error the cache is unchanged.
func (c *Cache[K, V]) Load(snap Snapshot[K, V]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, es := range snap.Entries {
		if es.InsertedAt.IsZero() {
			return ErrBadSnapshot
		}
	}
	c.entries = make(map[K]*entry[V], len(snap.Entries))
	c.totalBytes = 0
	for _, es := range snap.Entries {
		if es.ExpiresAt != nil && !now.Before(*es.ExpiresAt) {
			continue
		}
		c.seq++
		e := &entry[V]{
			value:          es.Value,
			insertedAt:     es.InsertedAt,
			lastAccessedAt: es.LastAccessedAt,
			hitCount:       es.HitCount,
			insertSeq:      c.seq,
			accessSeq:      c.seq,
		}
		if c.sizer != nil {
			e.sizeBytes = c.sizer(es.Value)
			c.totalBytes += e.sizeBytes
		}
		if es.ExpiresAt != nil {
			e.expiresAt = *es.ExpiresAt
		}
		if len(es.Groups) > 0 {
			e.groups = make(map[string]struct{}, len(es.Groups))
			for _, g := range es.Groups {
				e.groups[g] = struct{}{}
			}
		}
		c.entries[es.Key] = e
	}
	return nil
}
