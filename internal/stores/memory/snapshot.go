package memory

import (
	"time"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/logging"
)

// SnapshotEntry is one live entry of a Snapshot.
type SnapshotEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	// TTL is the remaining lifetime when the snapshot was taken, zero for none.
	TTL time.Duration `json:"ttl"`
	// ExpiresAt is the absolute expiry, nil for none.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Snapshot is the full live entry set of a store, most recently used first.
// It is JSON serializable; values decoded from JSON come back as JSON types.
type Snapshot []SnapshotEntry

// Dump exports every live entry without changing recency. With cloning on the
// values are copies, so mutating a snapshot never reaches the store.
func (s *Store) Dump() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.purgeExpired(now)

	keys := s.recentFirst()
	snapshot := make(Snapshot, 0, len(keys))
	for _, key := range keys {
		e, _ := s.lru.Peek(key)
		item := SnapshotEntry{Key: key, Value: s.prepare(e.value)}
		if !e.expiresAt.IsZero() {
			expiresAt := e.expiresAt
			item.TTL = expiresAt.Sub(now)
			item.ExpiresAt = &expiresAt
		}
		snapshot = append(snapshot, item)
	}
	return snapshot
}

// Load replaces the store contents with snapshot. Recency order is kept and
// entries that expired since the snapshot was taken are skipped. If the
// snapshot holds more entries than the capacity the least recent are dropped.
// A snapshot holding a value the store would not accept is rejected whole and
// leaves the store unchanged.
func (s *Store) Load(snapshot Snapshot) error {
	items := make([]cache.Item, len(snapshot))
	for i, item := range snapshot {
		items[i] = cache.Item{Key: item.Key, Value: item.Value}
	}
	if err := cache.CheckCacheable(s.isCacheable, items...); err != nil {
		return err
	}

	prepared := make([]any, len(snapshot))
	for i, item := range snapshot {
		prepared[i] = s.prepare(item.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Purge()

	now := s.clock.Now()
	loaded := 0
	for i := len(snapshot) - 1; i >= 0; i-- {
		item := snapshot[i]

		var expiresAt time.Time
		switch {
		case item.ExpiresAt != nil:
			expiresAt = *item.ExpiresAt
		case item.TTL > 0:
			expiresAt = now.Add(item.TTL)
		}
		if !expiresAt.IsZero() && !now.Before(expiresAt) {
			continue
		}

		s.set(item.Key, prepared[i], expiresAt, now)
		loaded++
	}

	s.logger.Info("Loaded snapshot",
		logging.Int("entries", loaded),
		logging.Int("skipped", len(snapshot)-loaded),
	)
	return nil
}
