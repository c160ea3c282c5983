// Package memory implements a size bounded, ttl aware in-process Store with
// least recently used eviction.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/huandu/go-clone"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/logging"
)

type entry struct {
	value     any
	expiresAt time.Time // zero => no ttl
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is the bounded memory store. Reads promote entries; when an insert
// pushes the store over capacity the least recently used entry is evicted.
// Expired entries are dropped when they are next touched.
type Store struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *entry]

	max         int
	ttl         time.Duration
	isCacheable cache.IsCacheable
	clone       bool
	clock       clock.Clock
	logger      logging.Logger
}

var _ cache.Store = (*Store)(nil)

// NewStore creates a memory store. Invalid values in config fall back to the
// defaults; call Config.Validate first to reject them instead.
func NewStore(config Config) *Store {
	config = config.withDefaults()
	return &Store{
		lru:         newLRU(config.Max),
		max:         config.Max,
		ttl:         config.TTL,
		isCacheable: config.IsCacheable,
		clone:       !config.DisableClone,
		clock:       config.Clock,
		logger:      config.Logger.WithFields(logging.String("store", "memory")),
	}
}

// newLRU never fails for the positive sizes withDefaults guarantees. Eviction
// is done by set, not by the LRU, so it can be logged.
func newLRU(size int) *simplelru.LRU[string, *entry] {
	lru, err := simplelru.NewLRU[string, *entry](size, nil)
	if err != nil {
		panic(err)
	}
	return lru
}

func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.get(key, s.clock.Now())
	return value, ok, nil
}

func (s *Store) MGet(_ context.Context, keys ...string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i], _ = s.get(key, now)
	}
	return values, nil
}

func (s *Store) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	item := cache.Item{Key: key, Value: value}
	if err := cache.CheckCacheable(s.isCacheable, item); err != nil {
		return err
	}

	stored := s.prepare(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.set(key, stored, s.expiresAt(now, ttl), now)
	return nil
}

// MSet validates and copies every item before touching the store, so a
// rejected batch leaves it unchanged.
func (s *Store) MSet(_ context.Context, items []cache.Item, ttl time.Duration) error {
	if err := cache.CheckCacheable(s.isCacheable, items...); err != nil {
		return err
	}

	prepared := make([]any, len(items))
	for i, item := range items {
		prepared[i] = s.prepare(item.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expiresAt := s.expiresAt(now, ttl)
	for i, item := range items {
		s.set(item.Key, prepared[i], expiresAt, now)
	}
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.lru.Remove(key)
	}
	return nil
}

// Keys lists live keys from most to least recently used without promoting them.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpired(s.clock.Now())
	return s.recentFirst(), nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Purge()
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(key)
	if !ok {
		return cache.KeyMissing, nil
	}

	now := s.clock.Now()
	if e.expired(now) {
		s.lru.Remove(key)
		return cache.KeyMissing, nil
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

// KeyCount returns the number of live entries.
func (s *Store) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpired(s.clock.Now())
	return s.lru.Len()
}

// Max returns the capacity bound.
func (s *Store) Max() int {
	return s.max
}

func (s *Store) get(key string, now time.Time) (any, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		s.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// set must be called with mu held.
func (s *Store) set(key string, value any, expiresAt, now time.Time) {
	if !s.lru.Contains(key) && s.lru.Len() >= s.max {
		if evicted, oldest, ok := s.lru.RemoveOldest(); ok && !oldest.expired(now) {
			s.logger.Debug("Evicted least recently used entry",
				logging.String("key", evicted),
				logging.Int("max", s.max),
			)
		}
	}
	s.lru.Add(key, &entry{value: value, expiresAt: expiresAt})
}

// recentFirst returns the keys most recently used first. The LRU lists them
// oldest first.
func (s *Store) recentFirst() []string {
	keys := s.lru.Keys()
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

func (s *Store) purgeExpired(now time.Time) {
	for _, key := range s.lru.Keys() {
		if e, ok := s.lru.Peek(key); ok && e.expired(now) {
			s.lru.Remove(key)
		}
	}
}

func (s *Store) expiresAt(now time.Time, ttl time.Duration) time.Time {
	ttl = cache.ResolveTTL(ttl, s.ttl)
	if ttl == 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// prepare deep-copies value, unexported fields included, unless cloning is
// disabled, so later mutation of the caller's value cannot reach the stored
// copy. Cyclic values are supported.
func (s *Store) prepare(value any) any {
	if !s.clone || value == nil {
		return value
	}
	return clone.Slowly(value)
}
