// Package local implements an unbounded in-process Store on top of
// patrickmn/go-cache. Expired entries are removed by a janitor goroutine.
package local

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
)

// Config holds local store configuration
type Config struct {
	// TTL is the default lifetime, zero for none.
	TTL time.Duration `json:"ttl"`
	// CleanupInterval is how often expired entries are purged. Zero disables
	// the janitor; expired entries are still invisible to reads.
	CleanupInterval time.Duration     `json:"cleanup_interval,omitempty"`
	IsCacheable     cache.IsCacheable `json:"-"`
}

// DefaultConfig returns default local store configuration
func DefaultConfig() Config {
	return Config{
		TTL:             5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.TTL < 0 {
		return errors.ConfigError("local ttl must not be negative")
	}
	if c.CleanupInterval < 0 {
		return errors.ConfigError("local cleanup interval must not be negative")
	}
	return nil
}

// Store wraps patrickmn/go-cache
type Store struct {
	cache       *gocache.Cache
	isCacheable cache.IsCacheable
}

var _ cache.Store = (*Store)(nil)

// NewStore creates a new local store
func NewStore(config Config) *Store {
	defaultTTL := config.TTL
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &Store{
		cache:       gocache.New(defaultTTL, config.CleanupInterval),
		isCacheable: config.IsCacheable,
	}
}

// Get retrieves a value from the local store
func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	value, found := s.cache.Get(key)
	return value, found, nil
}

// MGet retrieves several values, nil for misses
func (s *Store) MGet(_ context.Context, keys ...string) ([]any, error) {
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i], _ = s.cache.Get(key)
	}
	return values, nil
}

// Set stores a value in the local store
func (s *Store) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if err := cache.CheckCacheable(s.isCacheable, cache.Item{Key: key, Value: value}); err != nil {
		return err
	}
	s.cache.Set(key, value, expiration(ttl))
	return nil
}

// MSet stores every item, or none if one is not cacheable
func (s *Store) MSet(_ context.Context, items []cache.Item, ttl time.Duration) error {
	if err := cache.CheckCacheable(s.isCacheable, items...); err != nil {
		return err
	}
	d := expiration(ttl)
	for _, item := range items {
		s.cache.Set(item.Key, item.Value, d)
	}
	return nil
}

// Del removes values from the local store
func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

// Keys lists every unexpired key
func (s *Store) Keys(_ context.Context) ([]string, error) {
	items := s.cache.Items()
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	return keys, nil
}

// Reset removes all items from the local store
func (s *Store) Reset(_ context.Context) error {
	s.cache.Flush()
	return nil
}

// TTL reports the remaining lifetime of key
func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	_, expiresAt, found := s.cache.GetWithExpiration(key)
	if !found {
		return cache.KeyMissing, nil
	}
	if expiresAt.IsZero() {
		return 0, nil
	}
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return cache.KeyMissing, nil
	}
	return remaining, nil
}

// KeyCount returns the number of entries, including expired ones the janitor
// has not removed yet.
func (s *Store) KeyCount() int {
	return s.cache.ItemCount()
}

// DeleteExpired purges expired entries immediately
func (s *Store) DeleteExpired() {
	s.cache.DeleteExpired()
}

func expiration(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return gocache.DefaultExpiration
}
