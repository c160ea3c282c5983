package cache

import (
	"context"
	"time"

	"cache-manager/internal/common/errors"
)

// KeyMissing is returned by Store.TTL for keys that are absent or expired.
const KeyMissing time.Duration = -1

// ErrNotCacheable matches every error returned when a value fails a store's
// cacheability predicate.
var ErrNotCacheable error = &errors.AppError{
	Type:    errors.ErrTypeNotCacheable,
	Message: "value is not cacheable",
}

// Item is a key/value pair written by MSet.
type Item struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// IsCacheable decides whether a value may be stored at all.
type IsCacheable func(value any) bool

// DefaultIsCacheable rejects only nil, the value reads use to report a miss.
func DefaultIsCacheable(value any) bool {
	return value != nil
}

// Store is the contract every cache backend satisfies. Implementations must be
// safe for concurrent use.
//
// A ttl of zero on writes selects the store's default; a default of zero means
// entries never expire. Expired entries are absent to every read.
type Store interface {
	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) (any, bool, error)
	// MGet returns one value per key, positionally aligned, nil for misses.
	MGet(ctx context.Context, keys ...string) ([]any, error)
	// Set stores value under key. It fails with ErrNotCacheable without
	// mutating anything when the value is rejected.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// MSet stores every item or, if any item is not cacheable, none of them.
	MSet(ctx context.Context, items []Item, ttl time.Duration) error
	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
	// Keys lists every live key.
	Keys(ctx context.Context) ([]string, error)
	// Reset removes every entry.
	Reset(ctx context.Context) error
	// TTL reports the remaining lifetime of key: zero when it never expires,
	// KeyMissing when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// ResolveTTL applies the store default to a write ttl.
func ResolveTTL(ttl, defaultTTL time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if defaultTTL > 0 {
		return defaultTTL
	}
	return 0
}

// CheckCacheable validates every item against predicate and returns the error
// for the first rejected one.
func CheckCacheable(predicate IsCacheable, items ...Item) error {
	if predicate == nil {
		predicate = DefaultIsCacheable
	}
	for _, item := range items {
		if !predicate(item.Value) {
			return errors.NotCacheableError(item.Key, item.Value)
		}
	}
	return nil
}
