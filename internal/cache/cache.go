package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

// Loader produces the value for a key that no cache holds.
type Loader func(ctx context.Context) (any, error)

// Cacher is the shape shared by a single Cache and a MultiCache.
type Cacher interface {
	Get(ctx context.Context, key string) (any, bool, error)
	// MGet returns one value per key, nil for misses. A nil value reads as a
	// miss, so a store that accepts nil cannot serve it through MGet and a
	// MultiCache falls through to the next tier for it.
	MGet(ctx context.Context, keys ...string) ([]any, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	MSet(ctx context.Context, items []Item, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Reset(ctx context.Context) error
	Wrap(ctx context.Context, key string, fn Loader, ttl time.Duration) (any, error)
}

// Cache wraps exactly one Store and adds Wrap.
type Cache struct {
	store            Store
	logger           logging.Logger
	refreshThreshold time.Duration
	flight           *singleflight.Group
	refreshing       sync.Map
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for swallowed store failures.
func WithLogger(logger logging.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithRefreshThreshold makes Wrap reload a hit in the background once its
// remaining ttl drops below threshold. The stale value is still returned.
func WithRefreshThreshold(threshold time.Duration) Option {
	return func(c *Cache) {
		c.refreshThreshold = threshold
	}
}

// WithSingleFlight makes concurrent Wrap misses on the same key share one
// loader call instead of each computing the value.
func WithSingleFlight() Option {
	return func(c *Cache) {
		c.flight = &singleflight.Group{}
	}
}

// New creates a Cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrGlobal(c.logger).WithFields(logging.String("component", "cache"))
	return c
}

// Store returns the underlying store.
func (c *Cache) Store() Store {
	return c.store
}

func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	return c.store.Get(ctx, key)
}

func (c *Cache) MGet(ctx context.Context, keys ...string) ([]any, error) {
	return c.store.MGet(ctx, keys...)
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.store.Set(ctx, key, value, ttl)
}

func (c *Cache) MSet(ctx context.Context, items []Item, ttl time.Duration) error {
	return c.store.MSet(ctx, items, ttl)
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	return c.store.Del(ctx, keys...)
}

func (c *Cache) Reset(ctx context.Context) error {
	return c.store.Reset(ctx)
}

func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	return c.store.Keys(ctx)
}

func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.store.TTL(ctx, key)
}

// Wrap returns the cached value for key, or calls fn, stores its result with
// ttl and returns it. fn is never called on a hit. Without WithSingleFlight
// two concurrent misses may both call fn; the last write wins. If storing the
// computed value fails the error is returned together with the value, so a
// caller can still use a result the store rejected as ErrNotCacheable.
func (c *Cache) Wrap(ctx context.Context, key string, fn Loader, ttl time.Duration) (any, error) {
	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WithContext(ctx).Warn("Cache read failed, computing value",
			logging.String("key", key),
			logging.Err(err),
		)
	}
	if err == nil && found {
		if c.refreshThreshold > 0 {
			c.refreshIfStale(ctx, key, fn, ttl)
		}
		return value, nil
	}

	if c.flight == nil {
		return c.compute(ctx, key, fn, ttl)
	}
	value, err, _ = c.flight.Do(key, func() (interface{}, error) {
		return c.compute(ctx, key, fn, ttl)
	})
	return value, err
}

func (c *Cache) compute(ctx context.Context, key string, fn Loader, ttl time.Duration) (any, error) {
	value, err := fn(ctx)
	if err != nil {
		return nil, errors.ComputeError(key, err)
	}

	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		logger := c.logger.WithContext(ctx)
		if errors.IsType(err, errors.ErrTypeNotCacheable) {
			logger.Debug("Computed value is not cacheable", logging.String("key", key))
		} else {
			logger.Warn("Failed to store computed value", logging.String("key", key), logging.Err(err))
		}
		return value, err
	}
	return value, nil
}

// refreshIfStale starts at most one background reload per key.
func (c *Cache) refreshIfStale(ctx context.Context, key string, fn Loader, ttl time.Duration) {
	remaining, err := c.store.TTL(ctx, key)
	if err != nil || remaining <= 0 || remaining >= c.refreshThreshold {
		return
	}
	if _, busy := c.refreshing.LoadOrStore(key, struct{}{}); busy {
		return
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.refreshing.Delete(key)

		value, err := fn(bg)
		if err != nil {
			c.logger.Error("Background refresh failed", errors.ComputeError(key, err), logging.String("key", key))
			return
		}
		if err := c.store.Set(bg, key, value, ttl); err != nil {
			c.logger.Warn("Failed to store refreshed value", logging.String("key", key), logging.Err(err))
			return
		}
		c.logger.Debug("Refreshed cache entry", logging.String("key", key))
	}()
}
