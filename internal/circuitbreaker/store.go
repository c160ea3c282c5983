package circuitbreaker

import (
	"context"
	"time"

	"cache-manager/internal/cache"
)

// Store guards every call to the wrapped store with a Breaker. While the
// breaker is open calls fail immediately with a connection error, which a
// MultiCache treats as a miss on that tier.
type Store struct {
	store   cache.Store
	breaker *Breaker
}

var _ cache.Store = (*Store)(nil)

// WrapStore decorates store with breaker
func WrapStore(store cache.Store, breaker *Breaker) *Store {
	return &Store{store: store, breaker: breaker}
}

// Breaker returns the guarding breaker
func (s *Store) Breaker() *Breaker {
	return s.breaker
}

// Unwrap returns the guarded store
func (s *Store) Unwrap() cache.Store {
	return s.store
}

type getResult struct {
	value any
	found bool
}

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		value, found, err := s.store.Get(ctx, key)
		return getResult{value: value, found: found}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := result.(getResult)
	return r.value, r.found, nil
}

func (s *Store) MGet(ctx context.Context, keys ...string) ([]any, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.store.MGet(ctx, keys...)
	})
	if err != nil {
		return nil, err
	}
	return result.([]any), nil
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.run(func() error { return s.store.Set(ctx, key, value, ttl) })
}

func (s *Store) MSet(ctx context.Context, items []cache.Item, ttl time.Duration) error {
	return s.run(func() error { return s.store.MSet(ctx, items, ttl) })
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.run(func() error { return s.store.Del(ctx, keys...) })
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.store.Keys(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (s *Store) Reset(ctx context.Context) error {
	return s.run(func() error { return s.store.Reset(ctx) })
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.store.TTL(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return result.(time.Duration), nil
}

func (s *Store) run(fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}
