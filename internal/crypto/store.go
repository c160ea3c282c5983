package crypto

import (
	"context"
	"encoding/json"
	"time"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
)

// Store encrypts values before they reach the wrapped store. Values are JSON
// encoded first, so reads return JSON types (map[string]any, float64, ...).
type Store struct {
	store     cache.Store
	encryptor *Encryptor
}

var _ cache.Store = (*Store)(nil)

// WrapStore encrypts every value written to store
func WrapStore(store cache.Store, encryptor *Encryptor) *Store {
	return &Store{store: store, encryptor: encryptor}
}

// Unwrap returns the wrapped store
func (s *Store) Unwrap() cache.Store {
	return s.store
}

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}

	value, err := s.open(key, raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) MGet(ctx context.Context, keys ...string) ([]any, error) {
	raws, err := s.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(raws))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		if values[i], err = s.open(keys[i], raw); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	// Cacheability is judged on the plain value, the inner store only sees strings.
	if err := cache.CheckCacheable(nil, cache.Item{Key: key, Value: value}); err != nil {
		return err
	}

	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, key, sealed, ttl)
}

func (s *Store) MSet(ctx context.Context, items []cache.Item, ttl time.Duration) error {
	if err := cache.CheckCacheable(nil, items...); err != nil {
		return err
	}

	sealed := make([]cache.Item, len(items))
	for i, item := range items {
		ciphertext, err := s.seal(item.Value)
		if err != nil {
			return err
		}
		sealed[i] = cache.Item{Key: item.Key, Value: ciphertext}
	}
	return s.store.MSet(ctx, sealed, ttl)
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.store.Del(ctx, keys...)
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.store.Keys(ctx)
}

func (s *Store) Reset(ctx context.Context) error {
	return s.store.Reset(ctx)
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.store.TTL(ctx, key)
}

func (s *Store) seal(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", errors.SerializationError("failed to encode value", err)
	}
	return s.encryptor.Encrypt(data)
}

func (s *Store) open(key string, raw any) (any, error) {
	ciphertext, ok := raw.(string)
	if !ok {
		return nil, errors.SerializationError("stored value is not ciphertext", nil).WithContext("key", key)
	}

	data, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errors.SerializationError("failed to decode value", err).WithContext("key", key)
	}
	return value, nil
}
