package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
)

const scanBatch = 100

// Store keeps entries in redis. Expiry is delegated to the server.
type Store struct {
	rdb         *redis.Client
	keyPrefix   string
	ttl         time.Duration
	isCacheable cache.IsCacheable
}

var _ cache.Store = (*Store)(nil)

// NewStore creates a store over an existing client. The client is not owned.
func NewStore(rdb *redis.Client, config Config) *Store {
	return &Store{
		rdb:         rdb,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		isCacheable: config.IsCacheable,
	}
}

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	val, err := s.rdb.Get(ctx, s.keyPrefix+key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.ConnectionError("redis get failed", err)
	}
	return decode(val), true, nil
}

func (s *Store) MGet(ctx context.Context, keys ...string) ([]any, error) {
	values := make([]any, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	raw, err := s.rdb.MGet(ctx, s.prefixed(keys)...).Result()
	if err != nil {
		return nil, errors.ConnectionError("redis mget failed", err)
	}
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[i] = decode(str)
		}
	}
	return values, nil
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := cache.CheckCacheable(s.isCacheable, cache.Item{Key: key, Value: value}); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.SerializationError("failed to encode value", err).WithContext("key", key)
	}

	if err := s.rdb.Set(ctx, s.keyPrefix+key, data, cache.ResolveTTL(ttl, s.ttl)).Err(); err != nil {
		return errors.ConnectionError("redis set failed", err)
	}
	return nil
}

// MSet writes the batch in one MULTI/EXEC transaction.
func (s *Store) MSet(ctx context.Context, items []cache.Item, ttl time.Duration) error {
	if err := cache.CheckCacheable(s.isCacheable, items...); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	encoded := make([][]byte, len(items))
	for i, item := range items {
		data, err := json.Marshal(item.Value)
		if err != nil {
			return errors.SerializationError("failed to encode value", err).WithContext("key", item.Key)
		}
		encoded[i] = data
	}

	expiration := cache.ResolveTTL(ttl, s.ttl)
	pipe := s.rdb.TxPipeline()
	for i, item := range items {
		pipe.Set(ctx, s.keyPrefix+item.Key, encoded[i], expiration)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.ConnectionError("redis mset failed", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, s.prefixed(keys)...).Err(); err != nil {
		return errors.ConnectionError("redis del failed", err)
	}
	return nil
}

// Keys lists every key under the prefix, with the prefix stripped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, key := range raw {
		keys[i] = strings.TrimPrefix(key, s.keyPrefix)
	}
	return keys, nil
}

// Reset removes every key under the prefix.
func (s *Store) Reset(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.ConnectionError("redis reset failed", err)
	}
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.PTTL(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return 0, errors.ConnectionError("redis pttl failed", err)
	}
	switch ttl {
	case -2:
		return cache.KeyMissing, nil
	case -1:
		return 0, nil
	}
	return ttl, nil
}

func (s *Store) scan(ctx context.Context) ([]string, error) {
	iter := s.rdb.Scan(ctx, 0, s.keyPrefix+"*", scanBatch).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.ConnectionError("redis scan failed", err)
	}
	return keys, nil
}

func (s *Store) prefixed(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = s.keyPrefix + key
	}
	return out
}

// decode returns the JSON value held in val, or val itself when it was not
// written as JSON.
func decode(val string) any {
	var result any
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return val
	}
	return result
}
