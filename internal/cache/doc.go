// Package cache provides a uniform caching contract over heterogeneous backends
// and composes several of them into one logical cache.
//
// It defines three pieces:
//
// 1. Store - the contract every backend implements
//   - Get, MGet, Set, MSet, Del, Keys, Reset, TTL
//   - per-key or default ttl, lazy expiration
//   - a cacheability predicate gating every write
//
// 2. Cache - one Store plus Wrap
//   - Wrap returns the cached value or computes, stores and returns it
//   - optional background refresh and single-flight loading
//
// 3. MultiCache - an ordered list of tiers behaving as one Cacher
//   - reads fall back from tier 0 to the slowest tier
//   - a hit in a slower tier is copied into the faster ones
//   - writes, deletes and resets fan out to every tier
//   - tier failures are logged and swallowed
//
// Usage:
//
//	memory := cache.New(memory.NewStore(memory.Config{Max: 1000, TTL: time.Minute}))
//	shared := cache.New(redis.NewStore(client, redis.Config{KeyPrefix: "app:"}))
//	multi := cache.NewMulti([]cache.Cacher{memory, shared})
//
//	user, err := multi.Wrap(ctx, "user:42", func(ctx context.Context) (any, error) {
//		return loadUser(ctx, 42)
//	}, 0)
package cache
