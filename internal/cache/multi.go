package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

// MultiCache composes an ordered list of tiers into one cache. Tier 0 is read
// first. Writes, deletes and resets go to every tier. A failing tier never
// fails a call; only a loader error from Wrap reaches the caller.
type MultiCache struct {
	tiers      []Cacher
	logger     logging.Logger
	sequential bool
	flight     *singleflight.Group
	locker     Locker
}

// Locker serializes Wrap computations of the same key across processes.
// unlock must be safe to call once the lock is lost.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MultiOption configures a MultiCache.
type MultiOption func(*MultiCache)

// WithMultiLogger sets the logger used to report swallowed tier failures.
func WithMultiLogger(logger logging.Logger) MultiOption {
	return func(m *MultiCache) {
		m.logger = logger
	}
}

// WithSequentialFanOut dispatches fan-out operations to tiers one after the
// other, in tier order, instead of concurrently.
func WithSequentialFanOut() MultiOption {
	return func(m *MultiCache) {
		m.sequential = true
	}
}

// WithMultiSingleFlight deduplicates concurrent Wrap misses on the same key.
func WithMultiSingleFlight() MultiOption {
	return func(m *MultiCache) {
		m.flight = &singleflight.Group{}
	}
}

// WithMultiLocker takes locker's lock around every Wrap computation. The
// tiers are checked again once the lock is held, so a value computed by
// another holder is returned instead of being recomputed. When the lock
// cannot be taken the value is computed anyway.
func WithMultiLocker(locker Locker) MultiOption {
	return func(m *MultiCache) {
		m.locker = locker
	}
}

// NewMulti creates a MultiCache over tiers. The tiers are referenced, not
// owned, and their order is fixed. An empty list yields a cache that always
// misses.
func NewMulti(tiers []Cacher, opts ...MultiOption) *MultiCache {
	m := &MultiCache{tiers: append([]Cacher(nil), tiers...)}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrGlobal(m.logger).WithFields(logging.String("component", "multi_cache"))
	return m
}

// Tiers returns the tiers in priority order.
func (m *MultiCache) Tiers() []Cacher {
	return append([]Cacher(nil), m.tiers...)
}

// Get returns the value from the first tier that holds key and copies it into
// every earlier tier.
func (m *MultiCache) Get(ctx context.Context, key string) (any, bool, error) {
	value, tier, found := m.lookup(ctx, key)
	if !found {
		return nil, false, nil
	}
	m.backfill(ctx, key, value, tier, 0)
	return value, true, nil
}

// MGet resolves every key independently with the same fallback as Get. A nil
// value from a tier counts as a miss for that tier.
func (m *MultiCache) MGet(ctx context.Context, keys ...string) ([]any, error) {
	results := make([]any, len(keys))
	pending := make([]int, len(keys))
	for i := range keys {
		pending[i] = i
	}

	// refill[j] collects the entries tier j missed but a later tier held.
	refill := make([][]Item, len(m.tiers))

	for i, tier := range m.tiers {
		if len(pending) == 0 {
			break
		}

		pendingKeys := make([]string, len(pending))
		for j, idx := range pending {
			pendingKeys[j] = keys[idx]
		}

		values, err := tier.MGet(ctx, pendingKeys...)
		if err != nil {
			m.tierFailed(ctx, i, "mget", err)
			continue
		}

		var missed []int
		for j, idx := range pending {
			if j >= len(values) || values[j] == nil {
				missed = append(missed, idx)
				continue
			}
			results[idx] = values[j]
			for k := 0; k < i; k++ {
				refill[k] = append(refill[k], Item{Key: keys[idx], Value: values[j]})
			}
		}
		pending = missed
	}

	m.fanOut(ctx, "backfill", m.tiers, func(i int, tier Cacher) error {
		if len(refill[i]) == 0 {
			return nil
		}
		return tier.MSet(ctx, refill[i], 0)
	})

	return results, nil
}

// Set writes value to every tier.
func (m *MultiCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.fanOut(ctx, "set", m.tiers, func(_ int, tier Cacher) error {
		return tier.Set(ctx, key, value, ttl)
	})
	return nil
}

// MSet writes items to every tier, one batch per tier.
func (m *MultiCache) MSet(ctx context.Context, items []Item, ttl time.Duration) error {
	m.fanOut(ctx, "mset", m.tiers, func(_ int, tier Cacher) error {
		return tier.MSet(ctx, items, ttl)
	})
	return nil
}

// Del removes keys from every tier.
func (m *MultiCache) Del(ctx context.Context, keys ...string) error {
	m.fanOut(ctx, "del", m.tiers, func(_ int, tier Cacher) error {
		return tier.Del(ctx, keys...)
	})
	return nil
}

// Reset clears every tier.
func (m *MultiCache) Reset(ctx context.Context) error {
	m.fanOut(ctx, "reset", m.tiers, func(_ int, tier Cacher) error {
		return tier.Reset(ctx)
	})
	return nil
}

// Wrap returns the value held by the first tier that has key, backfilling the
// faster tiers, and only calls fn when no tier has it. A zero ttl lets every
// backfilled tier use its own default.
func (m *MultiCache) Wrap(ctx context.Context, key string, fn Loader, ttl time.Duration) (any, error) {
	if value, tier, found := m.lookup(ctx, key); found {
		m.backfill(ctx, key, value, tier, ttl)
		return value, nil
	}

	if m.flight == nil {
		return m.compute(ctx, key, fn, ttl)
	}
	value, err, _ := m.flight.Do(key, func() (interface{}, error) {
		return m.compute(ctx, key, fn, ttl)
	})
	return value, err
}

func (m *MultiCache) compute(ctx context.Context, key string, fn Loader, ttl time.Duration) (any, error) {
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key)
		if err != nil {
			m.logger.WithContext(ctx).Warn("Wrap lock unavailable, computing without it",
				logging.String("key", key),
				logging.Err(err),
			)
		} else {
			defer unlock()
			if value, tier, found := m.lookup(ctx, key); found {
				m.backfill(ctx, key, value, tier, ttl)
				return value, nil
			}
		}
	}

	value, err := fn(ctx)
	if err != nil {
		return nil, errors.ComputeError(key, err)
	}
	_ = m.Set(ctx, key, value, ttl)
	return value, nil
}

// lookup scans tiers in order and stops at the first hit.
func (m *MultiCache) lookup(ctx context.Context, key string) (any, int, bool) {
	for i, tier := range m.tiers {
		value, found, err := tier.Get(ctx, key)
		if err != nil {
			m.tierFailed(ctx, i, "get", err)
			continue
		}
		if found {
			return value, i, true
		}
	}
	return nil, -1, false
}

// backfill copies a value found at tier into every faster tier. With an
// explicit ttl the source tier is rewritten too so its expiry matches.
func (m *MultiCache) backfill(ctx context.Context, key string, value any, tier int, ttl time.Duration) {
	if tier <= 0 {
		return
	}

	m.fanOut(ctx, "backfill", m.tiers[:tier], func(_ int, t Cacher) error {
		return t.Set(ctx, key, value, ttl)
	})

	if ttl > 0 {
		if err := m.tiers[tier].Set(ctx, key, value, ttl); err != nil {
			m.tierFailed(ctx, tier, "backfill", err)
		}
	}
}

// fanOut runs fn against every tier in tiers. Failures are logged and never
// stop the remaining tiers.
func (m *MultiCache) fanOut(ctx context.Context, operation string, tiers []Cacher, fn func(i int, tier Cacher) error) {
	if m.sequential {
		for i, tier := range tiers {
			if err := fn(i, tier); err != nil {
				m.tierFailed(ctx, i, operation, err)
			}
		}
		return
	}

	var g errgroup.Group
	for i, tier := range tiers {
		i, tier := i, tier
		g.Go(func() error {
			if err := fn(i, tier); err != nil {
				m.tierFailed(ctx, i, operation, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *MultiCache) tierFailed(ctx context.Context, tier int, operation string, err error) {
	m.logger.WithContext(ctx).Warn("Cache tier failed",
		logging.Int("tier", tier),
		logging.String("tier_op", operation),
		logging.Err(errors.TierError(tier, operation, err)),
	)
}
