// Package factory builds the configured tier stack.
package factory

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"cache-manager/internal/cache"
	"cache-manager/internal/circuitbreaker"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
	"cache-manager/internal/common/utils"
	"cache-manager/internal/config"
	"cache-manager/internal/crypto"
	"cache-manager/internal/locks"
	"cache-manager/internal/stores/local"
	"cache-manager/internal/stores/memory"
	redisstore "cache-manager/internal/stores/redis"
	sqlstore "cache-manager/internal/stores/sql"
)

// Tier is one built cache tier
type Tier struct {
	Name    string
	Cache   *cache.Cache
	Breaker *circuitbreaker.Breaker
}

// Tiers holds the built stack and everything that must be closed with it
type Tiers struct {
	Multi  *cache.MultiCache
	Tiers  []Tier
	Memory *memory.Store
	SQL    *sqlstore.Store
	// Locks is set when Wrap computations are serialized across instances.
	Locks *locks.Manager

	redis     *redisstore.Client
	encryptor *crypto.Encryptor

	closers []io.Closer
}

// Close releases every connection opened by Build
func (t *Tiers) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Breakers returns the breakers guarding remote tiers
func (t *Tiers) Breakers() []*circuitbreaker.Breaker {
	var breakers []*circuitbreaker.Breaker
	for _, tier := range t.Tiers {
		if tier.Breaker != nil {
			breakers = append(breakers, tier.Breaker)
		}
	}
	return breakers
}

// Build creates one Cache per configured tier, in order, and the MultiCache
// over them. Anything opened before a failure is closed again.
func Build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Tiers, error) {
	logger = logging.OrGlobal(logger)
	built := &Tiers{}

	if cfg.EncryptionKey != "" {
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		built.encryptor = encryptor
	}

	for _, name := range cfg.Tiers {
		tierLogger := logger.WithFields(logging.String("tier", name))

		store, breaker, err := built.newStore(ctx, name, cfg, tierLogger)
		if err != nil {
			built.Close()
			return nil, err
		}

		built.Tiers = append(built.Tiers, Tier{
			Name:    name,
			Cache:   cache.New(store, cache.WithLogger(tierLogger)),
			Breaker: breaker,
		})
		logger.Info("Cache tier ready", logging.String("tier", name), logging.Int("position", len(built.Tiers)-1))
	}

	cachers := make([]cache.Cacher, len(built.Tiers))
	for i, tier := range built.Tiers {
		cachers[i] = tier.Cache
	}
	opts := []cache.MultiOption{cache.WithMultiLogger(logger), cache.WithMultiSingleFlight()}
	if cfg.WrapLock && built.redis != nil {
		lockConfig := locks.DefaultConfig()
		// Lock keys stay outside the prefix the redis tier scans.
		lockConfig.Prefix = "lock:" + cfg.RedisKeyPrefix
		lockConfig.Expiry = cfg.WrapLockTTL
		built.Locks = locks.New(built.redis.Redis(), lockConfig, logger)
		opts = append(opts, cache.WithMultiLocker(built.Locks))
	}
	built.Multi = cache.NewMulti(cachers, opts...)

	return built, nil
}

func (t *Tiers) newStore(ctx context.Context, name string, cfg *config.Config, logger logging.Logger) (cache.Store, *circuitbreaker.Breaker, error) {
	switch name {
	case config.TierMemory:
		store := memory.NewStore(memory.Config{
			Max:          cfg.MemoryMax,
			TTL:          cfg.MemoryTTL,
			DisableClone: !cfg.MemoryClone,
			Logger:       logger,
		})
		t.Memory = store
		return store, nil, nil

	case config.TierLocal:
		return local.NewStore(local.Config{
			TTL:             cfg.LocalTTL,
			CleanupInterval: cfg.LocalCleanupInterval,
		}), nil, nil

	case config.TierRedis:
		var client *redisstore.Client
		err := connect(ctx, cfg, logger, func() (err error) {
			client, err = redisstore.NewClient(redisstore.Config{
				Address:   cfg.RedisAddress,
				Password:  cfg.RedisPassword,
				DB:        cfg.RedisDB,
				PoolSize:  cfg.RedisPoolSize,
				KeyPrefix: cfg.RedisKeyPrefix,
				TTL:       cfg.RedisTTL,
			})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		t.closers = append(t.closers, client)
		t.redis = client

		var store cache.Store = client.Store()
		if t.encryptor != nil {
			store = crypto.WrapStore(store, t.encryptor)
		}
		if !cfg.RedisBreaker {
			return store, nil, nil
		}
		breaker := circuitbreaker.New("redis", circuitbreaker.DefaultConfig(), logger)
		return circuitbreaker.WrapStore(store, breaker), breaker, nil

	case config.TierSQL:
		var store *sqlstore.Store
		err := connect(ctx, cfg, logger, func() (err error) {
			store, err = sqlstore.Open(ctx, sqlstore.Config{
				Driver: cfg.SQLDriver,
				DSN:    cfg.SQLDSN,
				Table:  cfg.SQLTable,
				TTL:    cfg.SQLTTL,
				Logger: logger,
			})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		t.closers = append(t.closers, store)
		t.SQL = store
		if t.encryptor != nil {
			return crypto.WrapStore(store, t.encryptor), nil, nil
		}
		return store, nil, nil

	default:
		return nil, nil, errors.ConfigError(fmt.Sprintf("unknown cache tier: %s", name))
	}
}

// connect retries open with backoff while it fails with a connection error
func connect(ctx context.Context, cfg *config.Config, logger logging.Logger, open func() error) error {
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ConnectAttempts
	retry.InitialDelay = cfg.ConnectRetryDelay

	attempt := 0
	retry.RetryableErrors = func(err error) bool {
		attempt++
		if !errors.IsType(err, errors.ErrTypeConnection) {
			return false
		}
		if attempt < retry.MaxAttempts {
			logger.Warn("Tier connection failed, retrying", logging.Int("attempt", attempt), logging.Err(err))
		}
		return true
	}

	return utils.RetryWithBackoff(ctx, retry, open)
}
