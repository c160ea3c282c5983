// Package locks provides distributed locks over Redis using the Redlock
// implementation from go-redsync/redsync/v4. MultiCache uses them to compute
// a missing key in one process at a time.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

// Config controls lock acquisition
type Config struct {
	// Prefix is prepended to every lock key.
	Prefix string
	// Expiry bounds how long a crashed holder blocks others. Held locks are
	// extended every Expiry/3.
	Expiry time.Duration
	// Tries and RetryDelay bound the wait for a contended lock.
	Tries      int
	RetryDelay time.Duration
}

// DefaultConfig waits up to ~5s for a lock that expires after 30s
func DefaultConfig() Config {
	return Config{
		Prefix:     "lock:",
		Expiry:     30 * time.Second,
		Tries:      100,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Manager hands out redsync mutexes
type Manager struct {
	redsync *redsync.Redsync
	config  Config
	logger  logging.Logger
}

var _ cache.Locker = (*Manager)(nil)

// New creates a lock manager over rdb. Zero config fields use the defaults.
func New(rdb *redis.Client, config Config, logger logging.Logger) *Manager {
	defaults := DefaultConfig()
	if config.Expiry <= 0 {
		config.Expiry = defaults.Expiry
	}
	if config.Tries <= 0 {
		config.Tries = defaults.Tries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	return &Manager{
		redsync: redsync.New(goredis.NewPool(rdb)),
		config:  config,
		logger:  logging.OrGlobal(logger).WithFields(logging.String("component", "locks")),
	}
}

// Lock acquires the lock for key, renewing it until unlock is called
func (m *Manager) Lock(ctx context.Context, key string) (func(), error) {
	mutex := m.redsync.NewMutex(m.config.Prefix+key,
		redsync.WithExpiry(m.config.Expiry),
		redsync.WithTries(m.config.Tries),
		redsync.WithRetryDelay(m.config.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	done := make(chan struct{})
	go m.renew(mutex, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(done)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ok, err := mutex.UnlockContext(ctx); err != nil || !ok {
				m.logger.Warn("Failed to release lock", logging.String("key", key), logging.Err(err))
			}
		})
	}
	return unlock, nil
}

// renew extends the mutex every third of its expiry until done is closed or
// an extension fails.
func (m *Manager) renew(mutex *redsync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(m.config.Expiry / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := mutex.ExtendContext(ctx)
			cancel()
			if err != nil || !ok {
				m.logger.Warn("Lost lock", logging.String("key", mutex.Name()), logging.Err(err))
				return
			}
		}
	}
}
