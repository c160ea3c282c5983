// Package ratelimit throttles admin API clients with one token bucket per
// key, built on golang.org/x/time/rate.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cache-manager/internal/common/errors"
)

// Config holds the per key limits
type Config struct {
	// RequestsPerSecond is the sustained rate; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// CleanupPeriod drops buckets idle for longer than this.
	CleanupPeriod time.Duration
	// MaxKeys triggers an early cleanup when exceeded.
	MaxKeys int
}

// DefaultConfig returns a disabled limiter config with sane bucket settings
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		Burst:             20,
		CleanupPeriod:     5 * time.Minute,
		MaxKeys:           10000,
	}
}

// Enabled reports whether requests are limited at all
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Validate checks the limits of an enabled config
func (c Config) Validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.ConfigError("requests per second must not be negative")
	}
	if !c.Enabled() {
		return nil
	}
	if c.Burst < 1 {
		return errors.ConfigError("burst must be at least 1")
	}
	if c.CleanupPeriod <= 0 {
		return errors.ConfigError("cleanup period must be positive")
	}
	if c.MaxKeys < 1 {
		return errors.ConfigError("max keys must be at least 1")
	}
	return nil
}

// Limiter keeps a token bucket per key. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry

	lastCleanup time.Time
	now         func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Stats describes a limiter for the admin API
type Stats struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	ActiveKeys        int     `json:"active_keys"`
}

// NewLimiter creates a limiter from config
func NewLimiter(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Limiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

// Allow takes a token from key's bucket, reporting false when it is empty
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled() {
		return true
	}
	return l.limiterFor(key).AllowN(l.now(), 1)
}

// Config returns the limits in use
func (l *Limiter) Config() Config {
	return l.config
}

// Stats returns a snapshot of the limiter
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Enabled:           l.config.Enabled(),
		RequestsPerSecond: l.config.RequestsPerSecond,
		Burst:             l.config.Burst,
		ActiveKeys:        len(l.limiters),
	}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		l.cleanup(now)
	}

	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst),
		}
		l.limiters[key] = entry

		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now

	return entry.limiter
}

// cleanup removes buckets that have been idle for a full cleanup period
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.CleanupPeriod)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}
