package memory

import (
	"time"

	"github.com/benbjohnson/clock"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

// DefaultMax is the capacity used when Config.Max is not set.
const DefaultMax = 500

// Config holds the bounded memory store configuration. Zero values select the
// library defaults.
type Config struct {
	// Max is the maximum number of entries kept (default 500).
	Max int `json:"max"`
	// TTL is the default time to live; zero means entries never expire.
	TTL time.Duration `json:"ttl"`
	// IsCacheable gates every write (default rejects nil).
	IsCacheable cache.IsCacheable `json:"-"`
	// DisableClone stores values by reference instead of deep-copying them.
	DisableClone bool `json:"disable_clone"`
	// Clock is the time source (default wall clock).
	Clock clock.Clock `json:"-"`
	// Logger receives eviction and snapshot diagnostics.
	Logger logging.Logger `json:"-"`
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Max < 0 {
		return errors.ConfigError("memory store max must not be negative").WithContext("max", c.Max)
	}
	if c.TTL < 0 {
		return errors.ConfigError("memory store ttl must not be negative").WithContext("ttl", c.TTL)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
	if c.IsCacheable == nil {
		c.IsCacheable = cache.DefaultIsCacheable
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	c.Logger = logging.OrGlobal(c.Logger)
	return c
}
