// Package config loads the cache manager configuration from environment
// variables and validates it before anything is built.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Admin API port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - CACHE_TIERS: Ordered, comma separated tiers, fastest first (default: memory)
//     Supported tiers: memory, local, redis, sql
//   - CONNECT_ATTEMPTS: Connection attempts for remote tiers at startup (default: 3)
//   - CONNECT_RETRY_DELAY: First delay between attempts, doubling after each (default: 1s)
//   - RATE_LIMIT_RPS: Admin API requests per second per client, 0 disables (default: 0)
//   - RATE_LIMIT_BURST: Admin API burst per client (default: 20)
//   - ENCRYPTION_KEY: Passphrase for encrypting values in the redis and sql tiers,
//     at least 16 characters (default: unset, values stored as plain JSON)
//
// Memory Tier:
//   - MEMORY_MAX: Maximum number of entries (default: 500)
//   - MEMORY_TTL: Default entry lifetime, 0 for none (default: 0)
//   - MEMORY_CLONE: Deep copy values on write (default: true)
//
// Local Tier:
//   - LOCAL_TTL: Default entry lifetime (default: 5m)
//   - LOCAL_CLEANUP_INTERVAL: Expired entry purge interval (default: 10m)
//
// Redis Tier:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Connection pool size (default: 10)
//   - REDIS_KEY_PREFIX: Prefix for every key (default: cache:)
//   - REDIS_TTL: Default entry lifetime (default: 1h)
//   - REDIS_BREAKER: Guard the tier with a circuit breaker (default: true)
//   - WRAP_LOCK: Compute a missing key in one instance at a time using a Redis lock (default: false)
//   - WRAP_LOCK_TTL: Lock expiry, renewed while held (default: 30s)
//
// SQL Tier:
//   - SQL_DRIVER: sqlite3 or postgres (default: sqlite3)
//   - SQL_DSN: sqlite file path or postgres URL (default: ./cache.db)
//   - SQL_TABLE: Table name (default: cache_entries)
//   - SQL_TTL: Default entry lifetime (default: 24h)
//
// Snapshots:
//   - SNAPSHOT_PATH: File the memory tier is saved to and restored from
//   - SNAPSHOT_SCHEDULE: Cron expression for periodic saves, e.g. "*/5 * * * *"
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/utils"
	"cache-manager/internal/common/validation"
)

// Tier names accepted in CACHE_TIERS
const (
	TierMemory = "memory"
	TierLocal  = "local"
	TierRedis  = "redis"
	TierSQL    = "sql"
)

// Config holds every setting of the cache manager
type Config struct {
	Port     int      `env:"PORT" validate:"min=1,max=65535"`
	LogLevel string   `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	Tiers    []string `env:"CACHE_TIERS" validate:"min=1,unique,dive,oneof=memory local redis sql"`

	ConnectAttempts   int           `env:"CONNECT_ATTEMPTS" validate:"min=1,max=20"`
	ConnectRetryDelay time.Duration `env:"CONNECT_RETRY_DELAY" validate:"min=0"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" validate:"min=0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" validate:"min=1"`

	EncryptionKey string `env:"ENCRYPTION_KEY" validate:"omitempty,min=16"`

	MemoryMax   int           `env:"MEMORY_MAX" validate:"min=1"`
	MemoryTTL   time.Duration `env:"MEMORY_TTL" validate:"min=0"`
	MemoryClone bool          `env:"MEMORY_CLONE"`

	LocalTTL             time.Duration `env:"LOCAL_TTL" validate:"min=0"`
	LocalCleanupInterval time.Duration `env:"LOCAL_CLEANUP_INTERVAL" validate:"min=0"`

	RedisAddress   string        `env:"REDIS_ADDRESS"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" validate:"min=0,max=15"`
	RedisPoolSize  int           `env:"REDIS_POOL_SIZE" validate:"min=1"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX"`
	RedisTTL       time.Duration `env:"REDIS_TTL" validate:"min=0"`
	RedisBreaker   bool          `env:"REDIS_BREAKER"`
	WrapLock       bool          `env:"WRAP_LOCK"`
	WrapLockTTL    time.Duration `env:"WRAP_LOCK_TTL" validate:"min=0"`

	SQLDriver string        `env:"SQL_DRIVER" validate:"oneof=sqlite3 postgres pgx"`
	SQLDSN    string        `env:"SQL_DSN"`
	SQLTable  string        `env:"SQL_TABLE"`
	SQLTTL    time.Duration `env:"SQL_TTL" validate:"min=0"`

	SnapshotPath     string `env:"SNAPSHOT_PATH"`
	SnapshotSchedule string `env:"SNAPSHOT_SCHEDULE" validate:"omitempty,cron_expression"`
}

// Load creates a Config from environment variables, using defaults for
// anything unset. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getIntEnv("PORT", 8080),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Tiers:    getListEnv("CACHE_TIERS", []string{TierMemory}),

		ConnectAttempts:   getIntEnv("CONNECT_ATTEMPTS", 3),
		ConnectRetryDelay: getDurationEnv("CONNECT_RETRY_DELAY", time.Second),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 20),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		MemoryMax:   getIntEnv("MEMORY_MAX", 500),
		MemoryTTL:   getDurationEnv("MEMORY_TTL", 0),
		MemoryClone: getBoolEnv("MEMORY_CLONE", true),

		LocalTTL:             getDurationEnv("LOCAL_TTL", 5*time.Minute),
		LocalCleanupInterval: getDurationEnv("LOCAL_CLEANUP_INTERVAL", 10*time.Minute),

		RedisAddress:   getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		RedisPoolSize:  getIntEnv("REDIS_POOL_SIZE", 10),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "cache:"),
		RedisTTL:       getDurationEnv("REDIS_TTL", time.Hour),
		RedisBreaker:   getBoolEnv("REDIS_BREAKER", true),
		WrapLock:       getBoolEnv("WRAP_LOCK", false),
		WrapLockTTL:    getDurationEnv("WRAP_LOCK_TTL", 30*time.Second),

		SQLDriver: getEnv("SQL_DRIVER", "sqlite3"),
		SQLDSN:    getEnv("SQL_DSN", "./cache.db"),
		SQLTable:  getEnv("SQL_TABLE", "cache_entries"),
		SQLTTL:    getDurationEnv("SQL_TTL", 24*time.Hour),

		SnapshotPath:     getEnv("SNAPSHOT_PATH", ""),
		SnapshotSchedule: getEnv("SNAPSHOT_SCHEDULE", ""),
	}
}

// HasTier reports whether name is one of the configured tiers
func (c *Config) HasTier(name string) bool {
	for _, tier := range c.Tiers {
		if tier == name {
			return true
		}
	}
	return false
}

// Validate checks struct rules first, then the settings that depend on which
// tiers are enabled.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return errors.ConfigError(err.Error())
	}

	if c.HasTier(TierRedis) {
		if err := validation.ValidateVar(c.RedisAddress, "required,hostname_port"); err != nil {
			return errors.ConfigError("REDIS_ADDRESS must be a host:port address when the redis tier is enabled")
		}
	}

	if c.WrapLock && !c.HasTier(TierRedis) {
		return errors.ConfigError("WRAP_LOCK requires the redis tier")
	}

	if c.HasTier(TierSQL) && c.SQLDSN == "" {
		return errors.ConfigError("SQL_DSN is required when the sql tier is enabled")
	}

	if c.SnapshotSchedule != "" && c.SnapshotPath == "" {
		return errors.ConfigError("SNAPSHOT_PATH is required when SNAPSHOT_SCHEDULE is set")
	}
	if c.SnapshotPath != "" && !c.HasTier(TierMemory) {
		return errors.ConfigError("SNAPSHOT_PATH requires the memory tier")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s", "5m"), days and weeks ("7d",
// "2w") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := utils.ParseDuration(value); err == nil {
		return parsed
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// String renders the configuration for startup logs with secrets masked
func (c *Config) String() string {
	password := ""
	if c.RedisPassword != "" {
		password = "****"
	}
	return fmt.Sprintf("tiers=%s port=%d memory_max=%d memory_ttl=%s redis=%s redis_password=%s redis_ttl=%s sql=%s sql_ttl=%s encrypted=%t snapshot=%s",
		strings.Join(c.Tiers, ","), c.Port, c.MemoryMax, utils.FormatDuration(c.MemoryTTL),
		c.RedisAddress, password, utils.FormatDuration(c.RedisTTL),
		c.SQLDriver, utils.FormatDuration(c.SQLTTL), c.EncryptionKey != "", c.SnapshotPath)
}
