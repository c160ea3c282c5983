package sql

import (
	"regexp"
	"time"

	"github.com/benbjohnson/clock"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	DefaultTable = "cache_entries"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds SQL store configuration
type Config struct {
	// Driver is the database/sql driver name: sqlite3 or pgx.
	Driver string `json:"driver"`
	// DSN is a file path for sqlite3 or a postgres connection URL for pgx.
	DSN   string        `json:"dsn"`
	Table string        `json:"table"`
	TTL   time.Duration `json:"ttl"`

	IsCacheable cache.IsCacheable `json:"-"`
	Clock       clock.Clock       `json:"-"`
	Logger      logging.Logger    `json:"-"`
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres, "postgres":
	default:
		return errors.ConfigError("unsupported sql driver: " + c.Driver)
	}
	if c.DSN == "" {
		return errors.ConfigError("sql dsn is required")
	}
	if c.Table != "" && !tableName.MatchString(c.Table) {
		return errors.ConfigError("invalid sql table name: " + c.Table)
	}
	if c.TTL < 0 {
		return errors.ConfigError("sql ttl must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Driver == "postgres" {
		c.Driver = DriverPostgres
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	c.Logger = logging.OrGlobal(c.Logger)
	return c
}
