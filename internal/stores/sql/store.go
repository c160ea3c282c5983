// Package sql implements a Store persisted in a SQL table. SQLite and
// PostgreSQL are supported. Values are stored as JSON text and expiry is a
// unix millisecond timestamp, zero for none.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

// Store keeps entries in a single table. Expired rows are invisible to reads
// and removed by PurgeExpired.
type Store struct {
	db          *sql.DB
	driver      string
	table       string
	ttl         time.Duration
	isCacheable cache.IsCacheable
	clock       clock.Clock
	logger      logging.Logger
}

var _ cache.Store = (*Store)(nil)

// Open connects to the database and creates the table if needed.
func Open(ctx context.Context, config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}
	if config.Driver == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	s := &Store{
		db:          db,
		driver:      config.Driver,
		table:       config.Table,
		ttl:         config.TTL,
		isCacheable: config.IsCacheable,
		clock:       config.Clock,
		logger:      config.Logger.WithFields(logging.String("store", "sql"), logging.String("driver", config.Driver)),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			cache_value TEXT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.InternalError("failed to migrate cache table", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	query := s.rebind(fmt.Sprintf(
		`SELECT cache_value FROM %s WHERE cache_key = ? AND (expires_at = 0 OR expires_at > ?)`, s.table))

	var data string
	err := s.db.QueryRowContext(ctx, query, key, s.now()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.InternalError("sql get failed", err)
	}

	value, err := decode(key, data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) MGet(ctx context.Context, keys ...string) ([]any, error) {
	values := make([]any, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	args := make([]any, 0, len(keys)+1)
	for _, key := range keys {
		args = append(args, key)
	}
	args = append(args, s.now())

	query := s.rebind(fmt.Sprintf(
		`SELECT cache_key, cache_value FROM %s WHERE cache_key IN (%s) AND (expires_at = 0 OR expires_at > ?)`,
		s.table, placeholders(len(keys))))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("sql mget failed", err)
	}
	defer rows.Close()

	found := make(map[string]any, len(keys))
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, errors.InternalError("sql mget failed", err)
		}
		value, err := decode(key, data)
		if err != nil {
			return nil, err
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("sql mget failed", err)
	}

	for i, key := range keys {
		values[i] = found[key]
	}
	return values, nil
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.MSet(ctx, []cache.Item{{Key: key, Value: value}}, ttl)
}

// MSet upserts the batch in one transaction.
func (s *Store) MSet(ctx context.Context, items []cache.Item, ttl time.Duration) error {
	if err := cache.CheckCacheable(s.isCacheable, items...); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	encoded := make([]string, len(items))
	for i, item := range items {
		data, err := json.Marshal(item.Value)
		if err != nil {
			return errors.SerializationError("failed to encode value", err).WithContext("key", item.Key)
		}
		encoded[i] = string(data)
	}

	expiresAt := s.expiresAt(ttl)
	query := s.rebind(fmt.Sprintf(`INSERT INTO %s (cache_key, cache_value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET cache_value = excluded.cache_value, expires_at = excluded.expires_at`, s.table))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.InternalError("sql begin failed", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.InternalError("sql prepare failed", err)
	}
	defer stmt.Close()

	for i, item := range items {
		if _, err := stmt.ExecContext(ctx, item.Key, encoded[i], expiresAt); err != nil {
			return errors.InternalError("sql set failed", err).WithContext("key", item.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.InternalError("sql commit failed", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE cache_key IN (%s)`, s.table, placeholders(len(keys))))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.InternalError("sql del failed", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	query := s.rebind(fmt.Sprintf(
		`SELECT cache_key FROM %s WHERE expires_at = 0 OR expires_at > ? ORDER BY cache_key`, s.table))

	rows, err := s.db.QueryContext(ctx, query, s.now())
	if err != nil {
		return nil, errors.InternalError("sql keys failed", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.InternalError("sql keys failed", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("sql keys failed", err)
	}
	return keys, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return errors.InternalError("sql reset failed", err)
	}
	return nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	query := s.rebind(fmt.Sprintf(`SELECT expires_at FROM %s WHERE cache_key = ?`, s.table))

	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return cache.KeyMissing, nil
	}
	if err != nil {
		return 0, errors.InternalError("sql ttl failed", err)
	}

	if expiresAt == 0 {
		return 0, nil
	}
	remaining := time.Duration(expiresAt-s.now()) * time.Millisecond
	if remaining <= 0 {
		return cache.KeyMissing, nil
	}
	return remaining, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE expires_at <> 0 AND expires_at <= ?`, s.table))

	result, err := s.db.ExecContext(ctx, query, s.now())
	if err != nil {
		return 0, errors.InternalError("sql purge failed", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, errors.InternalError("sql purge failed", err)
	}
	if purged > 0 {
		s.logger.Debug("Purged expired entries", logging.Int("count", int(purged)))
	}
	return purged, nil
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) expiresAt(ttl time.Duration) int64 {
	ttl = cache.ResolveTTL(ttl, s.ttl)
	if ttl == 0 {
		return 0
	}
	return s.clock.Now().Add(ttl).UnixMilli()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func decode(key, data string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, errors.SerializationError("failed to decode value", err).WithContext("key", key)
	}
	return value, nil
}
