package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cache-manager/internal/cache"
	apperrors "cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
)

func setupTestStore(t *testing.T, config Config) (*Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	config.Driver = DriverSQLite
	config.DSN = filepath.Join(t.TempDir(), "cache.db")
	config.Clock = mock
	config.Logger = logging.NewNopLogger()

	store, err := Open(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store, mock
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"sqlite", Config{Driver: DriverSQLite, DSN: "cache.db"}, false},
		{"pgx", Config{Driver: DriverPostgres, DSN: "postgres://localhost/cache"}, false},
		{"postgres alias", Config{Driver: "postgres", DSN: "postgres://localhost/cache"}, false},
		{"unknown driver", Config{Driver: "mysql", DSN: "x"}, true},
		{"missing dsn", Config{Driver: DriverSQLite}, true},
		{"bad table", Config{Driver: DriverSQLite, DSN: "x", Table: "cache; DROP"}, true},
		{"negative ttl", Config{Driver: DriverSQLite, DSN: "x", TTL: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_Rebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT 1 WHERE a = ? AND b IN (?, ?)"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t, Config{})

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "user", map[string]any{"name": "ada"}, 0))
	require.NoError(t, store.Set(ctx, "user", map[string]any{"name": "grace"}, 0))

	value, found, err := store.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"name": "grace"}, value)

	ttl, err := store.TTL(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestStore_Expiration(t *testing.T) {
	ctx := context.Background()
	store, mock := setupTestStore(t, Config{TTL: time.Minute})

	require.NoError(t, store.Set(ctx, "default", "v", 0))
	require.NoError(t, store.Set(ctx, "short", "v", 10*time.Second))

	ttl, err := store.TTL(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, ttl)

	mock.Add(30 * time.Second)

	_, found, _ := store.Get(ctx, "short")
	assert.False(t, found)
	_, found, _ = store.Get(ctx, "default")
	assert.True(t, found)

	ttl, _ = store.TTL(ctx, "short")
	assert.Equal(t, cache.KeyMissing, ttl)
	ttl, _ = store.TTL(ctx, "default")
	assert.Equal(t, 30*time.Second, ttl)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, keys)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestStore_MSetMGet(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t, Config{})

	items := []cache.Item{{Key: "a", Value: 1}, {Key: "b", Value: "two"}, {Key: "c", Value: []any{true}}}
	require.NoError(t, store.MSet(ctx, items, 0))

	values, err := store.MGet(ctx, "c", "missing", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{true}, nil, float64(1), "two"}, values)

	err = store.MSet(ctx, []cache.Item{{Key: "d", Value: 4}, {Key: "e", Value: nil}}, 0)
	assert.ErrorIs(t, err, cache.ErrNotCacheable)

	_, found, _ := store.Get(ctx, "d")
	assert.False(t, found)
}

func TestStore_DelReset(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t, Config{Table: "custom_cache"})

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, key, key, 0))
	}

	require.NoError(t, store.Del(ctx, "a", "missing"))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)

	require.NoError(t, store.Reset(ctx))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")
	config := Config{Driver: DriverSQLite, DSN: dsn, Logger: logging.NewNopLogger()}

	store, err := Open(ctx, config)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "durable", "yes", 0))
	require.NoError(t, store.Close())

	store, err = Open(ctx, config)
	require.NoError(t, err)
	defer store.Close()

	value, found, err := store.Get(ctx, "durable")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "yes", value)
}

func TestStore_SerializationError(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t, Config{})

	err := store.Set(ctx, "ch", make(chan int), 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSerialization))
}
