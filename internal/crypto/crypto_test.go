package crypto

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/stores/local"
)

const testKey = "test-passphrase-123"

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	e, err := NewEncryptor(testKey)
	require.NoError(t, err)
	return e
}

func TestNewEncryptor_EmptyKey(t *testing.T) {
	_, err := NewEncryptor("")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestEncryptor_RoundTrip(t *testing.T) {
	e := newTestEncryptor(t)

	for _, plaintext := range []string{"", "hello world", `{"a":[1,2,3]}`, "unicode ✓ 世界"} {
		ciphertext, err := e.Encrypt([]byte(plaintext))
		require.NoError(t, err)
		if plaintext != "" {
			assert.NotContains(t, ciphertext, plaintext)
		}

		decrypted, err := e.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(decrypted))
	}
}

func TestEncryptor_FreshNonce(t *testing.T) {
	e := newTestEncryptor(t)

	first, err := e.Encrypt([]byte("same"))
	require.NoError(t, err)
	second, err := e.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestEncryptor_SameKeyAcrossInstances(t *testing.T) {
	ciphertext, err := newTestEncryptor(t).Encrypt([]byte("shared"))
	require.NoError(t, err)

	plaintext, err := newTestEncryptor(t).Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(plaintext))
}

func TestEncryptor_DecryptFailures(t *testing.T) {
	e := newTestEncryptor(t)
	ciphertext, err := e.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other, err := NewEncryptor("another-passphrase")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name       string
		encryptor  *Encryptor
		ciphertext string
	}{
		{"not base64", e, "%%%"},
		{"too short", e, "YWJj"},
		{"wrong key", other, ciphertext},
		{"tampered", e, tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.encryptor.Decrypt(tt.ciphertext)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeSerialization))
		})
	}
}

func newTestStore(t *testing.T) (*Store, *local.Store) {
	t.Helper()
	inner := local.NewStore(local.Config{TTL: time.Minute, CleanupInterval: time.Minute})
	return WrapStore(inner, newTestEncryptor(t)), inner
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestStore(t)

	require.NoError(t, store.Set(ctx, "user", map[string]any{"name": "ada", "age": 36}, 0))

	raw, found, err := inner.Get(ctx, "user")
	require.NoError(t, err)
	require.True(t, found)
	require.IsType(t, "", raw)
	assert.NotContains(t, raw, `"name"`)

	value, found, err := store.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]any{"name": "ada", "age": float64(36)}, value)

	_, found, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_MSetMGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.MSet(ctx, []cache.Item{
		{Key: "a", Value: "one"},
		{Key: "b", Value: []any{float64(1), float64(2)}},
	}, 0))

	values, err := store.MGet(ctx, "a", "missing", "b")
	require.NoError(t, err)
	assert.Equal(t, []any{"one", nil, []any{float64(1), float64(2)}}, values)
}

func TestStore_RejectsUncacheable(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestStore(t)

	err := store.Set(ctx, "nothing", nil, 0)
	assert.ErrorIs(t, err, cache.ErrNotCacheable)

	err = store.MSet(ctx, []cache.Item{{Key: "a", Value: "ok"}, {Key: "b", Value: nil}}, 0)
	assert.ErrorIs(t, err, cache.ErrNotCacheable)

	keys, err := inner.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_PlainValueIsSerializationError(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestStore(t)

	require.NoError(t, inner.Set(ctx, "plain", "not ciphertext", 0))
	require.NoError(t, inner.Set(ctx, "number", 42, 0))

	_, _, err := store.Get(ctx, "plain")
	assert.True(t, errors.IsType(err, errors.ErrTypeSerialization))

	_, err = store.MGet(ctx, "number")
	assert.True(t, errors.IsType(err, errors.ErrTypeSerialization))
}

func TestStore_PassThrough(t *testing.T) {
	ctx := context.Background()
	store, inner := newTestStore(t)
	assert.Same(t, inner, store.Unwrap())

	require.NoError(t, store.Set(ctx, "a", "1", 0))
	require.NoError(t, store.Set(ctx, "b", "2", time.Hour))

	ttl, err := store.TTL(ctx, "b")
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Del(ctx, "a"))
	_, found, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Reset(ctx))
	ttl, err = store.TTL(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, cache.KeyMissing, ttl)
}
