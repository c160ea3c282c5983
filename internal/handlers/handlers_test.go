package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cache-manager/internal/common/logging"
	"cache-manager/internal/config"
	"cache-manager/internal/factory"
	"cache-manager/internal/ratelimit"
)

// testContext mirrors testing.T.Context (Go 1.24+): the context is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type testServer struct {
	router *mux.Router
	redis  *miniredis.Miniredis
	cfg    *config.Config
}

func newTestServer(t *testing.T, snapshotPath string) *testServer {
	t.Helper()
	for _, key := range []string{"CACHE_TIERS", "REDIS_ADDRESS", "SQL_DSN", "SNAPSHOT_PATH", "SNAPSHOT_SCHEDULE"} {
		t.Setenv(key, "")
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.Load()
	cfg.Tiers = []string{config.TierMemory, config.TierRedis}
	cfg.RedisAddress = mr.Addr()
	cfg.SnapshotPath = snapshotPath
	require.NoError(t, cfg.Validate())

	logger := logging.NewNopLogger()
	tiers, err := factory.Build(testContext(t), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { tiers.Close() })

	return &testServer{router: New(tiers, cfg, nil, logger).Router(logger), redis: mr, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"memory", "redis"}, body["tiers"])
}

func TestPutAndGetEntry(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPut, "/api/cache/user?ttl=1m", []byte(`{"name":"ada","age":36}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(60000), decode(t, rec)["ttl_ms"])

	assert.Equal(t, time.Minute, s.redis.TTL("cache:user"))

	rec = s.do(t, http.MethodGet, "/api/cache/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "user", body["key"])
	assert.Equal(t, true, body["found"])
	assert.Equal(t, map[string]interface{}{"name": "ada", "age": float64(36)}, body["value"])
}

func TestGetEntry_FallsBackToRedis(t *testing.T) {
	s := newTestServer(t, "")
	require.NoError(t, s.redis.Set("cache:remote", `"from redis"`))

	rec := s.do(t, http.MethodGet, "/api/cache/remote", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from redis", decode(t, rec)["value"])

	rec = s.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	memory := decode(t, rec)["memory"].(map[string]interface{})
	assert.Equal(t, float64(1), memory["keys"])
}

func TestGetEntry_Missing(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodGet, "/api/cache/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["type"])
}

func TestPutEntry_Rejections(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name   string
		target string
		body   string
		status int
		kind   string
	}{
		{"invalid json", "/api/cache/a", `{"broken"`, http.StatusBadRequest, "validation"},
		{"null value", "/api/cache/a", `null`, http.StatusUnprocessableEntity, "not_cacheable"},
		{"bad ttl", "/api/cache/a?ttl=soon", `1`, http.StatusBadRequest, "validation"},
		{"negative ttl", "/api/cache/a?ttl=-5s", `1`, http.StatusBadRequest, "validation"},
		{"whitespace key", "/api/cache/a%20b", `1`, http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, tt.target, []byte(tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode(t, rec)["type"])
		})
	}

	assert.False(t, s.redis.Exists("cache:a"))
}

func TestGetEntries(t *testing.T) {
	s := newTestServer(t, "")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/cache/a", []byte(`1`)).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/cache/c", []byte(`"three"`)).Code)

	rec := s.do(t, http.MethodGet, "/api/cache?keys=a,missing,c", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decode(t, rec)["entries"].([]interface{})
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]interface{}{"key": "a", "value": float64(1), "found": true}, entries[0])
	assert.Equal(t, map[string]interface{}{"key": "missing", "value": nil, "found": false}, entries[1])
	assert.Equal(t, map[string]interface{}{"key": "c", "value": "three", "found": true}, entries[2])

	rec = s.do(t, http.MethodGet, "/api/cache", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAndReset(t *testing.T) {
	s := newTestServer(t, "")
	for _, key := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/cache/"+key, []byte(`true`)).Code)
	}

	rec := s.do(t, http.MethodDelete, "/api/cache/a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/cache/a", nil).Code)
	assert.False(t, s.redis.Exists("cache:a"))

	rec = s.do(t, http.MethodDelete, "/api/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/cache/b", nil).Code)
	assert.Empty(t, s.redis.Keys())
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t, "")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/cache/a", []byte(`1`)).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/cache/b", []byte(`2`)).Code)

	rec := s.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	tiers := body["tiers"].([]interface{})
	require.Len(t, tiers, 2)

	memoryTier := tiers[0].(map[string]interface{})
	assert.Equal(t, "memory", memoryTier["name"])
	assert.Equal(t, float64(2), memoryTier["keys"])
	assert.Nil(t, memoryTier["breaker"])

	redisTier := tiers[1].(map[string]interface{})
	assert.Equal(t, "redis", redisTier["name"])
	assert.Equal(t, float64(1), redisTier["position"])
	assert.Equal(t, float64(2), redisTier["keys"])
	breaker := redisTier["breaker"].(map[string]interface{})
	assert.Equal(t, "redis", breaker["name"])
	assert.Equal(t, "closed", breaker["state"])

	memory := body["memory"].(map[string]interface{})
	assert.Equal(t, float64(2), memory["keys"])
	assert.Equal(t, float64(s.cfg.MemoryMax), memory["max"])
}

func TestListTierKeys(t *testing.T) {
	s := newTestServer(t, "")
	for _, key := range []string{"c", "a", "e", "b", "d"} {
		rec := s.do(t, http.MethodPut, "/api/cache/"+key, []byte(`"v"`))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.NoError(t, s.redis.Set("cache:only-remote", `"x"`))

	rec := s.do(t, http.MethodGet, "/api/tiers/memory/keys?page=2&per_page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []interface{}{"c", "d"}, body["results"])
	assert.Equal(t, float64(3), body["total_pages"])
	assert.Equal(t, float64(5), body["total_results"])

	rec = s.do(t, http.MethodGet, "/api/tiers/redis/keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(6), decode(t, rec)["total_results"])

	rec = s.do(t, http.MethodGet, "/api/tiers/disk/keys", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/tiers/memory/keys?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTierFailureLogsOperation(t *testing.T) {
	for _, key := range []string{"CACHE_TIERS", "REDIS_ADDRESS", "SQL_DSN", "SNAPSHOT_PATH", "SNAPSHOT_SCHEDULE"} {
		t.Setenv(key, "")
	}
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := config.Load()
	cfg.Tiers = []string{config.TierMemory, config.TierRedis}
	cfg.RedisAddress = mr.Addr()

	var buf bytes.Buffer
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.WarnLevel, Output: &buf})
	require.NoError(t, err)
	tiers, err := factory.Build(testContext(t), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { tiers.Close() })
	router := New(tiers, cfg, nil, logger).Router(logger)

	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/cache/user", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	output := buf.String()
	assert.Contains(t, output, "Cache tier failed")
	assert.Contains(t, output, `"operation": "get"`)
	assert.Contains(t, output, `"request_id": "req-42"`)
}

func TestSaveSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "memory.json")
	s := newTestServer(t, path)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/cache/a", []byte(`{"x":1}`)).Code)

	rec := s.do(t, http.MethodPost, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["entries"])

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestSaveSnapshot_NotConfigured(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/snapshot", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "config", decode(t, rec)["type"])
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"90", 90 * time.Second, false},
		{"1d", 24 * time.Hour, false},
		{"abc", 0, true},
		{"-1s", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseTTL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitKeys(" a, ,b,"))
	assert.Nil(t, splitKeys(""))
}

func TestRateLimitedAPI(t *testing.T) {
	for _, key := range []string{"CACHE_TIERS", "SNAPSHOT_PATH", "SNAPSHOT_SCHEDULE"} {
		t.Setenv(key, "")
	}
	cfg := config.Load()
	logger := logging.NewNopLogger()

	tiers, err := factory.Build(testContext(t), cfg, logger)
	require.NoError(t, err)
	defer tiers.Close()

	limits := ratelimit.DefaultConfig()
	limits.RequestsPerSecond = 0.01
	limits.Burst = 2
	limiter, err := ratelimit.NewLimiter(limits)
	require.NoError(t, err)

	s := &testServer{router: New(tiers, cfg, limiter, logger).Router(logger), cfg: cfg}

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/stats", nil).Code)
	rec := s.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rateLimit := decode(t, rec)["rate_limit"].(map[string]interface{})
	assert.Equal(t, true, rateLimit["enabled"])
	assert.Equal(t, float64(1), rateLimit["active_keys"])

	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/stats", nil).Code)

	// Health checks are never throttled.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
}
