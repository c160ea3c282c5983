package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
	"cache-manager/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, key := range []string{"CACHE_TIERS", "REDIS_ADDRESS", "SQL_DSN", "SNAPSHOT_PATH", "SNAPSHOT_SCHEDULE"} {
		t.Setenv(key, "")
	}
	cfg := config.Load()
	cfg.Port = 0
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, app.Start())
	return app
}

func url(app *App, path string) string {
	return "http://" + app.Server.Addr() + path
}

func TestApp_SnapshotSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "memory.json")

	first := startApp(t, cfg)

	req, err := http.NewRequest(http.MethodPut, url(first, "/api/cache/greeting"), bytes.NewReader([]byte(`"hello"`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, first.Shutdown(context.Background()))

	second := startApp(t, cfg)
	defer second.Shutdown(context.Background())

	resp, err = http.Get(url(second, "/api/cache/greeting"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hello", body["value"])
}

func TestApp_SchedulesJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tiers = []string{config.TierMemory, config.TierSQL}
	cfg.SQLDSN = filepath.Join(t.TempDir(), "cache.db")
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "memory.json")
	cfg.SnapshotSchedule = "@every 1h"

	app := startApp(t, cfg)
	defer app.Shutdown(context.Background())

	assert.False(t, app.Scheduler.Next("snapshot").IsZero())
	assert.False(t, app.Scheduler.Next("sql-purge").IsZero())
}

func TestApp_CorruptSnapshotFailsStartup(t *testing.T) {
	cfg := testConfig(t)
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, writeFile(cfg.SnapshotPath, "not json"))

	_, err := New(context.Background(), cfg, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSerialization))
}

func TestApp_UnknownTier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tiers = []string{"disk"}

	_, err := New(context.Background(), cfg, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestRun_InvalidConfig(t *testing.T) {
	original := logging.GetGlobalLogger()
	defer logging.SetGlobalLogger(original)

	logFile := filepath.Join(t.TempDir(), "run.log")
	testConfig(t)
	t.Setenv("LOG_FILE", logFile)
	t.Setenv("PORT", "70000")

	err := Run()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Invalid setting")
	assert.Contains(t, string(data), "PORT")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
