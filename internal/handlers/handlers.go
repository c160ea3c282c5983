// Package handlers implements the admin HTTP API over the configured cache
// stack.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
	"cache-manager/internal/common/utils"
	"cache-manager/internal/config"
	"cache-manager/internal/factory"
	"cache-manager/internal/ratelimit"
	"cache-manager/internal/stores/memory"
)

// maxBodyBytes bounds PUT payloads
const maxBodyBytes = 1 << 20

type Handlers struct {
	cache        cache.Cacher
	tiers        []factory.Tier
	memory       *memory.Store
	limiter      *ratelimit.Limiter
	snapshotPath string
	logger       logging.Logger
	started      time.Time
}

// New creates the handlers for a built tier stack. A nil limiter leaves the
// API unthrottled.
func New(tiers *factory.Tiers, cfg *config.Config, limiter *ratelimit.Limiter, logger logging.Logger) *Handlers {
	return &Handlers{
		cache:        tiers.Multi,
		tiers:        tiers.Tiers,
		memory:       tiers.Memory,
		limiter:      limiter,
		snapshotPath: cfg.SnapshotPath,
		logger:       logging.OrGlobal(logger).WithFields(logging.String("component", "handlers")),
		started:      time.Now(),
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error type to a status code
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errType := errors.GetType(err)

	status := http.StatusInternalServerError
	switch errType {
	case errors.ErrTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrTypeNotCacheable:
		status = http.StatusUnprocessableEntity
	case errors.ErrTypeConnection, errors.ErrTypeTier:
		status = http.StatusServiceUnavailable
	case errors.ErrTypeConfig:
		status = http.StatusConflict
	}

	if status >= 500 {
		h.logger.WithContext(r.Context()).Error("Request failed", err, logging.String("path", r.URL.Path))
	}

	if errType == "" {
		errType = errors.ErrTypeInternal
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Type: string(errType)})
}

// parseTTL accepts a Go duration ("30s"), days or weeks ("7d") or a bare
// number of seconds. An empty value means the tier defaults.
func parseTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	ttl, err := utils.ParseDuration(raw)
	if err != nil {
		return 0, errors.ValidationError("invalid ttl: " + raw)
	}
	if ttl < 0 {
		return 0, errors.ValidationError("ttl must not be negative")
	}
	return ttl, nil
}

// splitKeys parses a comma separated key list, dropping blanks
func splitKeys(raw string) []string {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
