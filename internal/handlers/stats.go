package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"cache-manager/internal/circuitbreaker"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/logging"
	"cache-manager/internal/common/pagination"
	"cache-manager/internal/snapshot"
)

// TierStats describes one tier in GET /api/stats
type TierStats struct {
	Name     string                `json:"name"`
	Position int                   `json:"position"`
	Keys     int                   `json:"keys"`
	Error    string                `json:"error,omitempty"`
	Breaker  *circuitbreaker.Stats `json:"breaker,omitempty"`
}

// HealthCheck reports "degraded" while any remote tier breaker is open
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	names := make([]string, len(h.tiers))
	for i, tier := range h.tiers {
		names[i] = tier.Name
		if tier.Breaker != nil && tier.Breaker.IsOpen() {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"tiers":          names,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// GetStats returns per tier key counts, breaker states and memory usage
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tiers := make([]TierStats, len(h.tiers))
	for i, tier := range h.tiers {
		stats := TierStats{Name: tier.Name, Position: i}
		if keys, err := tier.Cache.Keys(ctx); err != nil {
			stats.Error = err.Error()
		} else {
			stats.Keys = len(keys)
		}
		if tier.Breaker != nil {
			breaker := tier.Breaker.Stats()
			stats.Breaker = &breaker
		}
		tiers[i] = stats
	}

	response := map[string]interface{}{"tiers": tiers}
	if h.limiter != nil {
		response["rate_limit"] = h.limiter.Stats()
	}
	if h.memory != nil {
		response["memory"] = map[string]int{
			"keys": h.memory.KeyCount(),
			"max":  h.memory.Max(),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// ListTierKeys pages through the keys one tier holds, sorted
func (h *Handlers) ListTierKeys(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["tier"]

	params, err := pagination.ParseParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	for _, tier := range h.tiers {
		if tier.Name != name {
			continue
		}
		keys, err := tier.Cache.Keys(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		sort.Strings(keys)
		writeJSON(w, http.StatusOK, pagination.Paginate(keys, params))
		return
	}

	h.writeError(w, r, errors.NotFoundError("tier "+name))
}

// SaveSnapshot writes the memory tier to the configured snapshot path
func (h *Handlers) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil || h.snapshotPath == "" {
		h.writeError(w, r, errors.ConfigError("snapshots need the memory tier and SNAPSHOT_PATH"))
		return
	}

	entries, err := snapshot.Save(h.snapshotPath, h.memory)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).Info("Snapshot saved on request",
		logging.String("path", h.snapshotPath),
		logging.Int("entries", entries),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    h.snapshotPath,
		"entries": entries,
	})
}
