package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"cache-manager/internal/cache"
	"cache-manager/internal/common/errors"
	"cache-manager/internal/common/validation"
)

// Entry is a single key in a response
type Entry struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
	Found bool        `json:"found"`
}

func keyFromPath(r *http.Request) (string, error) {
	key := mux.Vars(r)["key"]
	if err := validation.ValidateVar(key, "cache_key"); err != nil {
		return "", err
	}
	return key, nil
}

// GetEntry returns the value stored under {key}, searching tiers in order
func (h *Handlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	value, found, err := h.cache.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		h.writeError(w, r, errors.NotFoundError(fmt.Sprintf("key %s", key)))
		return
	}

	writeJSON(w, http.StatusOK, Entry{Key: key, Value: value, Found: true})
}

// GetEntries returns the values of ?keys=a,b,c in request order
func (h *Handlers) GetEntries(w http.ResponseWriter, r *http.Request) {
	keys := splitKeys(r.URL.Query().Get("keys"))
	if len(keys) == 0 {
		h.writeError(w, r, errors.ValidationError("keys query parameter is required"))
		return
	}
	for _, key := range keys {
		if err := validation.ValidateVar(key, "cache_key"); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	values, err := h.cache.MGet(r.Context(), keys...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries := make([]Entry, len(keys))
	for i, key := range keys {
		entries[i] = Entry{Key: key, Value: values[i], Found: values[i] != nil}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// PutEntry stores the JSON request body under {key} in every tier.
// ?ttl= overrides the tier defaults.
func (h *Handlers) PutEntry(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ttl, err := parseTTL(r.URL.Query().Get("ttl"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var value interface{}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(&value); err != nil {
		h.writeError(w, r, errors.ValidationError("invalid JSON body: "+err.Error()))
		return
	}

	// Tier write failures are swallowed, so reject values no tier would keep.
	if err := cache.CheckCacheable(nil, cache.Item{Key: key, Value: value}); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.cache.Set(r.Context(), key, value, ttl); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":    key,
		"ttl_ms": ttl.Milliseconds(),
	})
}

// DeleteEntry removes {key} from every tier
func (h *Handlers) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.cache.Del(r.Context(), key); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset clears every tier
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.WithContext(r.Context()).Info("Cache reset")
	w.WriteHeader(http.StatusNoContent)
}
