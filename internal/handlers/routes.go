package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"cache-manager/internal/common/logging"
	"cache-manager/internal/middleware"
	"cache-manager/internal/ratelimit"
)

// Router builds the admin API router
func (h *Handlers) Router(logger logging.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	if h.limiter != nil {
		api.Use(ratelimit.HTTPMiddleware(h.limiter, ratelimit.IPKey))
	}

	api.HandleFunc("/cache", operation("mget", h.GetEntries)).Methods("GET")
	api.HandleFunc("/cache", operation("reset", h.Reset)).Methods("DELETE")
	api.HandleFunc("/cache/{key}", operation("get", h.GetEntry)).Methods("GET")
	api.HandleFunc("/cache/{key}", operation("set", h.PutEntry)).Methods("PUT")
	api.HandleFunc("/cache/{key}", operation("del", h.DeleteEntry)).Methods("DELETE")

	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/tiers/{tier}/keys", operation("keys", h.ListTierKeys)).Methods("GET")
	api.HandleFunc("/snapshot", operation("snapshot", h.SaveSnapshot)).Methods("POST")

	return router
}

// operation tags the request context so logs written while serving it carry
// the cache operation name.
func operation(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r.WithContext(logging.ContextWithOperation(r.Context(), name)))
	}
}
