package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	"cache-manager/internal/common/logging"
)

// HTTPMiddleware rejects requests with 429 once keyFunc's bucket is empty
func HTTPMiddleware(limiter *Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !limiter.Config().Enabled() {
			return next
		}

		retryAfter := fmt.Sprintf("%d", int(math.Ceil(1/limiter.Config().RequestsPerSecond)))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if limiter.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			logging.GetGlobalLogger().WithContext(r.Context()).Debug("Rate limit exceeded", logging.String("key", key))

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", limiter.Config().RequestsPerSecond))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
				"type":  "rate_limited",
			})
		})
	}
}

// IPKey keys requests by client address, preferring proxy headers
func IPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
