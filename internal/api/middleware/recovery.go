// SPDX-License-Identifier: MIT

// Package middleware provides the canonical HTTP ingress middleware stack
// shared by the viewer and ingest servers.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/waystellar/racecloud/internal/log"
)

// Recoverer ensures a panic inside any downstream handler does not crash
// the process. It logs the panic with the request's correlation ID and
// returns a best-effort JSON 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)

				reqID := log.RequestIDFromContext(r.Context())
				logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
				logger.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", reqID).
					Interface("panic_value", rec).
					Str("stack_trace", string(buf[:n])).
					Msg("panic recovered in HTTP handler")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":      "internal server error",
					"request_id": reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
