// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/waystellar/racecloud/internal/apperr"
	"github.com/waystellar/racecloud/internal/ratelimit"
)

// RateLimit enforces per-IP/per-mode request limits using limiter, mode
// being the caller tier ("truck" for edge uplinks, "public" for viewer
// reads).
func RateLimit(limiter *ratelimit.Limiter, mode string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ratelimit.GetClientIP(r)
			if !limiter.Allow(ip, mode) {
				apperr.WriteHTTP(w, apperr.New(apperr.RateLimited, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
