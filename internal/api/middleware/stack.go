// SPDX-License-Identifier: MIT

// Package middleware provides the canonical HTTP ingress middleware stack
// shared by the ingest and viewer servers.
package middleware

import (
	"github.com/go-chi/chi/v5"

	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/ratelimit"
)

// StackConfig configures the canonical HTTP ingress middleware stack so
// both the ingest and viewer servers apply the same cross-cutting
// concerns in the same order.
type StackConfig struct {
	EnableCORS     bool
	AllowedOrigins []string

	EnableSecurityHeaders bool
	CSP                   string

	EnableMetrics  bool
	TracingService string // empty disables tracing

	EnableLogging bool

	RateLimiter *ratelimit.Limiter
	RateLimitMode string // "truck" or "public"
}

// NewRouter constructs a chi router with the canonical middleware stack
// applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r in the order that
// keeps the safety net outermost and the most expensive checks innermost.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableCORS {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimiter != nil {
		r.Use(RateLimit(cfg.RateLimiter, cfg.RateLimitMode))
	}
}
