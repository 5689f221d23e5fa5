// SPDX-License-Identifier: MIT

package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/waystellar/racecloud/internal/api/middleware"
)

// NewServer builds the full cloud HTTP surface: truck-facing ingest/
// heartbeat routes rate-limited under the "truck" tier, and viewer-facing
// leaderboard/splits/positions/stream routes rate-limited under "public".
func NewServer(d Deps) *chi.Mux {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        d.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        d.TracingService,
		EnableLogging:         true,
	})

	ingestHandler := buildIngestHandler(d)

	r.Route("/api/v1/telemetry", func(rt chi.Router) {
		if d.TruckRL != nil {
			rt.Use(middleware.RateLimit(d.TruckRL, "truck"))
		}
		rt.Method("POST", "/ingest", ingestHandler)
		rt.Get("/heartbeat", heartbeatHandler(d.Store))
		rt.Post("/heartbeat", heartbeatHandler(d.Store))
	})

	r.Route("/api/v1/truck", func(rt chi.Router) {
		if d.TruckRL != nil {
			rt.Use(middleware.RateLimit(d.TruckRL, "truck"))
		}
		rt.Get("/me", truckMeHandler(d.Store))
	})

	r.Route("/api/v1/events/{eventID}", func(rt chi.Router) {
		if d.PublicRL != nil {
			rt.Use(middleware.RateLimit(d.PublicRL, "public"))
		}
		rt.Get("/stream", streamHandler(d.Store, d.Bus, d.AuthCfg, d.Cache))
		rt.Get("/leaderboard", leaderboardHandler(d.Store))
		rt.Get("/splits", splitsHandler(d.Store))
		rt.Get("/positions/latest", positionsLatestHandler(d.Store, d.AuthCfg, d.Cache))
	})

	return r
}
