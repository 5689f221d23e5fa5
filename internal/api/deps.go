// SPDX-License-Identifier: MIT

// Package api wires the HTTP surface spec.md §6 describes: the truck-facing
// ingest/heartbeat routes and the viewer-facing leaderboard/splits/stream
// routes, sharing one canonical middleware stack.
package api

import (
	"time"

	"github.com/waystellar/racecloud/internal/auth"
	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/checkpoint"
	"github.com/waystellar/racecloud/internal/ingest"
	"github.com/waystellar/racecloud/internal/kalman"
	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/ratelimit"
	"github.com/waystellar/racecloud/internal/store"
)

// Deps holds every collaborator the cloud HTTP surface needs. It is built
// once at process startup and handed to NewServer.
type Deps struct {
	Store    *store.Store
	Bus      *pubsub.Bus
	AuthCfg  auth.Config
	TruckRL  *ratelimit.Limiter
	PublicRL *ratelimit.Limiter

	// Cache backs the ingest token cache, the viewer policy cache, and the
	// latest-position cache. Nil gives the ingest token cache a fresh
	// in-memory cache; the policy and latest-position lookups then read
	// straight through to the store.
	Cache cache.Cache

	// AllowedOrigins configures the CORS middleware; empty falls back to
	// local-dev origins only.
	AllowedOrigins []string
	// TracingService names the OpenTelemetry tracer; empty disables tracing.
	TracingService string
}

// defaultKalmanCacheSize bounds how many vehicles' filter state the
// ingest handler keeps warm in memory at once.
const defaultKalmanCacheSize = 500

// buildIngestHandler constructs the ingest.Handler from shared store/bus
// instances plus a fresh per-process Kalman cache and checkpoint detector.
func buildIngestHandler(d Deps) *ingest.Handler {
	kc := kalman.NewCache(defaultKalmanCacheSize)
	det := checkpoint.New(d.Store)
	tokenCache := d.Cache
	if tokenCache == nil {
		tokenCache = cache.NewMemoryCache(time.Minute)
	}
	return ingest.New(d.Store, kc, det, d.Bus, tokenCache)
}
