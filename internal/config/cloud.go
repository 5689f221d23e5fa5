// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/ratelimit"
)

// Cloud-process environment variable names.
const (
	EnvListenAddr           = "RACECLOUD_CLOUD_LISTEN_ADDR"
	EnvDBPath               = "RACECLOUD_CLOUD_DB_PATH"
	EnvJWTSecret            = "RACECLOUD_CLOUD_JWT_SECRET"
	EnvAdminTokensCSV       = "RACECLOUD_CLOUD_ADMIN_TOKENS"
	EnvAllowedOrigins       = "RACECLOUD_CLOUD_ALLOWED_ORIGINS"
	EnvReplayCapacity       = "RACECLOUD_CLOUD_REPLAY_CAPACITY"
	EnvReplayTTL            = "RACECLOUD_CLOUD_REPLAY_TTL"
	EnvKalmanCacheSize      = "RACECLOUD_CLOUD_KALMAN_CACHE_SIZE"
	EnvTruckRatePerSec      = "RACECLOUD_CLOUD_TRUCK_RATE_PER_SEC"
	EnvTruckBurst           = "RACECLOUD_CLOUD_TRUCK_BURST"
	EnvPublicRatePerSec     = "RACECLOUD_CLOUD_PUBLIC_RATE_PER_SEC"
	EnvPublicBurst          = "RACECLOUD_CLOUD_PUBLIC_BURST"
	EnvRateLimitCleanupFreq = "RACECLOUD_CLOUD_RATE_LIMIT_CLEANUP_INTERVAL"
	EnvRedisAddr            = "RACECLOUD_CLOUD_REDIS_ADDR"
)

// ErrMissingJWTSecret flags the one value the cloud process cannot safely
// run without: a default-empty JWT secret would accept any signature.
var ErrMissingJWTSecret = errors.New("config: RACECLOUD_CLOUD_JWT_SECRET is required")

// Cloud holds the cloud ingest/distribution engine's full runtime
// configuration: HTTP listen address, storage path, auth secrets, the
// pub/sub replay buffer's capacity/TTL, a Kalman cache size, and the
// truck/public rate limiter tiers. KalmanCacheSize is parsed but not read by
// the ingest handler, which builds its own fixed 500-filter cache.
type Cloud struct {
	ListenAddr string
	DBPath     string

	JWTSecret      string
	AdminTokensCSV string
	AllowedOrigins []string

	ReplayCapacity  int
	ReplayTTL       time.Duration
	KalmanCacheSize int

	TruckRatePerSec  float64
	TruckBurst       int
	PublicRatePerSec float64
	PublicBurst      int
	RateLimitCleanup time.Duration

	// RedisAddr backs the ingest token cache, the viewer-facing policy
	// cache, and the latest-position cache with Redis instead of an
	// in-process map. Empty keeps the zero-config in-memory default.
	RedisAddr string

	LogLevel    string
	Environment string

	TracingEnabled  bool
	TracingEndpoint string
	TracingSampling float64
}

// LoadCloud reads Cloud configuration from the process environment and
// validates the JWT secret the auth core cannot start without.
func LoadCloud() (Cloud, error) {
	cfg := Cloud{
		ListenAddr:       ParseString(EnvListenAddr, ":8080"),
		DBPath:           ParseString(EnvDBPath, "./data/racecloud.db"),
		JWTSecret:        ParseString(EnvJWTSecret, ""),
		AdminTokensCSV:   ParseString(EnvAdminTokensCSV, ""),
		AllowedOrigins:   ParseStringSlice(EnvAllowedOrigins, nil),
		ReplayCapacity:   ParseInt(EnvReplayCapacity, pubsub.DefaultReplayCapacity),
		ReplayTTL:        ParseDuration(EnvReplayTTL, pubsub.DefaultReplayTTL),
		KalmanCacheSize:  ParseInt(EnvKalmanCacheSize, 500),
		TruckRatePerSec:  ParseFloat(EnvTruckRatePerSec, 20),
		TruckBurst:       ParseInt(EnvTruckBurst, 40),
		PublicRatePerSec: ParseFloat(EnvPublicRatePerSec, 5),
		PublicBurst:      ParseInt(EnvPublicBurst, 20),
		RateLimitCleanup: ParseDuration(EnvRateLimitCleanupFreq, 5*time.Minute),
		RedisAddr:        ParseString(EnvRedisAddr, ""),
		LogLevel:         ParseString(EnvLogLevel, "info"),
		Environment:      ParseString(EnvEnvironment, "production"),
		TracingEnabled:   ParseBool(EnvTracingEnabled, false),
		TracingEndpoint:  ParseString(EnvTracingEndpoint, "localhost:4317"),
		TracingSampling:  ParseFloat(EnvTracingSampling, 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return Cloud{}, err
	}
	return cfg, nil
}

// Validate checks the fields the cloud process cannot safely run without.
func (c Cloud) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// TruckLimiter builds the rate limiter for truck-facing ingest/heartbeat
// routes: a single global tier plus the "truck" mode bucket, since edge
// uplinks authenticate per-vehicle rather than per-IP.
func (c Cloud) TruckLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		GlobalRate:  rate.Limit(c.TruckRatePerSec) * 10,
		GlobalBurst: c.TruckBurst * 10,
		// Per-IP matches the per-vehicle rate: a truck uplink's source IP
		// is effectively its identity, so this tier does the real limiting.
		PerIPRate:  rate.Limit(c.TruckRatePerSec),
		PerIPBurst: c.TruckBurst,
		ModeRates:  map[string]rate.Limit{"truck": rate.Limit(c.TruckRatePerSec)},
		ModeBurst:  map[string]int{"truck": c.TruckBurst},

		CleanupInterval: c.RateLimitCleanup,
	})
}

// PublicLimiter builds the rate limiter for viewer-facing routes, which
// are rate-limited per client IP since viewers carry no stable identity.
func (c Cloud) PublicLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		GlobalRate:  rate.Limit(c.PublicRatePerSec * 10),
		GlobalBurst: c.PublicBurst * 10,
		PerIPRate:   rate.Limit(c.PublicRatePerSec),
		PerIPBurst:  c.PublicBurst,
		ModeRates:   map[string]rate.Limit{"public": rate.Limit(c.PublicRatePerSec)},
		ModeBurst:   map[string]int{"public": c.PublicBurst},

		CleanupInterval: c.RateLimitCleanup,
	})
}
