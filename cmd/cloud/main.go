// SPDX-License-Identifier: MIT

// Command cloud runs the cloud ingest and real-time distribution engine:
// the truck-facing telemetry ingest/heartbeat API and the viewer-facing
// leaderboard/splits/SSE stream API, sharing one SQLite-backed store and
// one pub/sub bus.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waystellar/racecloud/internal/api"
	"github.com/waystellar/racecloud/internal/auth"
	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/config"
	"github.com/waystellar/racecloud/internal/health"
	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/store"
	"github.com/waystellar/racecloud/internal/telemetry"
)

var version = "dev"

func main() {
	log.Configure(log.Config{Level: "info", Service: "racecloud-cloud", Version: version})
	logger := log.WithComponent("cloud")

	cfg, err := config.LoadCloud()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load cloud configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "racecloud-cloud", Version: version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "racecloud-cloud",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		ExporterType:   "grpc",
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	if err := health.PerformCloudStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("cloud startup checks failed")
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}
	defer s.Close()

	sharedCache, err := cache.New(cfg.RedisAddr, logger, 5*time.Minute)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to initialize cache backend")
	}

	mgr := health.NewManager(version)
	mgr.SetReadyStrict(true)
	mgr.RegisterChecker(health.NewConnectivityChecker("store", func(ctx context.Context) error {
		return s.DB().PingContext(ctx)
	}))
	if cfg.RedisAddr != "" {
		if rc, ok := sharedCache.(*cache.RedisCache); ok {
			mgr.RegisterChecker(health.NewConnectivityChecker("redis", rc.HealthCheck))
		}
	}

	bus := pubsub.New(cfg.ReplayCapacity, cfg.ReplayTTL)

	deps := api.Deps{
		Store:          s,
		Bus:            bus,
		AuthCfg:        auth.Config{AdminTokensCSV: cfg.AdminTokensCSV, JWTSecret: cfg.JWTSecret},
		TruckRL:        cfg.TruckLimiter(),
		PublicRL:       cfg.PublicLimiter(),
		Cache:          sharedCache,
		AllowedOrigins: cfg.AllowedOrigins,
		TracingService: "racecloud-cloud",
	}
	router := api.NewServer(deps)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", mgr.ServeHealth)
	router.Get("/readyz", mgr.ServeReady)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("cloud API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("cloud API server exited unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
