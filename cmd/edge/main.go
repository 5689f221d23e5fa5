// SPDX-License-Identifier: MIT

// Command edge runs the edge uplink engine: it collects GPS/vehicle-bus/
// heart-rate samples into the durable queue and drains that queue over
// HTTPS to the cloud ingest endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/waystellar/racecloud/internal/collector"
	"github.com/waystellar/racecloud/internal/config"
	"github.com/waystellar/racecloud/internal/health"
	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/queue"
	"github.com/waystellar/racecloud/internal/telemetry"
	"github.com/waystellar/racecloud/internal/uploader"
)

var version = "dev"

func main() {
	log.Configure(log.Config{Level: "info", Service: "racecloud-edge", Version: version})
	logger := log.WithComponent("edge")

	cfg, err := config.LoadEdge()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load edge configuration")
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "racecloud-edge", Version: version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "racecloud-edge",
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

	if err := health.PerformEdgeStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("edge startup checks failed")
	}

	q, err := queue.Open(cfg.QueuePath, cfg.QueueLimits)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.QueuePath).Msg("failed to open durable queue")
	}
	defer q.Close()

	var sources []collector.Source
	if cfg.SimulateSources {
		logger.Warn().Msg("simulated sources enabled — samples will carry is_simulated=true")
		sources = append(sources,
			collector.NewSimulatedSource("gps", "positions", 100*time.Millisecond, simulatedPosition),
			collector.NewSimulatedSource("can", "telemetry", 100*time.Millisecond, simulatedTelemetry),
			collector.NewSimulatedSource("heart_rate", "telemetry", time.Second, simulatedHeartRate),
		)
	} else {
		logger.Info().Msg("no real hardware source drivers wired yet — running with zero live sources")
	}
	coll := collector.New(q, sources...)

	up := uploader.New(uploader.Config{
		Endpoint:     cfg.UploadEndpoint,
		TruckToken:   cfg.TruckToken,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
	}, q, &http.Client{Timeout: 30 * time.Second})

	mgr := health.NewManager(version)
	mgr.RegisterChecker(health.NewFileChecker("queue_file", cfg.QueuePath))
	mgr.RegisterChecker(health.NewConnectivityChecker("upload_endpoint", dialProbe(cfg.UploadEndpoint)))
	mgr.RegisterChecker(health.NewLastRunChecker(up.LastRun))

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", mgr.ServeHealth)
	healthMux.HandleFunc("/readyz", mgr.ServeReady)
	healthSrv := &http.Server{Addr: cfg.HealthAddr, Handler: healthMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", cfg.HealthAddr).Msg("edge health endpoint listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("health server exited unexpectedly")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- coll.Run(ctx) }()
	go func() { errCh <- up.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("edge pipeline exited unexpectedly")
		}
	}
}

// dialProbe builds a connectivity check that opens and immediately closes a
// TCP connection to the upload endpoint's host, without sending a request.
func dialProbe(endpoint string) func(context.Context) error {
	return func(ctx context.Context) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("parse endpoint: %w", err)
		}
		host := u.Host
		if host == "" {
			return fmt.Errorf("endpoint has no host")
		}
		if !strings.Contains(host, ":") {
			if u.Scheme == "https" {
				host += ":443"
			} else {
				host += ":80"
			}
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

func simulatedPosition(tsMs int64) json.RawMessage {
	t := float64(tsMs) / 1000
	lat := 37.0 + 0.001*math.Sin(t/10)
	lon := -121.0 + 0.001*math.Cos(t/10)
	payload, _ := json.Marshal(map[string]any{
		"ts_ms":       tsMs,
		"lat":         lat,
		"lon":         lon,
		"speed_mps":   35.0,
		"heading_deg": 90.0,
	})
	return payload
}

func simulatedTelemetry(tsMs int64) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"ts_ms":        tsMs,
		"rpm":          4500.0,
		"gear":         4,
		"throttle_pct": 60.0,
	})
	return payload
}

func simulatedHeartRate(tsMs int64) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"ts_ms":      tsMs,
		"heart_rate": 140,
	})
	return payload
}
