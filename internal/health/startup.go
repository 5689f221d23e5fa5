// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/waystellar/racecloud/internal/config"
	"github.com/waystellar/racecloud/internal/log"
)

// PerformEdgeStartupChecks validates the edge uplink engine's environment
// before it starts collecting and uploading samples.
func PerformEdgeStartupChecks(ctx context.Context, cfg config.Edge) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running edge pre-flight startup checks")

	if err := checkDataDir(logger, filepath.Dir(cfg.QueuePath)); err != nil {
		return fmt.Errorf("queue directory check failed: %w", err)
	}

	if cfg.UploadEndpoint == "" {
		return fmt.Errorf("%w", config.ErrMissingUploadEndpoint)
	}
	if _, err := url.Parse(cfg.UploadEndpoint); err != nil {
		return fmt.Errorf("invalid upload endpoint %q: %w", cfg.UploadEndpoint, err)
	}
	logger.Info().Str("endpoint", cfg.UploadEndpoint).Msg("upload endpoint is valid")

	if cfg.TruckToken == "" {
		return fmt.Errorf("%w", config.ErrMissingTruckToken)
	}

	logger.Info().Msg("all edge startup checks passed")
	return nil
}

// PerformCloudStartupChecks validates the cloud ingest/distribution engine's
// environment before it starts accepting traffic.
func PerformCloudStartupChecks(ctx context.Context, cfg config.Cloud) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running cloud pre-flight startup checks")

	if err := checkListenAddr(logger, cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}

	if err := checkDataDir(logger, filepath.Dir(cfg.DBPath)); err != nil {
		return fmt.Errorf("store directory check failed: %w", err)
	}

	if cfg.JWTSecret == "" {
		return fmt.Errorf("%w", config.ErrMissingJWTSecret)
	}

	logger.Info().Msg("all cloud startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("listen address is valid")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}
