// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"time"

	"github.com/waystellar/racecloud/internal/queue"
)

// Edge-process environment variable names.
const (
	EnvQueuePath       = "RACECLOUD_EDGE_QUEUE_PATH"
	EnvQueueMaxBytes   = "RACECLOUD_EDGE_QUEUE_MAX_BYTES"
	EnvQueueMaxCount   = "RACECLOUD_EDGE_QUEUE_MAX_COUNT"
	EnvSimulateSources = "RACECLOUD_EDGE_SIMULATE"
	EnvUploadEndpoint  = "RACECLOUD_EDGE_UPLOAD_ENDPOINT"
	EnvTruckToken      = "RACECLOUD_EDGE_TRUCK_TOKEN"
	EnvBatchSize       = "RACECLOUD_EDGE_BATCH_SIZE"
	EnvBatchTimeout    = "RACECLOUD_EDGE_BATCH_TIMEOUT"
	EnvBaseBackoff     = "RACECLOUD_EDGE_BASE_BACKOFF"
	EnvMaxBackoff      = "RACECLOUD_EDGE_MAX_BACKOFF"
	EnvHealthAddr      = "RACECLOUD_EDGE_HEALTH_ADDR"
	EnvLogLevel        = "RACECLOUD_LOG_LEVEL"
	EnvTracingEnabled  = "RACECLOUD_TRACING_ENABLED"
	EnvTracingEndpoint = "RACECLOUD_TRACING_ENDPOINT"
	EnvTracingSampling = "RACECLOUD_TRACING_SAMPLING_RATE"
	EnvEnvironment     = "RACECLOUD_ENVIRONMENT"
)

// ErrMissingUploadEndpoint and ErrMissingTruckToken flag the two values the
// uploader cannot run without; everything else in Edge has a safe default.
var (
	ErrMissingUploadEndpoint = errors.New("config: RACECLOUD_EDGE_UPLOAD_ENDPOINT is required")
	ErrMissingTruckToken     = errors.New("config: RACECLOUD_EDGE_TRUCK_TOKEN is required")
)

// Edge holds the edge uplink engine's full runtime configuration: the
// durable queue's on-disk limits, whether source collection may fall back
// to simulated samples, and the uploader's batching/backoff/auth settings.
type Edge struct {
	QueuePath   string
	QueueLimits queue.Limits

	SimulateSources bool

	UploadEndpoint string
	TruckToken     string
	BatchSize      int
	BatchTimeout   time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration

	HealthAddr string

	LogLevel    string
	Environment string

	TracingEnabled  bool
	TracingEndpoint string
	TracingSampling float64
}

// LoadEdge reads Edge configuration from the process environment and
// validates the fields the uploader cannot start without.
func LoadEdge() (Edge, error) {
	defaults := queue.DefaultLimits()
	uploadCfg := defaultUploaderDefaults()

	cfg := Edge{
		QueuePath: ParseString(EnvQueuePath, "./data/edge-queue.db"),
		QueueLimits: queue.Limits{
			MaxBytes: ParseInt64(EnvQueueMaxBytes, defaults.MaxBytes),
			MaxCount: ParseInt64(EnvQueueMaxCount, defaults.MaxCount),
		},
		SimulateSources: ParseBool(EnvSimulateSources, false),
		UploadEndpoint:  ParseString(EnvUploadEndpoint, ""),
		TruckToken:      ParseString(EnvTruckToken, ""),
		BatchSize:       ParseInt(EnvBatchSize, uploadCfg.batchSize),
		BatchTimeout:    ParseDuration(EnvBatchTimeout, uploadCfg.batchTimeout),
		BaseBackoff:     ParseDuration(EnvBaseBackoff, uploadCfg.baseBackoff),
		MaxBackoff:      ParseDuration(EnvMaxBackoff, uploadCfg.maxBackoff),
		HealthAddr:      ParseString(EnvHealthAddr, ":9091"),
		LogLevel:        ParseString(EnvLogLevel, "info"),
		Environment:     ParseString(EnvEnvironment, "production"),
		TracingEnabled:  ParseBool(EnvTracingEnabled, false),
		TracingEndpoint: ParseString(EnvTracingEndpoint, "localhost:4317"),
		TracingSampling: ParseFloat(EnvTracingSampling, 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return Edge{}, err
	}
	return cfg, nil
}

// Validate checks the fields the edge process cannot safely run without.
func (c Edge) Validate() error {
	if c.UploadEndpoint == "" {
		return ErrMissingUploadEndpoint
	}
	if c.TruckToken == "" {
		return ErrMissingTruckToken
	}
	return nil
}

// uploaderDefaults mirrors internal/uploader.DefaultConfig's numeric
// defaults without importing the uploader package here, keeping config
// free of a dependency on the component it configures.
type uploaderDefaults struct {
	batchSize    int
	batchTimeout time.Duration
	baseBackoff  time.Duration
	maxBackoff   time.Duration
}

func defaultUploaderDefaults() uploaderDefaults {
	return uploaderDefaults{
		batchSize:    50,
		batchTimeout: time.Second,
		baseBackoff:  time.Second,
		maxBackoff:   60 * time.Second,
	}
}
