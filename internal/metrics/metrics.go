// SPDX-License-Identifier: MIT

// Package metrics centralizes the Prometheus instrumentation shared by the
// edge uplink engine and the cloud ingest/distribution engine. Metric names
// follow racecloud_<subsystem>_<noun>_total (or _seconds/_bytes for
// histograms and gauges) so dashboards can be written once and reused across
// both processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// --- circuit breaker ---

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "circuit_breaker",
			Name:      "status",
			Help:      "Circuit breaker state as an integer: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"name"},
	)

	circuitBreakerStateLabel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "circuit_breaker",
			Name:      "state_info",
			Help:      "Always 1; the state label carries the current circuit breaker state name.",
		},
		[]string{"name", "state"},
	)

	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "circuit_breaker",
			Name:      "trips_total",
			Help:      "Total number of times a circuit breaker tripped open.",
		},
		[]string{"name", "reason"},
	)
)

// SetCircuitBreakerState records the current state as a human-readable label.
func SetCircuitBreakerState(name, state string) {
	circuitBreakerStateLabel.Reset()
	circuitBreakerStateLabel.WithLabelValues(name, state).Set(1)
}

// SetCircuitBreakerStatus records the current state as an integer gauge.
func SetCircuitBreakerStatus(name string, status int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(status))
}

// RecordCircuitBreakerTrip increments the trip counter for name/reason.
func RecordCircuitBreakerTrip(name, reason string) {
	circuitBreakerTrips.WithLabelValues(name, reason).Inc()
}

// --- durable queue (edge) ---

var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of batches resident in the durable uplink queue.",
		},
		[]string{"source"},
	)

	QueueBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "queue",
			Name:      "bytes",
			Help:      "Current number of bytes resident in the durable uplink queue.",
		},
		[]string{"source"},
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total batches enqueued to the durable uplink queue.",
		},
		[]string{"source"},
	)

	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total batches dropped from the durable uplink queue due to cap enforcement.",
		},
		[]string{"source", "reason"},
	)

	QueueDequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "queue",
			Name:      "dequeued_total",
			Help:      "Total batches dequeued and acknowledged from the durable uplink queue.",
		},
		[]string{"source"},
	)
)

// --- uploader (edge) ---

var (
	UploadAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "uploader",
			Name:      "attempts_total",
			Help:      "Total batch upload attempts made to the cloud ingest endpoint.",
		},
		[]string{"outcome"},
	)

	UploadLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "racecloud",
			Subsystem: "uploader",
			Name:      "latency_seconds",
			Help:      "Latency of batch upload requests to the cloud ingest endpoint.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	UploadBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "racecloud",
			Subsystem: "uploader",
			Name:      "batch_size",
			Help:      "Number of samples in each uploaded batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

// --- ingest (cloud) ---

var (
	IngestSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "ingest",
			Name:      "samples_total",
			Help:      "Total telemetry/position samples accepted by the ingest handler.",
		},
		[]string{"sample_type"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Total samples rejected by the ingest handler.",
		},
		[]string{"reason"},
	)

	IngestDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "ingest",
			Name:      "duplicate_total",
			Help:      "Total samples discarded as duplicates of an already-applied batch.",
		},
		[]string{"vehicle_id"},
	)
)

// --- kalman filter (cloud) ---

var (
	KalmanUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "kalman",
			Name:      "updates_total",
			Help:      "Total Kalman filter predict+update cycles run.",
		},
		[]string{"vehicle_id"},
	)

	KalmanOutliersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "kalman",
			Name:      "outliers_rejected_total",
			Help:      "Total position samples rejected as physically implausible outliers.",
		},
		[]string{"vehicle_id"},
	)

	KalmanActiveFilters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "kalman",
			Name:      "active_filters",
			Help:      "Number of per-vehicle Kalman filter instances currently resident in the LRU cache.",
		},
	)
)

// --- checkpoint detector (cloud) ---

var (
	CheckpointCrossings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "checkpoint",
			Name:      "crossings_total",
			Help:      "Total checkpoint crossings recorded.",
		},
		[]string{"event_id"},
	)

	CheckpointSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "checkpoint",
			Name:      "skipped_total",
			Help:      "Total checkpoint candidates skipped because their ordinal was not the expected next one.",
		},
		[]string{"event_id"},
	)

	LapAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "checkpoint",
			Name:      "lap_advances_total",
			Help:      "Total lap advances recorded when the max checkpoint of a lap is crossed.",
		},
		[]string{"event_id"},
	)
)

// --- pub/sub distribution (cloud) ---

var (
	PubSubPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "Total events published to the distribution bus.",
		},
		[]string{"event_type"},
	)

	PubSubDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "pubsub",
			Name:      "dropped_total",
			Help:      "Total events dropped because a subscriber's channel was full (slow consumer).",
		},
		[]string{"event_type"},
	)

	PubSubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "pubsub",
			Name:      "subscribers",
			Help:      "Current number of connected SSE subscribers across all events.",
		},
	)

	PubSubReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "racecloud",
			Subsystem: "pubsub",
			Name:      "replayed_total",
			Help:      "Total events replayed to resuming subscribers via Last-Event-ID.",
		},
		[]string{"event_type"},
	)
)

// --- http ---

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "racecloud",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "racecloud",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being served.",
		},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "racecloud",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response sizes in bytes.",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "route", "status"},
	)
)
