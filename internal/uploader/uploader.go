// SPDX-License-Identifier: MIT

// Package uploader drains the edge durable queue in batches and ships them
// to the cloud ingest endpoint over HTTPS, applying the failure policy from
// the edge uplink contract: 2xx acks and clears backoff, 401 halts uploads
// outright, 429 doubles the retry delay, and network/5xx errors back off
// exponentially while leaving the batch queued for the next attempt.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/metrics"
	"github.com/waystellar/racecloud/internal/queue"
	"github.com/waystellar/racecloud/internal/resilience"
)

// ErrAuthHalted is returned by Run (via its error channel, not a panic) when
// the ingest endpoint rejects the upload token with 401. The caller is
// expected to surface this to an operator; uploads do not resume on their
// own since a rotated token requires reconfiguration.
var ErrAuthHalted = errors.New("uploader: auth rejected, uploads halted")

// Config controls batching cadence and the target endpoint.
type Config struct {
	Endpoint     string
	TruckToken   string
	BatchSize    int
	BatchTimeout time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// DefaultConfig matches the edge uplink contract's stated defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		BatchTimeout: time.Second,
		BaseBackoff:  time.Second,
		MaxBackoff:   60 * time.Second,
	}
}

// envelope is the wire payload posted to the ingest endpoint: positions and
// telemetry samples separated into their own arrays, as the contract
// requires, regardless of how many queued batches from either source were
// combined to fill it.
type envelope struct {
	Positions []json.RawMessage `json:"positions"`
	Telemetry []json.RawMessage `json:"telemetry"`
}

// Uploader drains a queue.Queue and POSTs batches to the cloud ingest
// endpoint, guarded by a circuit breaker so a persistently failing endpoint
// stops being hammered.
type Uploader struct {
	cfg    Config
	q      *queue.Queue
	client *http.Client
	cb     *resilience.CircuitBreaker

	backoff time.Duration
	halted  bool

	resultMu    sync.Mutex
	lastSuccess time.Time
	lastError   string
}

// LastRun reports the timestamp of the most recent successful batch upload
// and the error from the most recent failed one, if any. It is safe to call
// concurrently with Run and is intended for wiring into a health.LastRunChecker.
func (u *Uploader) LastRun() (time.Time, string) {
	u.resultMu.Lock()
	defer u.resultMu.Unlock()
	return u.lastSuccess, u.lastError
}

func (u *Uploader) recordSuccess(at time.Time) {
	u.resultMu.Lock()
	defer u.resultMu.Unlock()
	u.lastSuccess = at
	u.lastError = ""
}

func (u *Uploader) recordFailure(err error) {
	u.resultMu.Lock()
	defer u.resultMu.Unlock()
	u.lastError = err.Error()
}

// New constructs an Uploader. client may be nil to use http.DefaultClient's
// equivalent with a 10s timeout.
func New(cfg Config, q *queue.Queue, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}

	return &Uploader{
		cfg:     cfg,
		q:       q,
		client:  client,
		cb:      resilience.NewCircuitBreaker("uploader", 5, 5, time.Minute, 30*time.Second),
		backoff: cfg.BaseBackoff,
	}
}

// Run drains the queue forever, stopping only when ctx is cancelled or the
// endpoint halts uploads with a 401. Callers typically run this in its own
// goroutine.
func (u *Uploader) Run(ctx context.Context) error {
	logger := log.WithTraceContext(ctx)
	ticker := time.NewTicker(u.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if u.halted {
				return ErrAuthHalted
			}
			if err := u.drainOnce(ctx); err != nil {
				if errors.Is(err, ErrAuthHalted) {
					return err
				}
				logger.Warn().Err(err).Msg("uploader: batch upload failed")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(u.backoff):
				}
			}
		}
	}
}

// drainOnce peeks one pending batch per known source and attempts a single
// upload pass. It returns nil when there is nothing to send.
func (u *Uploader) drainOnce(ctx context.Context) error {
	var toSend []queue.Batch
	for _, source := range []string{"positions", "telemetry"} {
		for len(toSend) < u.cfg.BatchSize {
			b, ok, err := u.q.Peek(ctx, source)
			if err != nil {
				return fmt.Errorf("uploader: peek %s: %w", source, err)
			}
			if !ok {
				break
			}
			toSend = append(toSend, b)
			// Peek does not remove; break after one per source per tick to
			// avoid starving the other source, the remainder drains on
			// subsequent ticks.
			break
		}
	}
	if len(toSend) == 0 {
		return nil
	}

	err := u.cb.Execute(func() error { return u.upload(ctx, toSend) })
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil // breaker is cooling down, try again next tick
		}
		u.recordFailure(err)
		return err
	}

	for _, b := range toSend {
		if err := u.q.Ack(ctx, b.ID); err != nil {
			u.recordFailure(err)
			return fmt.Errorf("uploader: ack %d: %w", b.ID, err)
		}
	}
	u.backoff = u.cfg.BaseBackoff
	u.recordSuccess(time.Now())
	return nil
}

func (u *Uploader) upload(ctx context.Context, batches []queue.Batch) error {
	env := envelope{}
	for _, b := range batches {
		switch b.Source {
		case "positions":
			env.Positions = append(env.Positions, json.RawMessage(b.Payload))
		case "telemetry":
			env.Telemetry = append(env.Telemetry, json.RawMessage(b.Payload))
		}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("uploader: marshal envelope: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Truck-Token", u.cfg.TruckToken)

	resp, err := u.client.Do(req)
	outcome := outcomeLabel(resp, err)
	metrics.UploadAttempts.WithLabelValues(outcome).Inc()
	metrics.UploadLatencySeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		u.applyBackoff()
		return fmt.Errorf("uploader: request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.UploadBatchSize.Observe(float64(len(batches)))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		u.halted = true
		return ErrAuthHalted
	case resp.StatusCode == http.StatusTooManyRequests:
		u.applyBackoff()
		return fmt.Errorf("uploader: rate limited (429)")
	default:
		u.applyBackoff()
		return fmt.Errorf("uploader: unexpected status %d", resp.StatusCode)
	}
}

// applyBackoff doubles the retry delay up to max_retry, covering both the
// 429 signal and generic network/5xx failures per the edge uplink contract.
func (u *Uploader) applyBackoff() {
	u.backoff *= 2
	if u.backoff > u.cfg.MaxBackoff {
		u.backoff = u.cfg.MaxBackoff
	}
}

func outcomeLabel(resp *http.Response, err error) string {
	if err != nil {
		return "error"
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "success"
	}
	return fmt.Sprintf("http_%d", resp.StatusCode)
}
