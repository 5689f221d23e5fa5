// SPDX-License-Identifier: MIT

package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waystellar/racecloud/internal/queue"
)

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uplink.db")
	q, err := queue.Open(path, queue.DefaultLimits())
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestUploadSuccessAcksBatch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "positions", []byte(`{"vehicle_id":"veh_1"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.TruckToken = "tok"
	up := New(cfg, q, srv.Client())

	if err := up.drainOnce(ctx); err != nil {
		t.Fatalf("drainOnce: %v", err)
	}

	depth, err := q.Depth(ctx, "positions")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected batch to be acked and removed, depth=%d", depth)
	}
	if atomic.LoadInt32(&requests) != 1 {
		t.Fatalf("expected exactly one upload request, got %d", requests)
	}
}

func TestLastRunReflectsSuccessThenFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.TruckToken = "tok"
	up := New(cfg, q, srv.Client())

	lastRun, lastErr := up.LastRun()
	if !lastRun.IsZero() || lastErr != "" {
		t.Fatalf("expected zero-value LastRun before any upload, got %v / %q", lastRun, lastErr)
	}

	if err := q.Enqueue(ctx, "positions", []byte(`{"vehicle_id":"veh_1"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := up.drainOnce(ctx); err != nil {
		t.Fatalf("drainOnce: %v", err)
	}
	lastRun, lastErr = up.LastRun()
	if lastRun.IsZero() || lastErr != "" {
		t.Fatalf("expected successful LastRun after a clean upload, got %v / %q", lastRun, lastErr)
	}
	successTime := lastRun

	fail.Store(true)
	if err := q.Enqueue(ctx, "positions", []byte(`{"vehicle_id":"veh_1"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := up.drainOnce(ctx); err == nil {
		t.Fatalf("expected drainOnce to report the server error")
	}
	lastRun, lastErr = up.LastRun()
	if !lastRun.Equal(successTime) {
		t.Fatalf("expected last success timestamp to stay put on failure, got %v", lastRun)
	}
	if lastErr == "" {
		t.Fatalf("expected a recorded failure message")
	}
}

func TestUploadUnauthorizedHaltsUploader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "positions", []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	up := New(cfg, q, srv.Client())

	if err := up.drainOnce(ctx); err == nil {
		t.Fatal("expected an error from a 401 response")
	}
	if !up.halted {
		t.Fatal("expected uploader to be halted after a 401")
	}

	depth, _ := q.Depth(ctx, "positions")
	if depth != 1 {
		t.Fatalf("expected batch to remain queued after auth failure, depth=%d", depth)
	}
}

func TestUploadServerErrorLeavesBatchQueuedAndBacksOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "positions", []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	up := New(cfg, q, srv.Client())

	initialBackoff := up.backoff
	if err := up.drainOnce(ctx); err == nil {
		t.Fatal("expected an error from a 500 response")
	}
	if up.backoff <= initialBackoff {
		t.Fatalf("expected backoff to increase after a server error, got %v (was %v)", up.backoff, initialBackoff)
	}

	depth, _ := q.Depth(ctx, "positions")
	if depth != 1 {
		t.Fatalf("expected batch to remain queued after server error, depth=%d", depth)
	}
}

func TestUploadTooManyRequestsDoublesBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "positions", []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	up := New(cfg, q, srv.Client())

	before := up.backoff
	_ = up.drainOnce(ctx)
	if up.backoff != before*2 {
		t.Fatalf("expected backoff to exactly double on 429, got %v (was %v)", up.backoff, before)
	}
}

func TestUploadSeparatesPositionsAndTelemetryIntoOwnArrays(t *testing.T) {
	var seenPositions, seenTelemetry int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		seenPositions = len(env.Positions)
		seenTelemetry = len(env.Telemetry)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "positions", []byte(`{"lat":1}`)); err != nil {
		t.Fatalf("enqueue positions: %v", err)
	}
	if err := q.Enqueue(ctx, "telemetry", []byte(`{"rpm":1}`)); err != nil {
		t.Fatalf("enqueue telemetry: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	up := New(cfg, q, srv.Client())

	if err := up.drainOnce(ctx); err != nil {
		t.Fatalf("drainOnce: %v", err)
	}

	if seenPositions != 1 || seenTelemetry != 1 {
		t.Fatalf("expected one of each array, got positions=%d telemetry=%d", seenPositions, seenTelemetry)
	}
}

func TestRunReturnsErrAuthHaltedAfter401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	q := openTestQueue(t)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "positions", []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.BatchTimeout = 10 * time.Millisecond
	up := New(cfg, q, srv.Client())

	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	err := up.Run(runCtx)
	if err == nil {
		t.Fatal("expected Run to return an error")
	}
}
