// SPDX-License-Identifier: MIT

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/checkpoint"
	"github.com/waystellar/racecloud/internal/kalman"
	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	now := time.Now().UnixMilli()
	if err := s.CreateEvent(ctx, store.Event{EventID: "evt_1", Name: "Test", Status: store.EventInProgress, TotalLaps: 1, CreatedAtMs: now, UpdatedAtMs: now}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := s.CreateVehicle(ctx, store.Vehicle{VehicleID: "veh_1", VehicleNumber: "42", TeamName: "Team X", TruckToken: "truck-tok", CreatedAtMs: now}); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	if err := s.RegisterVehicleForEvent(ctx, "evt_1", "veh_1", true, now); err != nil {
		t.Fatalf("register vehicle: %v", err)
	}

	det := checkpoint.New(s)
	bus := pubsub.New(100, time.Hour)
	kc := kalman.NewCache(500)

	h := New(s, kc, det, bus, cache.NewMemoryCache(time.Minute))
	return h, s, "truck-tok"
}

func postBatch(t *testing.T, h *Handler, token string, batch Batch) Response {
	t.Helper()
	body, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set("X-Truck-Token", token)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestIngestAcceptsFreshPosition(t *testing.T) {
	h, _, token := newTestHandler(t)
	now := time.Now().UnixMilli()

	resp := postBatch(t, h, token, Batch{
		Positions: []PositionSample{{TsMs: now, Lat: 37.1, Lon: -121.9}},
	})

	if resp.Accepted != 1 || resp.Rejected != 0 {
		t.Fatalf("expected 1 accepted 0 rejected, got %+v", resp)
	}
}

func TestIngestRejectsStaleSample(t *testing.T) {
	h, _, token := newTestHandler(t)
	stale := time.Now().Add(-5 * time.Minute).UnixMilli()

	resp := postBatch(t, h, token, Batch{
		Positions: []PositionSample{{TsMs: stale, Lat: 37.1, Lon: -121.9}},
	})

	if resp.Rejected != 1 || resp.Accepted != 0 {
		t.Fatalf("expected stale sample to be rejected, got %+v", resp)
	}
}

func TestIngestUnknownTokenReturnsUnauthorized(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body, _ := json.Marshal(Batch{})
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set("X-Truck-Token", "not-a-real-token")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
}

func TestIngestDuplicateBatchDoesNotDoubleCount(t *testing.T) {
	h, _, token := newTestHandler(t)
	now := time.Now().UnixMilli()
	batch := Batch{Positions: []PositionSample{{TsMs: now, Lat: 37.1, Lon: -121.9}}}

	first := postBatch(t, h, token, batch)
	second := postBatch(t, h, token, batch)

	if first.Accepted != 1 {
		t.Fatalf("expected first submission to accept, got %+v", first)
	}
	if second.Accepted != 0 || second.Rejected != 0 {
		t.Fatalf("expected retried duplicate batch to count toward neither accepted nor rejected, got %+v", second)
	}
}

func TestIngestTelemetrySampleAccepted(t *testing.T) {
	h, _, token := newTestHandler(t)
	now := time.Now().UnixMilli()

	resp := postBatch(t, h, token, Batch{
		Telemetry: []TelemetrySample{{TsMs: now, RPM: 7200, Gear: 3}},
	})

	if resp.Accepted != 1 {
		t.Fatalf("expected telemetry sample accepted, got %+v", resp)
	}
}
