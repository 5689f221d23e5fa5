// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/waystellar/racecloud/internal/auth"
	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/store"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
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

	return Deps{
		Store:   s,
		Bus:     pubsub.New(100, time.Hour),
		AuthCfg: auth.Config{AdminTokensCSV: "admin-tok", JWTSecret: "test-secret"},
	}
}

func TestHeartbeatReturnsVehicleAndEventStatus(t *testing.T) {
	d := newTestDeps(t)
	r := NewServer(d)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/telemetry/heartbeat", nil)
	req.Header.Set("X-Truck-Token", "truck-tok")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["vehicle_id"] != "veh_1" || body["event_id"] != "evt_1" {
		t.Fatalf("unexpected heartbeat body: %+v", body)
	}
}

func TestTruckMeUnauthorizedWithoutToken(t *testing.T) {
	d := newTestDeps(t)
	r := NewServer(d)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/truck/me", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLeaderboardReturnsNotStartedEntryForRegisteredVehicle(t *testing.T) {
	d := newTestDeps(t)
	r := NewServer(d)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/evt_1/leaderboard", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "veh_1") {
		t.Fatalf("expected leaderboard to mention veh_1, got %s", rec.Body.String())
	}
}

func TestLeaderboardUnknownEventReturns404(t *testing.T) {
	d := newTestDeps(t)
	r := NewServer(d)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/no-such-event/leaderboard", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPositionsLatestHidesProtectedFieldsFromPublicViewer(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	if _, err := d.Store.InsertPosition(ctx, store.Position{EventID: "evt_1", VehicleID: "veh_1", TsMs: now, Lat: 37.1, Lon: -121.9}); err != nil {
		t.Fatalf("insert position: %v", err)
	}

	r := NewServer(d)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/evt_1/positions/latest", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "37.1") {
		t.Fatalf("expected public viewer to not see lat, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "veh_1") {
		t.Fatalf("expected metadata vehicle_id to still be present, got %s", rec.Body.String())
	}
}

func TestStreamEmitsConnectedFrame(t *testing.T) {
	d := newTestDeps(t)
	r := NewServer(d)
	srv := httptest.NewServer(r)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/events/evt_1/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	var sawConnected bool
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "event: connected") {
			sawConnected = true
			break
		}
	}
	if !sawConnected {
		t.Fatal("expected a connected SSE frame")
	}
}

func TestStreamUnknownEventReturns404(t *testing.T) {
	d := newTestDeps(t)
	r := NewServer(d)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/no-such-event/stream", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
