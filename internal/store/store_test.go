// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := Event{
		EventID:     "evt_1",
		Name:        "King of the Hammers",
		Status:      EventDraft,
		Classes:     []string{"trophy_truck", "class_1"},
		MaxVehicles: 50,
		TotalLaps:   3,
		CreatedAtMs: 1000,
		UpdatedAtMs: 1000,
	}
	if err := s.CreateEvent(ctx, e); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	got, err := s.GetEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Name != e.Name || got.Status != EventDraft || len(got.Classes) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := s.UpdateEventStatus(ctx, "evt_1", EventInProgress, 2000); err != nil {
		t.Fatalf("UpdateEventStatus: %v", err)
	}
	got, err = s.GetEvent(ctx, "evt_1")
	if err != nil {
		t.Fatalf("GetEvent after update: %v", err)
	}
	if got.Status != EventInProgress {
		t.Fatalf("expected status in_progress, got %s", got.Status)
	}
}

func TestVehicleRegistrationAndLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CreateEvent(ctx, Event{EventID: "evt_1", Name: "Race", Status: EventDraft, CreatedAtMs: 1, UpdatedAtMs: 1}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	v := Vehicle{VehicleID: "veh_1", VehicleNumber: "42", TeamName: "Team X", TruckToken: "tok-abc", CreatedAtMs: 1}
	if err := s.CreateVehicle(ctx, v); err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}

	got, err := s.VehicleByTruckToken(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("VehicleByTruckToken: %v", err)
	}
	if got.VehicleID != "veh_1" {
		t.Fatalf("expected veh_1, got %s", got.VehicleID)
	}

	registered, err := s.IsVehicleRegistered(ctx, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("IsVehicleRegistered: %v", err)
	}
	if registered {
		t.Fatalf("expected not registered before RegisterVehicleForEvent")
	}

	if err := s.RegisterVehicleForEvent(ctx, "evt_1", "veh_1", true, 5); err != nil {
		t.Fatalf("RegisterVehicleForEvent: %v", err)
	}
	registered, err = s.IsVehicleRegistered(ctx, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("IsVehicleRegistered: %v", err)
	}
	if !registered {
		t.Fatalf("expected registered and visible after RegisterVehicleForEvent")
	}
}

func TestCrossingIdempotency(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEventVehicleCheckpoint(t, s)

	c := CheckpointCrossing{
		CrossingID: "cx_1", EventID: "evt_1", VehicleID: "veh_1",
		CheckpointID: "cp_1", CheckpointNumber: 1, LapNumber: 1, TsMs: 1000, CreatedAtMs: 1000,
	}
	inserted, err := s.InsertCrossing(ctx, c)
	if err != nil {
		t.Fatalf("InsertCrossing: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first crossing insert to succeed")
	}

	c2 := c
	c2.CrossingID = "cx_2"
	c2.TsMs = 2000
	inserted, err = s.InsertCrossing(ctx, c2)
	if err != nil {
		t.Fatalf("InsertCrossing (duplicate): %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate (event,vehicle,checkpoint,lap) crossing to be ignored")
	}

	crossings, err := s.CrossingsForVehicle(ctx, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("CrossingsForVehicle: %v", err)
	}
	if len(crossings) != 1 {
		t.Fatalf("expected exactly one surviving crossing, got %d", len(crossings))
	}
}

func TestPositionIdempotency(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := Position{EventID: "evt_1", VehicleID: "veh_1", TsMs: 1000, Lat: 40.0, Lon: -86.0}
	inserted, err := s.InsertPosition(ctx, p)
	if err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first position insert to succeed")
	}

	inserted, err = s.InsertPosition(ctx, p)
	if err != nil {
		t.Fatalf("InsertPosition (duplicate): %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate (event,vehicle,ts) position to be ignored")
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEventVehicleCheckpoint(t, s)

	if err := s.UpsertPolicy(ctx, TelemetryPolicy{
		EventID: "evt_1", VehicleID: "veh_1", FieldName: "heart_rate",
		AllowProduction: true, AllowFans: false, UpdatedAtMs: 1,
	}); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	policies, err := s.PoliciesForVehicle(ctx, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("PoliciesForVehicle: %v", err)
	}
	p, ok := policies["heart_rate"]
	if !ok {
		t.Fatalf("expected heart_rate policy to be present")
	}
	if !p.AllowProduction || p.AllowFans {
		t.Fatalf("unexpected policy values: %+v", p)
	}
}

func seedEventVehicleCheckpoint(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateEvent(ctx, Event{EventID: "evt_1", Name: "Race", Status: EventDraft, CreatedAtMs: 1, UpdatedAtMs: 1}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := s.CreateVehicle(ctx, Vehicle{VehicleID: "veh_1", VehicleNumber: "42", TeamName: "Team X", TruckToken: "tok-abc", CreatedAtMs: 1}); err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}
	if err := s.CreateCheckpoint(ctx, Checkpoint{CheckpointID: "cp_1", EventID: "evt_1", CheckpointNumber: 1, Lat: 40.0, Lon: -86.0, RadiusM: 50}); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
}
