// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/store"
)

func newCacheTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
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
	return s
}

func TestCachedPoliciesServesFromCacheAfterStoreDeletion(t *testing.T) {
	s := newCacheTestStore(t)
	ctx := context.Background()
	if err := s.UpsertPolicy(ctx, store.TelemetryPolicy{EventID: "evt_1", VehicleID: "veh_1", FieldName: "rpm", AllowProduction: true}); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	c := cache.NewMemoryCache(time.Minute)

	first, err := cachedPolicies(ctx, c, s, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("cachedPolicies: %v", err)
	}
	if !first["rpm"].AllowProduction {
		t.Fatal("expected rpm policy to allow production")
	}

	s.Close() // store is now unusable; a cache hit must not touch it

	second, err := cachedPolicies(ctx, c, s, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("cachedPolicies (cache hit): %v", err)
	}
	if !second["rpm"].AllowProduction {
		t.Fatal("expected cached rpm policy to still allow production")
	}
}

func TestCachedLatestPositionsServesFromCacheAfterStoreDeletion(t *testing.T) {
	s := newCacheTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertPosition(ctx, store.Position{EventID: "evt_1", VehicleID: "veh_1", TsMs: 1000, Lat: 1, Lon: 2}); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}

	c := cache.NewMemoryCache(time.Minute)

	first, err := cachedLatestPositions(ctx, c, s, "evt_1")
	if err != nil {
		t.Fatalf("cachedLatestPositions: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 position, got %d", len(first))
	}

	s.Close()

	second, err := cachedLatestPositions(ctx, c, s, "evt_1")
	if err != nil {
		t.Fatalf("cachedLatestPositions (cache hit): %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected 1 cached position, got %d", len(second))
	}
}

func TestCachedPoliciesNilCacheReadsThroughStore(t *testing.T) {
	s := newCacheTestStore(t)
	ctx := context.Background()
	if err := s.UpsertPolicy(ctx, store.TelemetryPolicy{EventID: "evt_1", VehicleID: "veh_1", FieldName: "rpm", AllowProduction: true}); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	out, err := cachedPolicies(ctx, nil, s, "evt_1", "veh_1")
	if err != nil {
		t.Fatalf("cachedPolicies: %v", err)
	}
	if !out["rpm"].AllowProduction {
		t.Fatal("expected rpm policy to allow production")
	}
}
