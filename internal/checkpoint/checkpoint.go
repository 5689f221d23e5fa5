// SPDX-License-Identifier: MIT

// Package checkpoint implements the cloud ingest engine's checkpoint
// crossing detector: given a smoothed position, it decides whether the
// vehicle has entered the radius of its next expected checkpoint and, if
// so, durably records the crossing and advances lap state.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/waystellar/racecloud/internal/geo"
	"github.com/waystellar/racecloud/internal/metrics"
	"github.com/waystellar/racecloud/internal/store"
)

// Crossing describes a single newly-recorded checkpoint crossing, the unit
// the caller publishes onward to the distribution bus.
type Crossing struct {
	VehicleID        string
	CheckpointNumber int
	CheckpointName   string
	LapNumber        int
	TsMs             int64
}

// Detector evaluates incoming positions against an event's checkpoint
// geometry and lap-state machine.
type Detector struct {
	store *store.Store
}

// New constructs a Detector backed by s.
func New(s *store.Store) *Detector {
	return &Detector{store: s}
}

// Check evaluates a single position sample for eventID/vehicleID against
// every checkpoint in the event, recording any crossings whose radius the
// vehicle has entered and whose checkpoint_number is the expected next one
// in sequence. A checkpoint outside the expected order is skipped — the
// vehicle must cross checkpoints strictly in order, one lap at a time.
func (d *Detector) Check(ctx context.Context, eventID, vehicleID string, lat, lon float64, tsMs int64) ([]Crossing, error) {
	event, err := d.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get event: %w", err)
	}

	totalLaps := event.TotalLaps
	if totalLaps <= 0 {
		totalLaps = 1
	}

	checkpoints, err := d.store.CheckpointsForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list checkpoints: %w", err)
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}

	maxCheckpoint := 0
	for _, cp := range checkpoints {
		if cp.CheckpointNumber > maxCheckpoint {
			maxCheckpoint = cp.CheckpointNumber
		}
	}

	lapState, err := d.store.GetLapState(ctx, eventID, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get lap state: %w", err)
	}

	var crossings []Crossing

	for _, cp := range checkpoints {
		distance := geo.Haversine(lat, lon, cp.Lat, cp.Lon)
		if distance > cp.RadiusM {
			continue
		}

		// The lap state moves to the next lap when the max-numbered
		// checkpoint is crossed, so a wrap only resets the expected ordinal.
		currentLap := lapState.CurrentLap
		expectedNext := lapState.LastCheckpoint + 1
		if expectedNext > maxCheckpoint {
			expectedNext = 1
		}

		if cp.CheckpointNumber != expectedNext {
			metrics.CheckpointSkipped.WithLabelValues(eventID).Inc()
			continue
		}

		inserted, err := d.store.InsertCrossing(ctx, store.CheckpointCrossing{
			CrossingID:       "cx_" + uuid.NewString(),
			EventID:          eventID,
			VehicleID:        vehicleID,
			CheckpointID:     cp.CheckpointID,
			CheckpointNumber: cp.CheckpointNumber,
			LapNumber:        currentLap,
			TsMs:             tsMs,
			CreatedAtMs:      tsMs,
		})
		if err != nil {
			return nil, fmt.Errorf("checkpoint: insert crossing: %w", err)
		}
		if !inserted {
			// Duplicate uplink batch re-delivering an already-applied crossing.
			continue
		}

		lapState.LastCheckpoint = cp.CheckpointNumber
		if cp.CheckpointNumber == maxCheckpoint && lapState.CurrentLap < totalLaps {
			lapState.CurrentLap++
			metrics.LapAdvances.WithLabelValues(eventID).Inc()
		}
		lapState.UpdatedAtMs = tsMs

		metrics.CheckpointCrossings.WithLabelValues(eventID).Inc()

		crossings = append(crossings, Crossing{
			VehicleID:        vehicleID,
			CheckpointNumber: cp.CheckpointNumber,
			CheckpointName:   cp.Name,
			LapNumber:        currentLap,
			TsMs:             tsMs,
		})
	}

	if len(crossings) > 0 {
		if err := d.store.UpsertLapState(ctx, lapState); err != nil {
			return nil, fmt.Errorf("checkpoint: upsert lap state: %w", err)
		}
	}

	return crossings, nil
}
