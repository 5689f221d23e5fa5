// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Checkpoint is a timing gate along an event's course.
type Checkpoint struct {
	CheckpointID     string
	EventID          string
	CheckpointNumber int
	Name             string
	Lat              float64
	Lon              float64
	RadiusM          float64
	ElevationM       float64
	CheckpointType   string
	Description      string
}

// CheckpointCrossing is a single recorded crossing of a checkpoint by a
// vehicle on a given lap.
type CheckpointCrossing struct {
	CrossingID       string
	EventID          string
	VehicleID        string
	CheckpointID     string
	CheckpointNumber int
	LapNumber        int
	TsMs             int64
	CreatedAtMs      int64
}

// VehicleLapState tracks a vehicle's current lap and last-crossed
// checkpoint within an event.
type VehicleLapState struct {
	EventID        string
	VehicleID      string
	CurrentLap     int
	LastCheckpoint int
	TotalTimeMs    int64
	UpdatedAtMs    int64
}

// CreateCheckpoint inserts a new checkpoint.
func (s *Store) CreateCheckpoint(ctx context.Context, c Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, event_id, checkpoint_number, name, lat, lon,
			radius_m, elevation_m, checkpoint_type, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CheckpointID, c.EventID, c.CheckpointNumber, c.Name, c.Lat, c.Lon,
		c.RadiusM, c.ElevationM, c.CheckpointType, c.Description,
	)
	if err != nil {
		return fmt.Errorf("store: create checkpoint: %w", err)
	}
	return nil
}

// CheckpointsForEvent returns an event's checkpoints ordered by number.
func (s *Store) CheckpointsForEvent(ctx context.Context, eventID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, event_id, checkpoint_number, name, lat, lon, radius_m,
			elevation_m, checkpoint_type, description
		FROM checkpoints WHERE event_id = ? ORDER BY checkpoint_number ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		var name, description sql.NullString
		var elevation sql.NullFloat64
		if err := rows.Scan(&c.CheckpointID, &c.EventID, &c.CheckpointNumber, &name, &c.Lat, &c.Lon,
			&c.RadiusM, &elevation, &c.CheckpointType, &description); err != nil {
			return nil, fmt.Errorf("store: scan checkpoint: %w", err)
		}
		c.Name = name.String
		c.Description = description.String
		c.ElevationM = elevation.Float64
		out = append(out, c)
	}
	return out, rows.Err()
}

// MaxCheckpointNumber returns the highest checkpoint_number for an event,
// used by the checkpoint detector to decide when a lap wraps.
func (s *Store) MaxCheckpointNumber(ctx context.Context, eventID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(checkpoint_number), 0) FROM checkpoints WHERE event_id = ?`, eventID)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("store: max checkpoint number: %w", err)
	}
	return max, nil
}

// GetLapState fetches a vehicle's lap state, initializing a zero-value
// VehicleLapState{CurrentLap: 1} if none exists yet.
func (s *Store) GetLapState(ctx context.Context, eventID, vehicleID string) (VehicleLapState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, vehicle_id, current_lap, last_checkpoint, total_time_ms, updated_at_ms
		FROM vehicle_lap_state WHERE event_id = ? AND vehicle_id = ?`, eventID, vehicleID)

	var st VehicleLapState
	err := row.Scan(&st.EventID, &st.VehicleID, &st.CurrentLap, &st.LastCheckpoint, &st.TotalTimeMs, &st.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return VehicleLapState{EventID: eventID, VehicleID: vehicleID, CurrentLap: 1}, nil
	}
	if err != nil {
		return VehicleLapState{}, fmt.Errorf("store: get lap state: %w", err)
	}
	return st, nil
}

// UpsertLapState writes a vehicle's lap state.
func (s *Store) UpsertLapState(ctx context.Context, st VehicleLapState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicle_lap_state (event_id, vehicle_id, current_lap, last_checkpoint, total_time_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, vehicle_id) DO UPDATE SET
			current_lap = excluded.current_lap,
			last_checkpoint = excluded.last_checkpoint,
			total_time_ms = excluded.total_time_ms,
			updated_at_ms = excluded.updated_at_ms`,
		st.EventID, st.VehicleID, st.CurrentLap, st.LastCheckpoint, st.TotalTimeMs, st.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("store: upsert lap state: %w", err)
	}
	return nil
}

// InsertCrossing records a checkpoint crossing. Conflicts (the vehicle
// already crossed this checkpoint on this lap — a duplicate uplink batch)
// are silently ignored; InsertCrossing reports whether a new row was
// actually written so callers can decide whether to advance lap state.
func (s *Store) InsertCrossing(ctx context.Context, c CheckpointCrossing) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_crossings (crossing_id, event_id, vehicle_id, checkpoint_id,
			checkpoint_number, lap_number, ts_ms, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, vehicle_id, checkpoint_id, lap_number) DO NOTHING`,
		c.CrossingID, c.EventID, c.VehicleID, c.CheckpointID, c.CheckpointNumber,
		c.LapNumber, c.TsMs, c.CreatedAtMs,
	)
	if err != nil {
		return false, fmt.Errorf("store: insert crossing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// CrossingsForVehicle returns a vehicle's crossings within an event ordered
// by timestamp, for splits/leaderboard computation.
func (s *Store) CrossingsForVehicle(ctx context.Context, eventID, vehicleID string) ([]CheckpointCrossing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT crossing_id, event_id, vehicle_id, checkpoint_id, checkpoint_number, lap_number, ts_ms, created_at_ms
		FROM checkpoint_crossings
		WHERE event_id = ? AND vehicle_id = ?
		ORDER BY ts_ms ASC`, eventID, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("store: list crossings: %w", err)
	}
	defer rows.Close()

	var out []CheckpointCrossing
	for rows.Next() {
		var c CheckpointCrossing
		if err := rows.Scan(&c.CrossingID, &c.EventID, &c.VehicleID, &c.CheckpointID,
			&c.CheckpointNumber, &c.LapNumber, &c.TsMs, &c.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("store: scan crossing: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CrossingsForEvent returns every crossing recorded for an event, the raw
// material the leaderboard engine folds into ranked standings.
func (s *Store) CrossingsForEvent(ctx context.Context, eventID string) ([]CheckpointCrossing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT crossing_id, event_id, vehicle_id, checkpoint_id, checkpoint_number, lap_number, ts_ms, created_at_ms
		FROM checkpoint_crossings
		WHERE event_id = ?
		ORDER BY ts_ms ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: list event crossings: %w", err)
	}
	defer rows.Close()

	var out []CheckpointCrossing
	for rows.Next() {
		var c CheckpointCrossing
		if err := rows.Scan(&c.CrossingID, &c.EventID, &c.VehicleID, &c.CheckpointID,
			&c.CheckpointNumber, &c.LapNumber, &c.TsMs, &c.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("store: scan crossing: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
