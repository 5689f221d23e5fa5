// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// EventStatus is the lifecycle state of a racing event.
type EventStatus string

const (
	EventDraft      EventStatus = "draft"
	EventScheduled  EventStatus = "scheduled"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
)

// Event is a racing event.
type Event struct {
	EventID          string
	Name             string
	Description      string
	Status           EventStatus
	ScheduledStartMs int64
	ScheduledEndMs   int64
	Location         string
	Classes          []string
	MaxVehicles      int
	TotalLaps        int
	CourseGeoJSON    string
	CourseDistanceM  float64
	CreatedAtMs      int64
	UpdatedAtMs      int64
}

// Vehicle is a racing vehicle registered in the system.
type Vehicle struct {
	VehicleID     string
	VehicleNumber string
	VehicleClass  string
	TeamName      string
	DriverName    string
	TruckToken    string
	YoutubeURL    string
	CreatedAtMs   int64
}

// CreateEvent inserts a new event.
func (s *Store) CreateEvent(ctx context.Context, e Event) error {
	classesJSON, err := json.Marshal(e.Classes)
	if err != nil {
		return fmt.Errorf("store: marshal classes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, name, description, status, scheduled_start_ms, scheduled_end_ms,
			location, classes_json, max_vehicles, total_laps, course_geojson, course_distance_m,
			created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.Name, e.Description, string(e.Status), e.ScheduledStartMs, e.ScheduledEndMs,
		e.Location, string(classesJSON), e.MaxVehicles, e.TotalLaps, e.CourseGeoJSON, e.CourseDistanceM,
		e.CreatedAtMs, e.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("store: create event: %w", err)
	}
	return nil
}

// GetEvent fetches an event by ID. Returns sql.ErrNoRows if absent.
func (s *Store) GetEvent(ctx context.Context, eventID string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, name, description, status, scheduled_start_ms, scheduled_end_ms,
			location, classes_json, max_vehicles, total_laps, course_geojson, course_distance_m,
			created_at_ms, updated_at_ms
		FROM events WHERE event_id = ?`, eventID)

	var e Event
	var status, classesJSON string
	var description, location, courseGeoJSON sql.NullString
	var courseDistance sql.NullFloat64
	if err := row.Scan(&e.EventID, &e.Name, &description, &status, &e.ScheduledStartMs, &e.ScheduledEndMs,
		&location, &classesJSON, &e.MaxVehicles, &e.TotalLaps, &courseGeoJSON, &courseDistance,
		&e.CreatedAtMs, &e.UpdatedAtMs); err != nil {
		return Event{}, err
	}

	e.Status = EventStatus(status)
	e.Description = description.String
	e.Location = location.String
	e.CourseGeoJSON = courseGeoJSON.String
	e.CourseDistanceM = courseDistance.Float64
	if err := json.Unmarshal([]byte(classesJSON), &e.Classes); err != nil {
		return Event{}, fmt.Errorf("store: unmarshal classes: %w", err)
	}
	return e, nil
}

// UpdateEventStatus transitions an event's status.
func (s *Store) UpdateEventStatus(ctx context.Context, eventID string, status EventStatus, updatedAtMs int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET status = ?, updated_at_ms = ? WHERE event_id = ?`,
		string(status), updatedAtMs, eventID)
	if err != nil {
		return fmt.Errorf("store: update event status: %w", err)
	}
	return nil
}

// CreateVehicle inserts a new vehicle.
func (s *Store) CreateVehicle(ctx context.Context, v Vehicle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (vehicle_id, vehicle_number, vehicle_class, team_name, driver_name,
			truck_token, youtube_url, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VehicleID, v.VehicleNumber, v.VehicleClass, v.TeamName, v.DriverName,
		v.TruckToken, v.YoutubeURL, v.CreatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("store: create vehicle: %w", err)
	}
	return nil
}

// VehicleByTruckToken resolves a vehicle from its edge uplink credential.
func (s *Store) VehicleByTruckToken(ctx context.Context, token string) (Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT vehicle_id, vehicle_number, vehicle_class, team_name, driver_name, truck_token,
			youtube_url, created_at_ms
		FROM vehicles WHERE truck_token = ?`, token)

	var v Vehicle
	var vehicleClass, driverName, youtubeURL sql.NullString
	if err := row.Scan(&v.VehicleID, &v.VehicleNumber, &vehicleClass, &v.TeamName, &driverName,
		&v.TruckToken, &youtubeURL, &v.CreatedAtMs); err != nil {
		return Vehicle{}, err
	}
	v.VehicleClass = vehicleClass.String
	v.DriverName = driverName.String
	v.YoutubeURL = youtubeURL.String
	return v, nil
}

// MostRecentInProgressEventForVehicle returns the event_id of the most
// recently-created in_progress event the vehicle is registered for — the
// resolution a truck token's uplink batches are attributed to.
func (s *Store) MostRecentInProgressEventForVehicle(ctx context.Context, vehicleID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.event_id
		FROM events e
		INNER JOIN event_vehicles ev ON ev.event_id = e.event_id
		WHERE ev.vehicle_id = ? AND e.status = ?
		ORDER BY e.created_at_ms DESC LIMIT 1`,
		vehicleID, string(EventInProgress))

	var eventID string
	if err := row.Scan(&eventID); err != nil {
		return "", err
	}
	return eventID, nil
}

// RegisterVehicleForEvent links a vehicle to an event (many-to-many).
func (s *Store) RegisterVehicleForEvent(ctx context.Context, eventID, vehicleID string, visible bool, registeredAtMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_vehicles (event_id, vehicle_id, visible, registered_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (event_id, vehicle_id) DO UPDATE SET visible = excluded.visible`,
		eventID, vehicleID, visible, registeredAtMs,
	)
	if err != nil {
		return fmt.Errorf("store: register vehicle for event: %w", err)
	}
	return nil
}

// IsVehicleRegistered reports whether vehicleID is registered and visible
// for eventID. The viewer handlers use it to check a token's vehicle against
// the requested event; the ingest path does not call it.
func (s *Store) IsVehicleRegistered(ctx context.Context, eventID, vehicleID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT visible FROM event_vehicles WHERE event_id = ? AND vehicle_id = ?`, eventID, vehicleID)

	var visible bool
	if err := row.Scan(&visible); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("store: check vehicle registration: %w", err)
	}
	return visible, nil
}

// HiddenVehiclesForEvent returns the set of vehicle IDs registered for
// eventID with visible = false, for the viewer projector's hidden-vehicle
// check.
func (s *Store) HiddenVehiclesForEvent(ctx context.Context, eventID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vehicle_id FROM event_vehicles WHERE event_id = ? AND visible = 0`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: list hidden vehicles: %w", err)
	}
	defer rows.Close()

	hidden := make(map[string]bool)
	for rows.Next() {
		var vehicleID string
		if err := rows.Scan(&vehicleID); err != nil {
			return nil, fmt.Errorf("store: scan hidden vehicle: %w", err)
		}
		hidden[vehicleID] = true
	}
	return hidden, rows.Err()
}
