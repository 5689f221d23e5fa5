// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Position is a single (possibly Kalman-smoothed) GPS sample.
type Position struct {
	EventID    string
	VehicleID  string
	TsMs       int64
	Lat        float64
	Lon        float64
	SpeedMPS   float64
	HeadingDeg float64
	AltitudeM  float64
	HDOP       float64
	Satellites int
	IsOutlier  bool
}

// TelemetrySample is a single CAN-bus/biometric telemetry sample using the
// canonical field set.
type TelemetrySample struct {
	EventID         string
	VehicleID       string
	TsMs            int64
	RPM             int
	Gear            int
	ThrottlePct     float64
	CoolantTempC    float64
	OilPressurePSI  float64
	FuelPressurePSI float64
	SpeedMPH        float64
	HeartRate       int
	HeartRateZone   int
}

// InsertPosition durably records a position sample. Duplicate
// (event_id, vehicle_id, ts_ms) tuples — retried uplink batches — are
// silently ignored; the sample is idempotent on those three keys.
func (s *Store) InsertPosition(ctx context.Context, p Position) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (event_id, vehicle_id, ts_ms, lat, lon, speed_mps, heading_deg,
			altitude_m, hdop, satellites, is_outlier)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, vehicle_id, ts_ms) DO NOTHING`,
		p.EventID, p.VehicleID, p.TsMs, p.Lat, p.Lon, p.SpeedMPS, p.HeadingDeg,
		p.AltitudeM, p.HDOP, p.Satellites, p.IsOutlier,
	)
	if err != nil {
		return false, fmt.Errorf("store: insert position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// LatestPosition returns a vehicle's most recent position in an event.
func (s *Store) LatestPosition(ctx context.Context, eventID, vehicleID string) (Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, vehicle_id, ts_ms, lat, lon, speed_mps, heading_deg, altitude_m, hdop, satellites, is_outlier
		FROM positions WHERE event_id = ? AND vehicle_id = ? ORDER BY ts_ms DESC LIMIT 1`,
		eventID, vehicleID)

	var p Position
	var speed, heading, altitude, hdop sql.NullFloat64
	var satellites sql.NullInt64
	var isOutlier int
	if err := row.Scan(&p.EventID, &p.VehicleID, &p.TsMs, &p.Lat, &p.Lon, &speed, &heading,
		&altitude, &hdop, &satellites, &isOutlier); err != nil {
		return Position{}, err
	}
	p.SpeedMPS = speed.Float64
	p.HeadingDeg = heading.Float64
	p.AltitudeM = altitude.Float64
	p.HDOP = hdop.Float64
	p.Satellites = int(satellites.Int64)
	p.IsOutlier = isOutlier != 0
	return p, nil
}

// LatestPositionsForEvent returns the single most recent position for every
// vehicle that has reported into eventID, for leaderboard/map snapshots.
func (s *Store) LatestPositionsForEvent(ctx context.Context, eventID string) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.event_id, p.vehicle_id, p.ts_ms, p.lat, p.lon, p.speed_mps, p.heading_deg,
			p.altitude_m, p.hdop, p.satellites, p.is_outlier
		FROM positions p
		INNER JOIN (
			SELECT vehicle_id, MAX(ts_ms) AS max_ts
			FROM positions WHERE event_id = ?
			GROUP BY vehicle_id
		) latest ON latest.vehicle_id = p.vehicle_id AND latest.max_ts = p.ts_ms
		WHERE p.event_id = ?`, eventID, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: latest positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var speed, heading, altitude, hdop sql.NullFloat64
		var satellites sql.NullInt64
		var isOutlier int
		if err := rows.Scan(&p.EventID, &p.VehicleID, &p.TsMs, &p.Lat, &p.Lon, &speed, &heading,
			&altitude, &hdop, &satellites, &isOutlier); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}
		p.SpeedMPS = speed.Float64
		p.HeadingDeg = heading.Float64
		p.AltitudeM = altitude.Float64
		p.HDOP = hdop.Float64
		p.Satellites = int(satellites.Int64)
		p.IsOutlier = isOutlier != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertTelemetry durably records a telemetry sample, idempotent on
// (event_id, vehicle_id, ts_ms).
func (s *Store) InsertTelemetry(ctx context.Context, t TelemetrySample) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_samples (event_id, vehicle_id, ts_ms, rpm, gear, throttle_pct,
			coolant_temp_c, oil_pressure_psi, fuel_pressure_psi, speed_mph, heart_rate, heart_rate_zone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, vehicle_id, ts_ms) DO NOTHING`,
		t.EventID, t.VehicleID, t.TsMs, t.RPM, t.Gear, t.ThrottlePct,
		t.CoolantTempC, t.OilPressurePSI, t.FuelPressurePSI, t.SpeedMPH, t.HeartRate, t.HeartRateZone,
	)
	if err != nil {
		return false, fmt.Errorf("store: insert telemetry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// LatestTelemetry returns a vehicle's most recent telemetry sample.
func (s *Store) LatestTelemetry(ctx context.Context, eventID, vehicleID string) (TelemetrySample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, vehicle_id, ts_ms, rpm, gear, throttle_pct, coolant_temp_c,
			oil_pressure_psi, fuel_pressure_psi, speed_mph, heart_rate, heart_rate_zone
		FROM telemetry_samples WHERE event_id = ? AND vehicle_id = ? ORDER BY ts_ms DESC LIMIT 1`,
		eventID, vehicleID)

	var t TelemetrySample
	if err := row.Scan(&t.EventID, &t.VehicleID, &t.TsMs, &t.RPM, &t.Gear, &t.ThrottlePct,
		&t.CoolantTempC, &t.OilPressurePSI, &t.FuelPressurePSI, &t.SpeedMPH, &t.HeartRate, &t.HeartRateZone); err != nil {
		return TelemetrySample{}, err
	}
	return t, nil
}
