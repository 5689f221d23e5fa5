// SPDX-License-Identifier: MIT

// Package store is the cloud ingest engine's SQLite-backed entity store:
// events, vehicles, checkpoints, lap state, and the position/telemetry
// sample history the leaderboard and viewer projector read from.
package store

import (
	"database/sql"
	"fmt"

	"github.com/waystellar/racecloud/internal/persistence/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id           TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	description        TEXT,
	status             TEXT NOT NULL DEFAULT 'draft',
	scheduled_start_ms INTEGER,
	scheduled_end_ms   INTEGER,
	location           TEXT,
	classes_json       TEXT NOT NULL DEFAULT '[]',
	max_vehicles       INTEGER NOT NULL DEFAULT 50,
	total_laps         INTEGER NOT NULL DEFAULT 1,
	course_geojson     TEXT,
	course_distance_m  REAL,
	created_at_ms      INTEGER NOT NULL,
	updated_at_ms      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
	vehicle_id    TEXT PRIMARY KEY,
	vehicle_number TEXT NOT NULL,
	vehicle_class TEXT,
	team_name     TEXT NOT NULL,
	driver_name   TEXT,
	truck_token   TEXT NOT NULL UNIQUE,
	youtube_url   TEXT,
	created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_vehicles (
	event_id       TEXT NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
	vehicle_id     TEXT NOT NULL REFERENCES vehicles(vehicle_id) ON DELETE CASCADE,
	visible        INTEGER NOT NULL DEFAULT 1,
	registered_at_ms INTEGER NOT NULL,
	PRIMARY KEY (event_id, vehicle_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id    TEXT PRIMARY KEY,
	event_id         TEXT NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
	checkpoint_number INTEGER NOT NULL,
	name             TEXT,
	lat              REAL NOT NULL,
	lon              REAL NOT NULL,
	radius_m         REAL NOT NULL DEFAULT 50.0,
	elevation_m      REAL,
	checkpoint_type  TEXT NOT NULL DEFAULT 'timing',
	description      TEXT,
	UNIQUE (event_id, checkpoint_number)
);

CREATE TABLE IF NOT EXISTS checkpoint_crossings (
	crossing_id      TEXT PRIMARY KEY,
	event_id         TEXT NOT NULL,
	vehicle_id       TEXT NOT NULL,
	checkpoint_id    TEXT NOT NULL REFERENCES checkpoints(checkpoint_id),
	checkpoint_number INTEGER NOT NULL,
	lap_number       INTEGER NOT NULL DEFAULT 1,
	ts_ms            INTEGER NOT NULL,
	created_at_ms    INTEGER NOT NULL,
	UNIQUE (event_id, vehicle_id, checkpoint_id, lap_number)
);
CREATE INDEX IF NOT EXISTS idx_crossings_event ON checkpoint_crossings(event_id, checkpoint_number);
CREATE INDEX IF NOT EXISTS idx_crossings_vehicle_lap ON checkpoint_crossings(event_id, vehicle_id, lap_number);

CREATE TABLE IF NOT EXISTS vehicle_lap_state (
	event_id      TEXT NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
	vehicle_id    TEXT NOT NULL REFERENCES vehicles(vehicle_id) ON DELETE CASCADE,
	current_lap   INTEGER NOT NULL DEFAULT 1,
	last_checkpoint INTEGER NOT NULL DEFAULT 0,
	total_time_ms INTEGER NOT NULL DEFAULT 0,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (event_id, vehicle_id)
);

CREATE TABLE IF NOT EXISTS positions (
	event_id    TEXT NOT NULL,
	vehicle_id  TEXT NOT NULL,
	ts_ms       INTEGER NOT NULL,
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	speed_mps   REAL,
	heading_deg REAL,
	altitude_m  REAL,
	hdop        REAL,
	satellites  INTEGER,
	is_outlier  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (event_id, vehicle_id, ts_ms)
);
CREATE INDEX IF NOT EXISTS idx_positions_event_ts ON positions(event_id, ts_ms DESC);
CREATE INDEX IF NOT EXISTS idx_positions_vehicle_history ON positions(vehicle_id, ts_ms);

CREATE TABLE IF NOT EXISTS telemetry_samples (
	event_id          TEXT NOT NULL,
	vehicle_id        TEXT NOT NULL,
	ts_ms             INTEGER NOT NULL,
	rpm               INTEGER,
	gear              INTEGER,
	throttle_pct      REAL,
	coolant_temp_c    REAL,
	oil_pressure_psi  REAL,
	fuel_pressure_psi REAL,
	speed_mph         REAL,
	heart_rate        INTEGER,
	heart_rate_zone   INTEGER,
	PRIMARY KEY (event_id, vehicle_id, ts_ms)
);
CREATE INDEX IF NOT EXISTS idx_telemetry_event_ts ON telemetry_samples(event_id, ts_ms DESC);
CREATE INDEX IF NOT EXISTS idx_telemetry_vehicle_history ON telemetry_samples(vehicle_id, ts_ms);

CREATE TABLE IF NOT EXISTS telemetry_policies (
	event_id         TEXT NOT NULL REFERENCES events(event_id) ON DELETE CASCADE,
	vehicle_id       TEXT NOT NULL REFERENCES vehicles(vehicle_id) ON DELETE CASCADE,
	field_name       TEXT NOT NULL,
	allow_production INTEGER NOT NULL DEFAULT 1,
	allow_fans       INTEGER NOT NULL DEFAULT 0,
	updated_at_ms    INTEGER NOT NULL,
	PRIMARY KEY (event_id, vehicle_id, field_name)
);
`

// Store wraps the cloud ingest engine's SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the entity store at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for callers that need a raw transaction,
// e.g. the leaderboard engine's read-only aggregate queries.
func (s *Store) DB() *sql.DB { return s.db }
