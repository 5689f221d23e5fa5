// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
)

// TelemetryPolicy declares, per event/vehicle/field, whether that field is
// visible to the production (team/organizer/admin) audience and/or the fan
// (premium) audience. Absence of a row means the field is hidden from fans
// and, apart from the GPS fields shown to production, from production too —
// see internal/permission for the resolution order.
type TelemetryPolicy struct {
	EventID         string
	VehicleID       string
	FieldName       string
	AllowProduction bool
	AllowFans       bool
	UpdatedAtMs     int64
}

// UpsertPolicy writes a field-level visibility policy.
func (s *Store) UpsertPolicy(ctx context.Context, p TelemetryPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_policies (event_id, vehicle_id, field_name, allow_production, allow_fans, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, vehicle_id, field_name) DO UPDATE SET
			allow_production = excluded.allow_production,
			allow_fans = excluded.allow_fans,
			updated_at_ms = excluded.updated_at_ms`,
		p.EventID, p.VehicleID, p.FieldName, p.AllowProduction, p.AllowFans, p.UpdatedAtMs,
	)
	if err != nil {
		return fmt.Errorf("store: upsert policy: %w", err)
	}
	return nil
}

// PoliciesForVehicle returns every field-level policy configured for a
// vehicle within an event, keyed by field name.
func (s *Store) PoliciesForVehicle(ctx context.Context, eventID, vehicleID string) (map[string]TelemetryPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, vehicle_id, field_name, allow_production, allow_fans, updated_at_ms
		FROM telemetry_policies WHERE event_id = ? AND vehicle_id = ?`, eventID, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	defer rows.Close()

	out := make(map[string]TelemetryPolicy)
	for rows.Next() {
		var p TelemetryPolicy
		var allowProduction, allowFans int
		if err := rows.Scan(&p.EventID, &p.VehicleID, &p.FieldName, &allowProduction, &allowFans, &p.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		p.AllowProduction = allowProduction != 0
		p.AllowFans = allowFans != 0
		out[p.FieldName] = p
	}
	return out, rows.Err()
}
