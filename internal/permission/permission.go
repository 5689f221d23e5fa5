// SPDX-License-Identifier: MIT

// Package permission filters a telemetry/position field map down to the
// fields a given viewer role is actually allowed to see, applying the
// per-vehicle field-level sharing policy resolved from storage.
package permission

import (
	"github.com/waystellar/racecloud/internal/auth"
	"github.com/waystellar/racecloud/internal/store"
)

// ProtectedFields lists every telemetry/position field subject to
// policy-based filtering. Any key in a sample map that is not in this list
// (and not in MetadataFields) is dropped rather than passed through by
// default — new fields must be added here deliberately.
var ProtectedFields = []string{
	"lat", "lon", "speed_mps", "heading_deg", "altitude_m", "hdop", "satellites",
	"rpm", "gear", "throttle_pct", "coolant_temp_c", "oil_pressure_psi",
	"fuel_pressure_psi", "speed_mph", "heart_rate", "heart_rate_zone",
}

// MetadataFields are always passed through regardless of policy or viewer
// role — they identify the sample, not the car's performance.
var MetadataFields = []string{"vehicle_id", "ts_ms", "vehicle_number", "team_name"}

// gpsFields are visible to the production audience even when no explicit
// policy row exists for them. Every other protected field defaults closed
// for both audiences absent a policy.
var gpsFields = map[string]bool{"lat": true, "lon": true, "speed_mps": true, "heading_deg": true}

// Filter returns a new map containing only the fields of sample that a
// viewer holding role is permitted to see, given the vehicle's field-level
// sharing policies (as returned by store.PoliciesForVehicle).
//
// Resolution per field:
//   - metadata fields always pass through
//   - team/organizer/admin viewers ("production" audience) see a field if
//     its policy has AllowProduction set, or — absent a policy row — if the
//     field is a GPS field
//   - premium viewers ("fans" audience) see a field only if its policy has
//     AllowFans set; there is no default-open field for fans
//   - public viewers see nothing beyond metadata
func Filter(role auth.Role, sample map[string]any, policies map[string]store.TelemetryPolicy) map[string]any {
	out := make(map[string]any, len(sample))

	for _, f := range MetadataFields {
		if v, ok := sample[f]; ok {
			out[f] = v
		}
	}

	for _, f := range ProtectedFields {
		v, present := sample[f]
		if !present {
			continue
		}
		if fieldVisible(f, role, policies) {
			out[f] = v
		}
	}

	return out
}

func fieldVisible(field string, role auth.Role, policies map[string]store.TelemetryPolicy) bool {
	pol, hasPolicy := policies[field]

	switch {
	case role.AtLeast(auth.RoleTeam):
		if hasPolicy {
			return pol.AllowProduction
		}
		return gpsFields[field]
	case role == auth.RolePremium:
		if hasPolicy {
			return pol.AllowFans
		}
		return false
	default:
		return false
	}
}
