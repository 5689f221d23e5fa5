// SPDX-License-Identifier: MIT

package auth

import (
	"net/http"
	"strings"
)

// Config configures request authentication.
type Config struct {
	AdminTokensCSV string
	JWTSecret      string
}

// ResolveRequestAuth extracts and validates authentication from an inbound
// request, checking methods in priority order exactly as the viewer access
// resolver does: X-Admin-Token, then X-Team-Token/X-Truck-Token, then a
// Bearer JWT, defaulting to public/anonymous access.
//
// vehicleForToken resolves a team/truck token to (vehicleID, teamName, ok);
// it is injected rather than taking a store dependency directly so this
// package stays free of a storage-layer import.
func ResolveRequestAuth(r *http.Request, cfg Config, vehicleForToken func(token string) (vehicleID, teamName string, ok bool)) AuthInfo {
	if adminToken := r.Header.Get("X-Admin-Token"); adminToken != "" {
		if VerifyAdminToken(adminToken, cfg.AdminTokensCSV) {
			return AuthInfo{Role: RoleAdmin, UserID: "admin"}
		}
	}

	if bearer := bearerToken(r); bearer != "" && VerifyAdminJWT(bearer, cfg.JWTSecret) {
		return AuthInfo{Role: RoleAdmin, UserID: "admin"}
	}

	teamToken := r.Header.Get("X-Team-Token")
	if teamToken == "" {
		teamToken = r.Header.Get("X-Truck-Token")
	}
	if teamToken != "" && vehicleForToken != nil {
		if vehicleID, teamName, ok := vehicleForToken(teamToken); ok {
			return AuthInfo{Role: RoleTeam, VehicleID: vehicleID, TeamName: teamName}
		}
	}

	if bearer := bearerToken(r); bearer != "" {
		if VerifyPremiumSubscriptionJWT(bearer, cfg.JWTSecret) {
			return AuthInfo{Role: RolePremium}
		}
	}

	return AuthInfo{Role: RolePublic}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// ViewerAccess computes the role a viewer is granted for a specific event's
// SSE stream, collapsing the full role ladder down to "team" or "public"/
// "premium" for field-filtering purposes.
//
// An admin always gets team-level access. A team-role AuthInfo only keeps
// team access if its vehicle is actually registered for this event — a
// team token issued for a different event's vehicle degrades to public,
// never premium. Granting premium in that case would be a privilege
// escalation: it would let a truck token for event A see event B's premium
// telemetry merely because the token proved *some* team membership.
func ViewerAccess(auth AuthInfo, eventID string, vehicleRegisteredForEvent func(vehicleID, eventID string) bool) Role {
	if auth.Role >= RoleAdmin {
		return RoleTeam
	}

	if auth.Role >= RoleTeam {
		if auth.VehicleID != "" && vehicleRegisteredForEvent != nil && vehicleRegisteredForEvent(auth.VehicleID, eventID) {
			return RoleTeam
		}
		return RolePublic
	}

	if auth.Role >= RolePremium {
		return RolePremium
	}

	return RolePublic
}
