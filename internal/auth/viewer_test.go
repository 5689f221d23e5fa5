// SPDX-License-Identifier: MIT

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
)

func TestResolveRequestAuthAdminToken(t *testing.T) {
	cfg := Config{AdminTokensCSV: "tok-a, tok-b"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Token", "tok-b")

	auth := ResolveRequestAuth(r, cfg, nil)
	if auth.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %v", auth.Role)
	}
}

func TestResolveRequestAuthTeamToken(t *testing.T) {
	cfg := Config{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Team-Token", "truck-token-123")

	lookup := func(token string) (string, string, bool) {
		if token == "truck-token-123" {
			return "veh_1", "Team X", true
		}
		return "", "", false
	}

	auth := ResolveRequestAuth(r, cfg, lookup)
	if auth.Role != RoleTeam || auth.VehicleID != "veh_1" {
		t.Fatalf("expected team role with vehicle veh_1, got %+v", auth)
	}
}

func TestResolveRequestAuthUnknownTokenFallsBackToPublic(t *testing.T) {
	cfg := Config{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Team-Token", "not-a-real-token")

	lookup := func(token string) (string, string, bool) { return "", "", false }

	auth := ResolveRequestAuth(r, cfg, lookup)
	if auth.Role != RolePublic {
		t.Fatalf("expected public role for unknown token, got %v", auth.Role)
	}
}

func TestResolveRequestAuthPremiumBearerJWT(t *testing.T) {
	secret := "test-secret"
	cfg := Config{JWTSecret: secret}

	token, err := newTestJWT(secret, premiumSubscriptionType, time.Hour)
	if err != nil {
		t.Fatalf("newTestJWT: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	auth := ResolveRequestAuth(r, cfg, nil)
	if auth.Role != RolePremium {
		t.Fatalf("expected premium role, got %v", auth.Role)
	}
}

func TestResolveRequestAuthWrongJWTTypeDoesNotGrantPremium(t *testing.T) {
	secret := "test-secret"
	cfg := Config{JWTSecret: secret}

	// A team/admin-flavored JWT must never be silently upgraded to premium.
	token, err := newTestJWT(secret, "admin_session", time.Hour)
	if err != nil {
		t.Fatalf("newTestJWT: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	auth := ResolveRequestAuth(r, cfg, nil)
	// An admin_session JWT under a Bearer header (not verified via
	// VerifyAdminJWT's separate check path reusing the same token) should
	// not grant premium since its type claim isn't premium_subscription.
	// It IS however matched by the earlier admin-JWT check, so it resolves
	// to admin, not premium — either way, never premium.
	if auth.Role == RolePremium {
		t.Fatalf("a non-premium JWT must never resolve to premium access")
	}
}

func TestViewerAccessAdminAlwaysTeam(t *testing.T) {
	access := ViewerAccess(AuthInfo{Role: RoleAdmin}, "evt_1", nil)
	if access != RoleTeam {
		t.Fatalf("expected admin to resolve to team viewer access, got %v", access)
	}
}

func TestViewerAccessTeamTokenForWrongEventDegradesToPublic(t *testing.T) {
	auth := AuthInfo{Role: RoleTeam, VehicleID: "veh_1"}
	registered := func(vehicleID, eventID string) bool { return false }

	access := ViewerAccess(auth, "evt_other", registered)
	if access != RolePublic {
		t.Fatalf("team token not registered for this event must degrade to public, got %v", access)
	}
}

func TestViewerAccessTeamTokenForCorrectEventStaysTeam(t *testing.T) {
	auth := AuthInfo{Role: RoleTeam, VehicleID: "veh_1"}
	registered := func(vehicleID, eventID string) bool { return vehicleID == "veh_1" && eventID == "evt_1" }

	access := ViewerAccess(auth, "evt_1", registered)
	if access != RoleTeam {
		t.Fatalf("expected team access for correctly-registered vehicle, got %v", access)
	}
}

func TestViewerAccessPremiumStaysPremium(t *testing.T) {
	access := ViewerAccess(AuthInfo{Role: RolePremium}, "evt_1", nil)
	if access != RolePremium {
		t.Fatalf("expected premium viewer access, got %v", access)
	}
}

func newTestJWT(secret, typ string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"type": typ,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
