// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// adminSessionType and premiumSubscriptionType are the JWT "type" claim
// values this service recognizes. A token whose type claim is anything
// else — including absent — is rejected outright.
const (
	adminSessionType        = "admin_session"
	premiumSubscriptionType = "premium_subscription"
)

// VerifyAdminJWT reports whether token is a currently-valid admin session
// JWT signed with secret: HS256, type=admin_session, and an unexpired exp
// claim (jwt-go's parser enforces exp itself).
func VerifyAdminJWT(token, secret string) bool {
	claims, ok := parseHS256(token, secret)
	if !ok {
		return false
	}
	typ, _ := claims["type"].(string)
	return typ == adminSessionType
}

// VerifyPremiumSubscriptionJWT reports whether token is a currently-valid
// premium subscription JWT: HS256, type=premium_subscription, unexpired.
//
// The Bearer-token path historically granted premium access to any valid
// JWT without checking what it actually certified; this verifies the
// subscription claim explicitly so an admin or team JWT handed to the
// public endpoint can never be mistaken for a premium grant.
func VerifyPremiumSubscriptionJWT(token, secret string) bool {
	claims, ok := parseHS256(token, secret)
	if !ok {
		return false
	}
	typ, _ := claims["type"].(string)
	return typ == premiumSubscriptionType
}

func parseHS256(token, secret string) (jwt.MapClaims, bool) {
	if token == "" || secret == "" {
		return nil, false
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	return claims, true
}

// VerifyAdminToken checks token against the configured comma-separated
// admin token list using constant-time comparison for each candidate.
// Unlike the prototype this verifies, there is no SHA-256 hash fallback:
// a single source of truth for the raw token list is easier to rotate and
// audit than two independent verification paths that can silently diverge.
func VerifyAdminToken(token, adminTokensCSV string) bool {
	if token == "" || strings.TrimSpace(adminTokensCSV) == "" {
		return false
	}

	valid := false
	for _, candidate := range strings.Split(adminTokensCSV, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			valid = true
		}
	}
	return valid
}

// NewAdminSessionToken issues a short-lived HS256 JWT carrying the admin
// session type claim, valid until ttl from now.
func NewAdminSessionToken(secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"type": adminSessionType,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
