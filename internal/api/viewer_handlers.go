// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waystellar/racecloud/internal/apperr"
	"github.com/waystellar/racecloud/internal/auth"
	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/leaderboard"
	"github.com/waystellar/racecloud/internal/permission"
	"github.com/waystellar/racecloud/internal/store"
)

// resolveViewerAuth runs the server-authoritative auth resolution chain
// for a viewer request: admin header/JWT, then team/truck token scoped to
// eventID, then premium JWT, defaulting to public. It is never influenced
// by client-supplied query parameters.
func resolveViewerAuth(r *http.Request, s *store.Store, cfg auth.Config, eventID string) auth.Role {
	info := auth.ResolveRequestAuth(r, cfg, func(token string) (string, string, bool) {
		v, err := s.VehicleByTruckToken(r.Context(), token)
		if err != nil {
			return "", "", false
		}
		return v.VehicleID, v.TeamName, true
	})

	return auth.ViewerAccess(info, eventID, func(vehicleID, eventID string) bool {
		ok, err := s.IsVehicleRegistered(r.Context(), eventID, vehicleID)
		return err == nil && ok
	})
}

// leaderboardHandler returns the ranked standings for an event.
func leaderboardHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		board, err := leaderboard.Calculate(r.Context(), s, eventID)
		if err != nil {
			apperr.WriteHTTP(w, apperr.Wrap(apperr.NotFound, "event not found", err))
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}

// splitsHandler returns per-checkpoint crossing splits for an event.
func splitsHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		splits, err := leaderboard.Splits(r.Context(), s, eventID)
		if err != nil {
			apperr.WriteHTTP(w, apperr.Wrap(apperr.Internal, "failed to compute splits", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"splits": splits})
	}
}

// positionsLatestHandler returns every vehicle's latest known position,
// field-filtered per the requesting viewer's resolved access level.
func positionsLatestHandler(s *store.Store, cfg auth.Config, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		role := resolveViewerAuth(r, s, cfg, eventID)

		positions, err := cachedLatestPositions(r.Context(), c, s, eventID)
		if err != nil {
			apperr.WriteHTTP(w, apperr.Wrap(apperr.Internal, "failed to list positions", err))
			return
		}

		hidden, err := s.HiddenVehiclesForEvent(r.Context(), eventID)
		if err != nil {
			apperr.WriteHTTP(w, apperr.Wrap(apperr.Internal, "failed to load visibility", err))
			return
		}

		out := make([]map[string]any, 0, len(positions))
		for _, p := range positions {
			if hidden[p.VehicleID] && !role.AtLeast(auth.RoleTeam) {
				continue
			}
			policies, err := cachedPolicies(r.Context(), c, s, eventID, p.VehicleID)
			if err != nil {
				continue
			}
			sample := positionToSample(p)
			out = append(out, permission.Filter(role, sample, policies))
		}
		writeJSON(w, http.StatusOK, map[string]any{"positions": out})
	}
}

func positionToSample(p store.Position) map[string]any {
	return map[string]any{
		"vehicle_id":  p.VehicleID,
		"ts_ms":       p.TsMs,
		"lat":         p.Lat,
		"lon":         p.Lon,
		"speed_mps":   p.SpeedMPS,
		"heading_deg": p.HeadingDeg,
		"altitude_m":  p.AltitudeM,
		"hdop":        p.HDOP,
		"satellites":  p.Satellites,
	}
}
