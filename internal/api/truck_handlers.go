// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/waystellar/racecloud/internal/apperr"
	"github.com/waystellar/racecloud/internal/store"
)

// resolveTruck looks up the vehicle and its current event association for
// an inbound X-Truck-Token, without the ingest handler's token cache —
// heartbeat and truck/me run at a tiny fraction of ingest's request rate,
// so a cache would only add staleness for no throughput benefit.
func resolveTruck(r *http.Request, s *store.Store) (store.Vehicle, string, error) {
	token := r.Header.Get("X-Truck-Token")
	if token == "" {
		return store.Vehicle{}, "", apperr.New(apperr.Unauthenticated, "missing X-Truck-Token")
	}

	vehicle, err := s.VehicleByTruckToken(r.Context(), token)
	if err != nil {
		return store.Vehicle{}, "", apperr.Wrap(apperr.Unauthenticated, "unknown truck token", err)
	}

	eventID, err := s.MostRecentInProgressEventForVehicle(r.Context(), vehicle.VehicleID)
	if err != nil {
		// A vehicle with no in-progress event is a legitimate resting
		// state for /truck/me and /heartbeat (unlike ingest, which needs
		// an event to attach samples to) — report it rather than erroring.
		return vehicle, "", nil
	}
	return vehicle, eventID, nil
}

// heartbeatHandler accepts a liveness ping from the edge uplink and reports
// back the vehicle's current event association, regardless of that event's
// status.
func heartbeatHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicle, eventID, err := resolveTruck(r, s)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}

		if eventID == "" {
			// No in_progress event: fall back to the vehicle's most recently
			// created registered event, whatever its status.
			_ = s.DB().QueryRowContext(r.Context(), `
				SELECT e.event_id FROM events e
				INNER JOIN event_vehicles ev ON ev.event_id = e.event_id
				WHERE ev.vehicle_id = ?
				ORDER BY e.created_at_ms DESC LIMIT 1`, vehicle.VehicleID).Scan(&eventID)
		}

		var status store.EventStatus
		if eventID != "" {
			if event, err := s.GetEvent(r.Context(), eventID); err == nil {
				status = event.Status
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"vehicle_id":    vehicle.VehicleID,
			"event_id":      eventID,
			"event_status":  status,
			"server_ts_ms":  time.Now().UnixMilli(),
		})
	}
}

// truckMeHandler reports the truck token's resolved (vehicle, event,
// event_status) triple.
func truckMeHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicle, eventID, err := resolveTruck(r, s)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}

		var status store.EventStatus
		if eventID != "" {
			if event, err := s.GetEvent(r.Context(), eventID); err == nil {
				status = event.Status
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"vehicle_id":   vehicle.VehicleID,
			"event_id":     eventID,
			"event_status": status,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
