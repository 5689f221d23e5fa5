// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waystellar/racecloud/internal/apperr"
	"github.com/waystellar/racecloud/internal/auth"
	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/permission"
	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/store"
)

// keepaliveInterval is the default SSE heartbeat cadence; heartbeats carry
// no seq id and are never buffered for replay.
const keepaliveInterval = 15 * time.Second

// hiddenRefreshInterval bounds how stale the per-connection hidden-vehicle
// set is allowed to get absent an explicit permission-event refresh.
const hiddenRefreshInterval = 30 * time.Second

// streamHandler implements the viewer SSE subscriber lifecycle: a
// `connected` frame, a Last-Event-ID replay or snapshot fallback, the live
// filtered event stream, and periodic heartbeats.
func streamHandler(s *store.Store, bus *pubsub.Bus, cfg auth.Config, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventID")
		if _, err := s.GetEvent(r.Context(), eventID); err != nil {
			apperr.WriteHTTP(w, apperr.Wrap(apperr.NotFound, "event not found", err))
			return
		}

		// Viewer access is computed strictly from server-side auth
		// headers — never from a client-controlled query parameter —
		// since that's the one lever a client has to try to claim a
		// higher access tier than its credentials actually grant.
		role := resolveViewerAuth(r, s, cfg, eventID)

		flusher, ok := w.(http.Flusher)
		if !ok {
			apperr.WriteHTTP(w, apperr.New(apperr.Internal, "streaming unsupported"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		logger := log.WithTraceContext(r.Context()).With().Str("event_id", eventID).Logger()

		writeSSE(w, "", pubsub.Connected, map[string]any{
			"event_id":     eventID,
			"server_time":  time.Now().UnixMilli(),
			"access_level": role.String(),
		})
		flusher.Flush()

		hidden, err := s.HiddenVehiclesForEvent(r.Context(), eventID)
		if err != nil {
			logger.Warn().Err(err).Msg("stream: initial hidden-vehicle load failed")
			hidden = map[string]bool{}
		}
		hiddenLoadedAt := time.Now()

		if lastSeq, ok := lastEventID(r); ok {
			if msgs, replayed := bus.Replay(eventID, lastSeq); replayed {
				for _, m := range msgs {
					if fm, send := filterMessage(r, s, eventID, role, hidden, m, c); send {
						writeSSE(w, strconv.FormatInt(m.Seq, 10), m.Type, fm)
					}
				}
				flusher.Flush()
			} else {
				writeSnapshot(w, r, s, eventID, role, c)
				flusher.Flush()
			}
		} else {
			writeSnapshot(w, r, s, eventID, role, c)
			flusher.Flush()
		}

		sub := bus.Subscribe(eventID)
		defer sub.Close()

		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return

			case m, ok := <-sub.C:
				if !ok {
					return
				}
				if time.Since(hiddenLoadedAt) > hiddenRefreshInterval || m.Type == pubsub.Permission {
					if refreshed, err := s.HiddenVehiclesForEvent(r.Context(), eventID); err == nil {
						hidden = refreshed
						hiddenLoadedAt = time.Now()
					}
				}
				if m.Type == pubsub.Permission {
					continue
				}
				if fm, send := filterMessage(r, s, eventID, role, hidden, m, c); send {
					writeSSE(w, strconv.FormatInt(m.Seq, 10), m.Type, fm)
					flusher.Flush()
				}

			case <-ticker.C:
				writeSSE(w, "", pubsub.Heartbeat, map[string]any{
					"server_ts": time.Now().UnixMilli(),
					"ts_ms":     time.Now().UnixMilli(),
				})
				flusher.Flush()
			}
		}
	}
}

// filterMessage applies the hidden-vehicle check then the field-level
// permission filter to a position event; checkpoint events pass through
// unfiltered since they carry no viewer-restricted fields.
func filterMessage(r *http.Request, s *store.Store, eventID string, role auth.Role, hidden map[string]bool, m pubsub.Message, c cache.Cache) (any, bool) {
	switch m.Type {
	case pubsub.Checkpoint:
		return m.Data, true
	case pubsub.Position:
		sample, ok := m.Data.(map[string]any)
		if !ok {
			return nil, false
		}
		vehicleID, _ := sample["vehicle_id"].(string)
		if hidden[vehicleID] && !role.AtLeast(auth.RoleTeam) {
			return nil, false
		}
		policies, err := cachedPolicies(r.Context(), c, s, eventID, vehicleID)
		if err != nil {
			policies = nil
		}
		return permission.Filter(role, sample, policies), true
	default:
		return m.Data, true
	}
}

// writeSnapshot emits a one-shot snapshot of current filtered positions,
// used when no Last-Event-ID replay is possible.
func writeSnapshot(w http.ResponseWriter, r *http.Request, s *store.Store, eventID string, role auth.Role, c cache.Cache) {
	positions, err := cachedLatestPositions(r.Context(), c, s, eventID)
	if err != nil {
		return
	}
	hidden, err := s.HiddenVehiclesForEvent(r.Context(), eventID)
	if err != nil {
		hidden = map[string]bool{}
	}

	out := make([]map[string]any, 0, len(positions))
	for _, p := range positions {
		if hidden[p.VehicleID] && !role.AtLeast(auth.RoleTeam) {
			continue
		}
		policies, err := cachedPolicies(r.Context(), c, s, eventID, p.VehicleID)
		if err != nil {
			policies = nil
		}
		out = append(out, permission.Filter(role, positionToSample(p), policies))
	}
	writeSSE(w, "", pubsub.Snapshot, map[string]any{"positions": out})
}

// lastEventID resolves the replay cursor from the Last-Event-ID header or
// the lastEventId query parameter, in that priority order.
func lastEventID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// writeSSE writes one SSE frame. An empty id omits the id: line, matching
// heartbeat/connected/snapshot frames which carry no replayable seq.
func writeSSE(w http.ResponseWriter, id, eventType string, data any) {
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
