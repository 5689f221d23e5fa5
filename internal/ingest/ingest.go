// SPDX-License-Identifier: MIT

// Package ingest implements the cloud ingest endpoint: token-authenticated
// batch receipt, per-sample age gating, Kalman smoothing, idempotent
// persistence, checkpoint detection, and cache/pub-sub fan-out.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/waystellar/racecloud/internal/apperr"
	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/checkpoint"
	"github.com/waystellar/racecloud/internal/kalman"
	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/metrics"
	"github.com/waystellar/racecloud/internal/pubsub"
	"github.com/waystellar/racecloud/internal/store"
)

// MaxAge is the default age gate: samples older than this relative to wall
// clock are rejected but do not abort the rest of the batch.
const MaxAge = 60 * time.Second

// tokenTTL is how long a resolved truck-token → (vehicle, event) mapping
// stays cached before falling back to the database again.
const tokenTTL = 24 * time.Hour

// PositionSample is the wire shape of one GPS reading in an ingest batch.
type PositionSample struct {
	TsMs       int64   `json:"ts_ms"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SpeedMPS   float64 `json:"speed_mps,omitempty"`
	HeadingDeg float64 `json:"heading_deg,omitempty"`
	HaveSpeed  bool    `json:"have_speed_heading,omitempty"`
	AltitudeM  float64 `json:"altitude_m,omitempty"`
	Hdop       float64 `json:"hdop,omitempty"`
	Satellites int     `json:"satellites,omitempty"`
}

// TelemetrySample is the wire shape of one vehicle-bus/heart-rate reading.
type TelemetrySample struct {
	TsMs            int64   `json:"ts_ms"`
	RPM             float64 `json:"rpm,omitempty"`
	Gear            int     `json:"gear,omitempty"`
	ThrottlePct     float64 `json:"throttle_pct,omitempty"`
	CoolantTempC    float64 `json:"coolant_temp_c,omitempty"`
	OilPressurePsi  float64 `json:"oil_pressure_psi,omitempty"`
	FuelPressurePsi float64 `json:"fuel_pressure_psi,omitempty"`
	SpeedMph        float64 `json:"speed_mph,omitempty"`
	HeartRate       int     `json:"heart_rate,omitempty"`
	HeartRateZone   int     `json:"heart_rate_zone,omitempty"`
}

// Batch is the ingest request body.
type Batch struct {
	Positions []PositionSample  `json:"positions"`
	Telemetry []TelemetrySample `json:"telemetry"`
}

// CheckpointCrossingResult mirrors checkpoint.Crossing for the response body.
type CheckpointCrossingResult struct {
	VehicleID        string `json:"vehicle_id"`
	CheckpointNumber int    `json:"checkpoint_number"`
	CheckpointName   string `json:"checkpoint_name"`
	LapNumber        int    `json:"lap_number"`
	TsMs             int64  `json:"ts_ms"`
}

// Response is the ingest endpoint's reply body.
type Response struct {
	Accepted           int                         `json:"accepted"`
	Rejected           int                         `json:"rejected"`
	CheckpointCrossing []CheckpointCrossingResult `json:"checkpoint_crossings"`
}

// tokenInfo is the cached resolution of a truck token.
type tokenInfo struct {
	VehicleID string
	EventID   string
}

// Handler implements the ingest HTTP endpoint.
type Handler struct {
	store      *store.Store
	kalman     *kalman.Cache
	detector   *checkpoint.Detector
	bus        *pubsub.Bus
	tokenCache cache.Cache
	clock      func() time.Time
}

// New constructs an ingest Handler. tokenCache is shared with the rest of
// the cloud process's caching (see internal/cache.New) so a truck token
// resolution survives the process that resolved it, when Redis-backed.
func New(s *store.Store, kc *kalman.Cache, det *checkpoint.Detector, bus *pubsub.Bus, tokenCache cache.Cache) *Handler {
	return &Handler{
		store:      s,
		kalman:     kc,
		detector:   det,
		bus:        bus,
		tokenCache: tokenCache,
		clock:      time.Now,
	}
}

// resolveToken looks up a truck token's (vehicle_id, event_id), checking
// the shared token cache first and falling back to the database, caching any
// database hit for tokenTTL.
func (h *Handler) resolveToken(ctx context.Context, token string) (tokenInfo, error) {
	if v, ok := h.tokenCache.Get(token); ok {
		if info, ok := cache.Decode[tokenInfo](v); ok {
			return info, nil
		}
	}

	vehicle, err := h.store.VehicleByTruckToken(ctx, token)
	if err != nil {
		return tokenInfo{}, apperr.Wrap(apperr.Unauthenticated, "unknown truck token", err)
	}

	eventID, err := h.store.MostRecentInProgressEventForVehicle(ctx, vehicle.VehicleID)
	if err != nil {
		return tokenInfo{}, apperr.Wrap(apperr.NotFound, "no in-progress event for vehicle", err)
	}

	info := tokenInfo{VehicleID: vehicle.VehicleID, EventID: eventID}
	h.tokenCache.Set(token, info, tokenTTL)
	return info, nil
}

// ServeHTTP implements the ingest endpoint contract: token auth, per-sample
// age gating, Kalman smoothing, idempotent persistence, checkpoint
// detection, and position-cache/pub-sub fan-out.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithTraceContext(ctx)

	token := r.Header.Get("X-Truck-Token")
	if token == "" {
		apperr.WriteHTTP(w, apperr.New(apperr.Unauthenticated, "missing X-Truck-Token"))
		return
	}

	info, err := h.resolveToken(ctx, token)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	var batch Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		apperr.WriteHTTP(w, apperr.Wrap(apperr.InvalidInput, "malformed ingest batch", err))
		return
	}

	resp := Response{CheckpointCrossing: []CheckpointCrossingResult{}}
	now := h.clock()

	for _, p := range batch.Positions {
		if h.tooOld(now, p.TsMs) {
			resp.Rejected++
			metrics.IngestRejected.WithLabelValues("age").Inc()
			continue
		}
		h.ingestPosition(ctx, info, p, &resp)
	}

	for _, t := range batch.Telemetry {
		if h.tooOld(now, t.TsMs) {
			resp.Rejected++
			metrics.IngestRejected.WithLabelValues("age").Inc()
			continue
		}
		h.ingestTelemetry(ctx, info, t, &resp)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("ingest: encode response failed")
	}
}

func (h *Handler) tooOld(now time.Time, tsMs int64) bool {
	age := now.Sub(time.UnixMilli(tsMs))
	return age > MaxAge
}

func (h *Handler) ingestPosition(ctx context.Context, info tokenInfo, p PositionSample, resp *Response) {
	logger := log.WithTraceContext(ctx)

	filter := h.kalman.Get(info.VehicleID)
	est := filter.Update(p.Lat, p.Lon, p.TsMs, p.SpeedMPS, p.HeadingDeg, p.HaveSpeed)

	if est.IsOutlier {
		return
	}

	inserted, err := h.store.InsertPosition(ctx, store.Position{
		EventID:    info.EventID,
		VehicleID:  info.VehicleID,
		TsMs:       p.TsMs,
		Lat:        est.Lat,
		Lon:        est.Lon,
		SpeedMPS:   est.SpeedMPS,
		HeadingDeg: est.HeadingDeg,
		AltitudeM:  p.AltitudeM,
		HDOP:       p.Hdop,
		Satellites: p.Satellites,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ingest: insert position failed")
		return
	}
	if !inserted {
		metrics.IngestDuplicate.WithLabelValues(info.VehicleID).Inc()
		return // duplicate retry: neither accepted nor rejected
	}
	resp.Accepted++
	metrics.IngestSamples.WithLabelValues("positions").Inc()

	crossings, err := h.detector.Check(ctx, info.EventID, info.VehicleID, est.Lat, est.Lon, p.TsMs)
	if err != nil {
		logger.Error().Err(err).Msg("ingest: checkpoint detection failed")
	}
	for _, c := range crossings {
		resp.CheckpointCrossing = append(resp.CheckpointCrossing, CheckpointCrossingResult{
			VehicleID:        c.VehicleID,
			CheckpointNumber: c.CheckpointNumber,
			CheckpointName:   c.CheckpointName,
			LapNumber:        c.LapNumber,
			TsMs:             c.TsMs,
		})
		h.bus.Publish(info.EventID, pubsub.Checkpoint, c, p.TsMs)
	}

	h.bus.Publish(info.EventID, pubsub.Position, map[string]any{
		"vehicle_id":  info.VehicleID,
		"ts_ms":       p.TsMs,
		"lat":         est.Lat,
		"lon":         est.Lon,
		"speed_mps":   est.SpeedMPS,
		"heading_deg": est.HeadingDeg,
	}, p.TsMs)
}

func (h *Handler) ingestTelemetry(ctx context.Context, info tokenInfo, t TelemetrySample, resp *Response) {
	logger := log.WithTraceContext(ctx)

	inserted, err := h.store.InsertTelemetry(ctx, store.TelemetrySample{
		EventID:         info.EventID,
		VehicleID:       info.VehicleID,
		TsMs:            t.TsMs,
		RPM:             int(t.RPM),
		Gear:            t.Gear,
		ThrottlePct:     t.ThrottlePct,
		CoolantTempC:    t.CoolantTempC,
		OilPressurePSI:  t.OilPressurePsi,
		FuelPressurePSI: t.FuelPressurePsi,
		SpeedMPH:        t.SpeedMph,
		HeartRate:       t.HeartRate,
		HeartRateZone:   t.HeartRateZone,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ingest: insert telemetry failed")
		return
	}
	if !inserted {
		metrics.IngestDuplicate.WithLabelValues(info.VehicleID).Inc()
		return
	}
	resp.Accepted++
	metrics.IngestSamples.WithLabelValues("telemetry").Inc()
}
