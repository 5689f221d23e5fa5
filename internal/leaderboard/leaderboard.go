// SPDX-License-Identifier: MIT

// Package leaderboard computes ranked race standings and per-checkpoint
// split times from the checkpoint crossings and positions the cloud ingest
// engine has recorded for an event.
package leaderboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/waystellar/racecloud/internal/course"
	"github.com/waystellar/racecloud/internal/geo"
	"github.com/waystellar/racecloud/internal/store"
)

// Entry is a single vehicle's ranked standing.
type Entry struct {
	Position            int
	VehicleID           string
	VehicleNumber       string
	TeamName            string
	DriverName          string
	LastCheckpoint      int
	LastCheckpointName  string
	DeltaToLeaderMs     int64
	DeltaFormatted      string
	LapNumber           int
	ProgressMiles       float64
	MilesRemaining      float64
	HasProgress         bool
	NotStarted          bool
}

// Board is a full leaderboard snapshot for an event.
type Board struct {
	EventID            string
	Entries            []Entry
	CourseLengthMiles  float64
	HasCourseLength    bool
}

// Calculate ranks every vehicle registered and visible for eventID by
// (lap desc, checkpoint desc, crossing time asc), trailing vehicles that
// haven't crossed any checkpoint yet as "Not Started" entries ordered by
// vehicle number.
func Calculate(ctx context.Context, s *store.Store, eventID string) (*Board, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: get event: %w", err)
	}

	crossings, err := s.CrossingsForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list crossings: %w", err)
	}

	checkpoints, err := s.CheckpointsForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list checkpoints: %w", err)
	}
	checkpointNames := make(map[int]string, len(checkpoints))
	for _, cp := range checkpoints {
		checkpointNames[cp.CheckpointNumber] = cp.Name
	}

	vehicles, err := visibleVehiclesForEvent(ctx, s, eventID)
	if err != nil {
		return nil, err
	}
	if len(vehicles) == 0 {
		return &Board{EventID: eventID}, nil
	}

	positions, err := s.LatestPositionsForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: latest positions: %w", err)
	}

	var poly []geo.Point
	if event.CourseGeoJSON != "" {
		if c, err := course.Parse([]byte(event.CourseGeoJSON)); err == nil {
			poly = c.Polyline
		}
	}
	progressByVehicle := make(map[string]progress, len(positions))
	hasProgress := make(map[string]bool, len(positions))
	for _, p := range positions {
		if pm, rm, ok := geo.Progress(p.Lat, p.Lon, poly); ok {
			progressByVehicle[p.VehicleID] = progress{miles: pm, remaining: rm}
			hasProgress[p.VehicleID] = true
		}
	}

	best := bestCrossingPerVehicle(crossings)

	var withCrossings []string
	for vid := range best {
		if _, ok := vehicles[vid]; ok {
			withCrossings = append(withCrossings, vid)
		}
	}
	sort.Slice(withCrossings, func(i, j int) bool {
		ci, cj := best[withCrossings[i]], best[withCrossings[j]]
		if ci.LapNumber != cj.LapNumber {
			return ci.LapNumber > cj.LapNumber
		}
		if ci.CheckpointNumber != cj.CheckpointNumber {
			return ci.CheckpointNumber > cj.CheckpointNumber
		}
		return ci.TsMs < cj.TsMs
	})

	var withoutCrossings []string
	for vid := range vehicles {
		if _, ok := best[vid]; !ok {
			withoutCrossings = append(withoutCrossings, vid)
		}
	}
	sort.Slice(withoutCrossings, func(i, j int) bool {
		return vehicles[withoutCrossings[i]].VehicleNumber < vehicles[withoutCrossings[j]].VehicleNumber
	})

	type key struct {
		lap, checkpoint int
	}
	leaderTimes := make(map[key]int64)
	for _, vid := range withCrossings {
		c := best[vid]
		k := key{c.LapNumber, c.CheckpointNumber}
		if _, ok := leaderTimes[k]; !ok {
			leaderTimes[k] = c.TsMs
		}
	}

	var entries []Entry
	for i, vid := range withCrossings {
		c := best[vid]
		v := vehicles[vid]
		k := key{c.LapNumber, c.CheckpointNumber}
		leaderTime := leaderTimes[k]
		deltaMs := c.TsMs - leaderTime

		cpName := checkpointNames[c.CheckpointNumber]
		display := cpName
		if c.LapNumber > 1 {
			if cpName == "" {
				cpName = fmt.Sprintf("CP%d", c.CheckpointNumber)
			}
			display = fmt.Sprintf("Lap %d - %s", c.LapNumber, cpName)
		}

		prog := progressByVehicle[vid]
		entries = append(entries, Entry{
			Position:           i + 1,
			VehicleID:          vid,
			VehicleNumber:      v.VehicleNumber,
			TeamName:           v.TeamName,
			DriverName:         v.DriverName,
			LastCheckpoint:     c.CheckpointNumber,
			LastCheckpointName: display,
			DeltaToLeaderMs:    deltaMs,
			DeltaFormatted:     geo.FormatDelta(deltaMs),
			LapNumber:          c.LapNumber,
			ProgressMiles:      prog.miles,
			MilesRemaining:     prog.remaining,
			HasProgress:        hasProgress[vid],
		})
	}

	start := len(entries) + 1
	for i, vid := range withoutCrossings {
		v := vehicles[vid]
		prog := progressByVehicle[vid]
		entries = append(entries, Entry{
			Position:           start + i,
			VehicleID:          vid,
			VehicleNumber:      v.VehicleNumber,
			TeamName:           v.TeamName,
			DriverName:         v.DriverName,
			LastCheckpointName: "Not Started",
			DeltaFormatted:     "—",
			ProgressMiles:      prog.miles,
			MilesRemaining:     prog.remaining,
			HasProgress:        hasProgress[vid],
			NotStarted:         true,
		})
	}

	board := &Board{EventID: eventID, Entries: entries}
	if event.CourseDistanceM > 0 {
		board.CourseLengthMiles = event.CourseDistanceM / geo.MetersPerMile
		board.HasCourseLength = true
	}
	return board, nil
}

type progress struct {
	miles     float64
	remaining float64
}

func bestCrossingPerVehicle(crossings []store.CheckpointCrossing) map[string]store.CheckpointCrossing {
	best := make(map[string]store.CheckpointCrossing)
	for _, c := range crossings {
		cur, ok := best[c.VehicleID]
		if !ok {
			best[c.VehicleID] = c
			continue
		}
		if c.LapNumber > cur.LapNumber || (c.LapNumber == cur.LapNumber && c.CheckpointNumber > cur.CheckpointNumber) {
			best[c.VehicleID] = c
		} else if c.LapNumber == cur.LapNumber && c.CheckpointNumber == cur.CheckpointNumber && c.TsMs < cur.TsMs {
			best[c.VehicleID] = c
		}
	}
	return best
}

func visibleVehiclesForEvent(ctx context.Context, s *store.Store, eventID string) (map[string]store.Vehicle, error) {
	rows, err := s.DB().QueryContext(ctx, `
		SELECT v.vehicle_id, v.vehicle_number, v.vehicle_class, v.team_name, v.driver_name,
			v.truck_token, v.youtube_url, v.created_at_ms
		FROM vehicles v
		INNER JOIN event_vehicles ev ON ev.vehicle_id = v.vehicle_id
		WHERE ev.event_id = ? AND ev.visible = 1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list visible vehicles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.Vehicle)
	for rows.Next() {
		var v store.Vehicle
		var vehicleClass, driverName, youtubeURL *string
		if err := rows.Scan(&v.VehicleID, &v.VehicleNumber, &vehicleClass, &v.TeamName, &driverName,
			&v.TruckToken, &youtubeURL, &v.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("leaderboard: scan vehicle: %w", err)
		}
		if vehicleClass != nil {
			v.VehicleClass = *vehicleClass
		}
		if driverName != nil {
			v.DriverName = *driverName
		}
		if youtubeURL != nil {
			v.YoutubeURL = *youtubeURL
		}
		out[v.VehicleID] = v
	}
	return out, rows.Err()
}

// Split is a single checkpoint's field of crossings ordered leader-first.
type Split struct {
	CheckpointNumber int
	Name             string
	Crossings        []SplitCrossing
}

// SplitCrossing is one vehicle's crossing time and delta to the checkpoint
// leader.
type SplitCrossing struct {
	VehicleID       string
	VehicleNumber   string
	TeamName        string
	TsMs            int64
	DeltaToLeaderMs int64
	DeltaFormatted  string
}

// Splits computes, for every checkpoint in eventID, the ordered field of
// crossings and each vehicle's delta to that checkpoint's leader.
func Splits(ctx context.Context, s *store.Store, eventID string) ([]Split, error) {
	checkpoints, err := s.CheckpointsForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list checkpoints: %w", err)
	}

	rows, err := s.DB().QueryContext(ctx, `
		SELECT crossing_id, event_id, vehicle_id, checkpoint_id, checkpoint_number, lap_number, ts_ms, created_at_ms
		FROM checkpoint_crossings WHERE event_id = ? ORDER BY ts_ms ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: list crossings: %w", err)
	}
	byCheckpoint := make(map[string][]store.CheckpointCrossing)
	vehicleIDs := make(map[string]struct{})
	for rows.Next() {
		var c store.CheckpointCrossing
		if err := rows.Scan(&c.CrossingID, &c.EventID, &c.VehicleID, &c.CheckpointID,
			&c.CheckpointNumber, &c.LapNumber, &c.TsMs, &c.CreatedAtMs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("leaderboard: scan crossing: %w", err)
		}
		byCheckpoint[c.CheckpointID] = append(byCheckpoint[c.CheckpointID], c)
		vehicleIDs[c.VehicleID] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vehicles := make(map[string]store.Vehicle, len(vehicleIDs))
	for vid := range vehicleIDs {
		v, err := vehicleByID(ctx, s, vid)
		if err == nil {
			vehicles[vid] = v
		}
	}

	var splits []Split
	for _, cp := range checkpoints {
		crossings := byCheckpoint[cp.CheckpointID]
		if len(crossings) == 0 {
			continue
		}
		sort.Slice(crossings, func(i, j int) bool { return crossings[i].TsMs < crossings[j].TsMs })
		leaderTime := crossings[0].TsMs

		var splitCrossings []SplitCrossing
		for _, c := range crossings {
			v, ok := vehicles[c.VehicleID]
			if !ok {
				continue
			}
			deltaMs := c.TsMs - leaderTime
			splitCrossings = append(splitCrossings, SplitCrossing{
				VehicleID:       c.VehicleID,
				VehicleNumber:   v.VehicleNumber,
				TeamName:        v.TeamName,
				TsMs:            c.TsMs,
				DeltaToLeaderMs: deltaMs,
				DeltaFormatted:  geo.FormatDelta(deltaMs),
			})
		}

		splits = append(splits, Split{
			CheckpointNumber: cp.CheckpointNumber,
			Name:             cp.Name,
			Crossings:        splitCrossings,
		})
	}

	return splits, nil
}

func vehicleByID(ctx context.Context, s *store.Store, vehicleID string) (store.Vehicle, error) {
	row := s.DB().QueryRowContext(ctx, `
		SELECT vehicle_id, vehicle_number, vehicle_class, team_name, driver_name, truck_token, youtube_url, created_at_ms
		FROM vehicles WHERE vehicle_id = ?`, vehicleID)

	var v store.Vehicle
	var vehicleClass, driverName, youtubeURL *string
	if err := row.Scan(&v.VehicleID, &v.VehicleNumber, &vehicleClass, &v.TeamName, &driverName,
		&v.TruckToken, &youtubeURL, &v.CreatedAtMs); err != nil {
		return store.Vehicle{}, err
	}
	if vehicleClass != nil {
		v.VehicleClass = *vehicleClass
	}
	if driverName != nil {
		v.DriverName = *driverName
	}
	if youtubeURL != nil {
		v.YoutubeURL = *youtubeURL
	}
	return v, nil
}
