// SPDX-License-Identifier: MIT

// Package geo provides great-circle distance and course-progress utilities
// shared by the checkpoint detector and leaderboard engine.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusM is the mean Earth radius used for haversine distance.
const EarthRadiusM = 6371000.0

// MetersPerMile converts meters to statute miles.
const MetersPerMile = 1609.344

// Haversine returns the great-circle distance in meters between two
// lat/lon points. Haversine(p, p) == 0 and the function is symmetric.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1

	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Asin(math.Sqrt(a))

	return EarthRadiusM * c
}

// FormatDelta renders a millisecond time delta the way the leaderboard and
// splits views display it: "+12.3s", "+1:02.3", "+1:02:03.4". A zero delta
// renders as "0.0s".
func FormatDelta(deltaMs int64) string {
	if deltaMs == 0 {
		return "0.0s"
	}

	seconds := float64(deltaMs) / 1000.0

	switch {
	case seconds < 60:
		return fmt.Sprintf("+%.1fs", seconds)
	case seconds < 3600:
		minutes := int64(seconds / 60)
		remaining := math.Mod(seconds, 60)
		return fmt.Sprintf("+%d:%04.1f", minutes, remaining)
	default:
		hours := int64(seconds / 3600)
		minutes := int64(math.Mod(seconds, 3600) / 60)
		remaining := math.Mod(seconds, 60)
		return fmt.Sprintf("+%d:%02d:%04.1f", hours, minutes, remaining)
	}
}

// Point is a single course polyline vertex with its cumulative distance
// along the course, in meters, from the start.
type Point struct {
	Lat         float64
	Lon         float64
	CumulativeM float64
}

// Progress snaps (lat, lon) to the nearest polyline vertex and returns the
// distance traveled along the course and the distance remaining, both in
// miles. Returns ok=false if the polyline is empty.
func Progress(lat, lon float64, polyline []Point) (progressMiles, remainingMiles float64, ok bool) {
	if len(polyline) == 0 {
		return 0, 0, false
	}

	bestIdx := 0
	bestDist := math.MaxFloat64
	for i, p := range polyline {
		d := Haversine(lat, lon, p.Lat, p.Lon)
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}

	total := polyline[len(polyline)-1].CumulativeM
	traveled := polyline[bestIdx].CumulativeM

	progressMiles = traveled / MetersPerMile
	remainingMiles = (total - traveled) / MetersPerMile
	return progressMiles, remainingMiles, true
}
