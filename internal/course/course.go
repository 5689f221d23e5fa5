// SPDX-License-Identifier: MIT

// Package course parses the GeoJSON course geometry a race organizer
// publishes for an event: a FeatureCollection with one LineString feature
// carrying a precomputed cumulative-distance array alongside its coordinates.
package course

import (
	"encoding/json"
	"fmt"

	"github.com/waystellar/racecloud/internal/geo"
)

// Course is the parsed, ready-to-use course geometry.
type Course struct {
	Polyline    []geo.Point
	DistanceM   float64
	RawGeoJSON  json.RawMessage
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string          `json:"type"`
	Geometry   geometry        `json:"geometry"`
	Properties featureProperty `json:"properties"`
}

type geometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type featureProperty struct {
	CumulativeM []float64 `json:"cumulative_m"`
}

// Parse decodes a GeoJSON FeatureCollection produced by the course-authoring
// collaborator tool. It uses the first LineString feature (later ones are
// ignored), whose properties.cumulative_m must be the same length as its
// coordinate array and monotone nondecreasing.
func Parse(data []byte) (*Course, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("course: invalid geojson: %w", err)
	}

	var line *feature
	for i := range fc.Features {
		if fc.Features[i].Geometry.Type == "LineString" {
			line = &fc.Features[i]
			break
		}
	}
	if line == nil {
		return nil, fmt.Errorf("course: no LineString feature found")
	}

	coords := line.Geometry.Coordinates
	cum := line.Properties.CumulativeM
	if len(cum) != len(coords) {
		return nil, fmt.Errorf("course: cumulative_m length %d does not match coordinate count %d", len(cum), len(coords))
	}

	poly := make([]geo.Point, len(coords))
	prev := 0.0
	for i, c := range coords {
		if len(c) < 2 {
			return nil, fmt.Errorf("course: coordinate %d malformed", i)
		}
		if cum[i] < prev {
			return nil, fmt.Errorf("course: cumulative_m not monotone nondecreasing at index %d", i)
		}
		prev = cum[i]
		// GeoJSON coordinates are [lon, lat].
		poly[i] = geo.Point{Lon: c[0], Lat: c[1], CumulativeM: cum[i]}
	}

	distance := 0.0
	if len(poly) > 0 {
		distance = poly[len(poly)-1].CumulativeM
	}

	return &Course{Polyline: poly, DistanceM: distance, RawGeoJSON: data}, nil
}
