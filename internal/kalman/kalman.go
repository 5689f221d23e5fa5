// SPDX-License-Identifier: MIT

// Package kalman smooths per-vehicle GPS position samples with a 2-D
// constant-velocity Kalman filter operating in a local tangent-plane
// coordinate system, and rejects physically implausible outliers before
// they reach the checkpoint detector and leaderboard engine.
package kalman

import (
	"container/list"
	"math"
	"sync"

	"github.com/waystellar/racecloud/internal/metrics"
)

const (
	// MaxFilters bounds the number of per-vehicle filter instances kept
	// resident; the least recently used filter is evicted once the cache
	// exceeds this size.
	MaxFilters = 500

	defaultProcessNoise     = 1.0 // m/s^2 acceleration variance
	defaultMeasurementNoise = 5.0 // meters, GPS accuracy
	defaultOutlierThreshold = 50.0 // meters, max innovation before rejection

	metersPerDegLat = 111320.0 // approximate meters per degree latitude
)

// Estimate is the smoothed output of a single Update call.
type Estimate struct {
	Lat        float64
	Lon        float64
	SpeedMPS   float64
	HeadingDeg float64
	IsOutlier  bool
}

// state is the filter's internal state vector and its diagonal covariance.
type state struct {
	x, y   float64 // position, meters, in local tangent plane
	vx, vy float64 // velocity, m/s
	pX, pY float64
	pVX, pVY float64
	lastTsMs int64
}

// Filter is a single vehicle's Kalman filter. Not safe for concurrent use
// from multiple goroutines; the LRU cache locks only lookup and eviction,
// not calls to Update.
type Filter struct {
	processNoise     float64
	measurementNoise float64
	outlierThreshold float64

	refLat, refLon float64
	hasRef         bool

	st    *state
	vehicleID string
}

// NewFilter constructs a filter with the teacher's default noise parameters.
func NewFilter(vehicleID string) *Filter {
	return &Filter{
		processNoise:     defaultProcessNoise,
		measurementNoise: defaultMeasurementNoise,
		outlierThreshold: defaultOutlierThreshold,
		vehicleID:        vehicleID,
	}
}

func (f *Filter) latLonToLocal(lat, lon float64) (x, y float64) {
	if !f.hasRef {
		return 0, 0
	}
	latRad := f.refLat * math.Pi / 180
	metersPerDegLon := metersPerDegLat * math.Cos(latRad)
	x = (lon - f.refLon) * metersPerDegLon
	y = (lat - f.refLat) * metersPerDegLat
	return x, y
}

func (f *Filter) localToLatLon(x, y float64) (lat, lon float64) {
	if !f.hasRef {
		return 0, 0
	}
	latRad := f.refLat * math.Pi / 180
	metersPerDegLon := metersPerDegLat * math.Cos(latRad)
	lat = f.refLat + y/metersPerDegLat
	lon = f.refLon + x/metersPerDegLon
	return lat, lon
}

// Update processes a new GPS measurement and returns the smoothed estimate.
// speedMPS/headingDeg are optional direct measurements (haveSpeedHeading is
// false when absent) blended into the velocity estimate when available.
func (f *Filter) Update(lat, lon float64, tsMs int64, speedMPS, headingDeg float64, haveSpeedHeading bool) Estimate {
	if !f.hasRef {
		f.refLat = lat
		f.refLon = lon
		f.hasRef = true
	}

	zX, zY := f.latLonToLocal(lat, lon)

	if f.st == nil {
		var vx, vy float64
		if haveSpeedHeading {
			vx = speedMPS * math.Sin(headingDeg*math.Pi/180)
			vy = speedMPS * math.Cos(headingDeg*math.Pi/180)
		}
		f.st = &state{
			x: zX, y: zY, vx: vx, vy: vy,
			pX: f.measurementNoise * f.measurementNoise,
			pY: f.measurementNoise * f.measurementNoise,
			pVX: 10.0,
			pVY: 10.0,
			lastTsMs: tsMs,
		}
		sp, hd := 0.0, 0.0
		if haveSpeedHeading {
			sp, hd = speedMPS, headingDeg
		}
		metrics.KalmanUpdates.WithLabelValues(f.vehicleID).Inc()
		return Estimate{Lat: lat, Lon: lon, SpeedMPS: sp, HeadingDeg: hd, IsOutlier: false}
	}

	dt := float64(tsMs-f.st.lastTsMs) / 1000.0
	if dt <= 0 {
		sp, hd := 0.0, 0.0
		if haveSpeedHeading {
			sp, hd = speedMPS, headingDeg
		}
		return Estimate{Lat: lat, Lon: lon, SpeedMPS: sp, HeadingDeg: hd, IsOutlier: true}
	}
	if dt > 10.0 {
		dt = 10.0
	}

	// ===== predict =====
	predX := f.st.x + f.st.vx*dt
	predY := f.st.y + f.st.vy*dt
	predVX := f.st.vx
	predVY := f.st.vy

	q := f.processNoise * dt * dt
	predPX := f.st.pX + f.st.pVX*dt*dt + q
	predPY := f.st.pY + f.st.pVY*dt*dt + q
	predPVX := f.st.pVX + q
	predPVY := f.st.pVY + q

	// ===== innovation =====
	innovX := zX - predX
	innovY := zY - predY
	innovDist := math.Sqrt(innovX*innovX + innovY*innovY)

	metrics.KalmanUpdates.WithLabelValues(f.vehicleID).Inc()

	if innovDist > f.outlierThreshold {
		predLat, predLon := f.localToLatLon(predX, predY)
		speed := math.Sqrt(predVX*predVX + predVY*predVY)
		heading := math.Mod(math.Atan2(predVX, predVY)*180/math.Pi+360, 360)

		f.st.lastTsMs = tsMs
		f.st.x = predX
		f.st.y = predY

		metrics.KalmanOutliersRejected.WithLabelValues(f.vehicleID).Inc()
		return Estimate{Lat: predLat, Lon: predLon, SpeedMPS: speed, HeadingDeg: heading, IsOutlier: true}
	}

	// ===== update =====
	r := f.measurementNoise * f.measurementNoise

	kX := predPX / (predPX + r)
	kY := predPY / (predPY + r)
	kVX := predPVX / (predPVX + r) * 0.5
	kVY := predPVY / (predPVY + r) * 0.5

	f.st.x = predX + kX*innovX
	f.st.y = predY + kY*innovY

	if dt > 0.01 {
		f.st.vx = predVX + kVX*(innovX/dt)
		f.st.vy = predVY + kVY*(innovY/dt)
	} else {
		f.st.vx = predVX
		f.st.vy = predVY
	}

	if haveSpeedHeading {
		measVX := speedMPS * math.Sin(headingDeg*math.Pi/180)
		measVY := speedMPS * math.Cos(headingDeg*math.Pi/180)
		f.st.vx = 0.5*f.st.vx + 0.5*measVX
		f.st.vy = 0.5*f.st.vy + 0.5*measVY
	}

	f.st.pX = (1 - kX) * predPX
	f.st.pY = (1 - kY) * predPY
	f.st.pVX = (1 - kVX) * predPVX
	f.st.pVY = (1 - kVY) * predPVY

	f.st.lastTsMs = tsMs

	smoothLat, smoothLon := f.localToLatLon(f.st.x, f.st.y)
	smoothSpeed := math.Sqrt(f.st.vx*f.st.vx + f.st.vy*f.st.vy)
	smoothHeading := math.Mod(math.Atan2(f.st.vx, f.st.vy)*180/math.Pi+360, 360)

	return Estimate{Lat: smoothLat, Lon: smoothLon, SpeedMPS: smoothSpeed, HeadingDeg: smoothHeading, IsOutlier: false}
}

// Cache is a thread-safe, size-bounded LRU of per-vehicle filters.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	ll       *list.List
	filters  map[string]*list.Element
}

type cacheEntry struct {
	vehicleID string
	filter    *Filter
}

// NewCache constructs a Cache holding at most maxSize filters. maxSize <= 0
// defaults to MaxFilters.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = MaxFilters
	}
	return &Cache{
		maxSize: maxSize,
		ll:      list.New(),
		filters: make(map[string]*list.Element),
	}
}

// Get returns the filter for vehicleID, creating one if absent, and marks
// it as most recently used.
func (c *Cache) Get(vehicleID string) *Filter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.filters[vehicleID]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*cacheEntry).filter
	}

	f := NewFilter(vehicleID)
	el := c.ll.PushFront(&cacheEntry{vehicleID: vehicleID, filter: f})
	c.filters[vehicleID] = el

	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.filters, oldest.Value.(*cacheEntry).vehicleID)
	}

	metrics.KalmanActiveFilters.Set(float64(c.ll.Len()))
	return f
}

// Reset discards the filter for vehicleID, e.g. at race start.
func (c *Cache) Reset(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.filters[vehicleID]; ok {
		c.ll.Remove(el)
		delete(c.filters, vehicleID)
		metrics.KalmanActiveFilters.Set(float64(c.ll.Len()))
	}
}

// Len returns the current number of resident filters.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Smooth is a convenience wrapper combining Get and Update.
func (c *Cache) Smooth(vehicleID string, lat, lon float64, tsMs int64, speedMPS, headingDeg float64, haveSpeedHeading bool) Estimate {
	return c.Get(vehicleID).Update(lat, lon, tsMs, speedMPS, headingDeg, haveSpeedHeading)
}
