// SPDX-License-Identifier: MIT

package kalman

import (
	"math"
	"testing"
)

func TestFilterFirstObservationPassesThrough(t *testing.T) {
	f := NewFilter("veh-1")
	est := f.Update(40.0, -86.0, 1000, 0, 0, false)

	if est.IsOutlier {
		t.Fatalf("first observation must not be flagged as outlier")
	}
	if est.Lat != 40.0 || est.Lon != -86.0 {
		t.Fatalf("first observation should pass through unsmoothed, got lat=%v lon=%v", est.Lat, est.Lon)
	}
}

func TestFilterSmoothsSubsequentObservations(t *testing.T) {
	f := NewFilter("veh-1")
	f.Update(40.0, -86.0, 1000, 0, 0, false)

	// Move a small, physically plausible distance north.
	est := f.Update(40.0001, -86.0, 2000, 0, 0, false)

	if est.IsOutlier {
		t.Fatalf("small consistent movement should not be flagged as outlier")
	}
	if est.SpeedMPS < 0 {
		t.Fatalf("speed must be non-negative, got %v", est.SpeedMPS)
	}
}

func TestFilterRejectsOutlier(t *testing.T) {
	f := NewFilter("veh-1")
	f.Update(40.0, -86.0, 1000, 0, 0, false)

	// A jump of several km in one second is not physically plausible.
	est := f.Update(41.0, -86.0, 2000, 0, 0, false)

	if !est.IsOutlier {
		t.Fatalf("large position jump should be flagged as outlier")
	}
}

func TestFilterNonPositiveDtIsOutlier(t *testing.T) {
	f := NewFilter("veh-1")
	f.Update(40.0, -86.0, 1000, 0, 0, false)

	est := f.Update(40.0, -86.0, 1000, 0, 0, false)
	if !est.IsOutlier {
		t.Fatalf("zero dt must be treated as an outlier/invalid sample")
	}
}

func TestFilterBlendsDirectSpeedHeading(t *testing.T) {
	f := NewFilter("veh-1")
	f.Update(40.0, -86.0, 1000, 10.0, 0.0, true)
	est := f.Update(40.0001, -86.0, 2000, 10.0, 0.0, true)

	if math.IsNaN(est.SpeedMPS) || math.IsNaN(est.HeadingDeg) {
		t.Fatalf("blended speed/heading must not be NaN")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)

	c.Get("a")
	c.Get("b")
	c.Get("a") // touch a, making b the LRU
	c.Get("c") // should evict b

	if c.Len() != 2 {
		t.Fatalf("expected cache size 2, got %d", c.Len())
	}

	if _, ok := c.filters["b"]; ok {
		t.Fatalf("expected b to be evicted as least recently used")
	}
	if _, ok := c.filters["a"]; !ok {
		t.Fatalf("expected a to remain resident")
	}
	if _, ok := c.filters["c"]; !ok {
		t.Fatalf("expected c to remain resident")
	}
}

func TestCacheResetRemovesFilter(t *testing.T) {
	c := NewCache(10)
	c.Get("veh-1")
	c.Reset("veh-1")

	if c.Len() != 0 {
		t.Fatalf("expected cache to be empty after reset, got %d", c.Len())
	}
}
