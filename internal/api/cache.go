// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"time"

	"github.com/waystellar/racecloud/internal/cache"
	"github.com/waystellar/racecloud/internal/store"
)

// policyCacheTTL and positionCacheTTL bound how stale a cached policy set
// or snapshot of latest positions is allowed to get before the viewer
// surface falls back to the store again. Both are short: field-level
// sharing policy and position data both change during a live event.
const (
	policyCacheTTL   = 30 * time.Second
	positionCacheTTL = 2 * time.Second
)

// cachedPolicies resolves a vehicle's field-level sharing policies through
// c, falling back to the store on a miss and populating c on the way back.
// c may be nil, in which case this always reads through to the store.
func cachedPolicies(ctx context.Context, c cache.Cache, s *store.Store, eventID, vehicleID string) (map[string]store.TelemetryPolicy, error) {
	key := "policy:" + eventID + ":" + vehicleID
	if c != nil {
		if v, ok := c.Get(key); ok {
			if pol, ok := cache.Decode[map[string]store.TelemetryPolicy](v); ok {
				return pol, nil
			}
		}
	}

	pol, err := s.PoliciesForVehicle(ctx, eventID, vehicleID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		c.Set(key, pol, policyCacheTTL)
	}
	return pol, nil
}

// cachedLatestPositions resolves an event's latest known positions through
// c, falling back to the store on a miss and populating c on the way back.
// c may be nil, in which case this always reads through to the store.
func cachedLatestPositions(ctx context.Context, c cache.Cache, s *store.Store, eventID string) ([]store.Position, error) {
	key := "positions:" + eventID
	if c != nil {
		if v, ok := c.Get(key); ok {
			if pos, ok := cache.Decode[[]store.Position](v); ok {
				return pos, nil
			}
		}
	}

	pos, err := s.LatestPositionsForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		c.Set(key, pos, positionCacheTTL)
	}
	return pos, nil
}
