// SPDX-License-Identifier: MIT

// Package collector implements the edge uplink engine's multi-source
// fan-in: it subscribes to the local GPS, vehicle-bus, and heart-rate
// producers, stamps liveness per source, and hands every sample to the
// durable queue before acknowledging the producer.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/waystellar/racecloud/internal/log"
	"github.com/waystellar/racecloud/internal/queue"
)

// Liveness describes how recently a source has produced a sample.
type Liveness int

const (
	LivenessNoData Liveness = iota
	LivenessActive
	LivenessStale
)

func (l Liveness) String() string {
	switch l {
	case LivenessActive:
		return "active"
	case LivenessStale:
		return "stale"
	default:
		return "no_data"
	}
}

// staleAfter is the window within which a source is still considered
// active; older than this and it degrades to stale.
const staleAfter = 15 * time.Second

// DeviceStatus is the operator-facing hardware status string, surfaced
// without hiding whether a source is real, synthetic, or absent.
type DeviceStatus string

const (
	DeviceConnected DeviceStatus = "connected"
	DeviceMissing   DeviceStatus = "missing"
	DeviceSimulated DeviceStatus = "simulated"
	DeviceTimeout   DeviceStatus = "timeout"
)

// Sample is a single record from a local producer: GPS, vehicle-bus (CAN),
// or heart-rate. Payload is the source-specific JSON body the uploader
// later routes into the positions or telemetry array. The collector writes
// only Source and Payload to the durable queue, so TsMs and IsSimulated are
// not uploaded and the simulation marker does not reach the cloud.
type Sample struct {
	Source      string // "positions" or "telemetry"
	TsMs        int64
	IsSimulated bool
	Payload     json.RawMessage
}

// Source is a local producer the collector subscribes to. Subscribe
// returns a channel of samples that closes when the producer disconnects;
// Status reports the producer's current DeviceStatus.
type Source interface {
	Name() string
	Status() DeviceStatus
	Subscribe(ctx context.Context) (<-chan Sample, error)
}

// sourceState tracks per-source liveness bookkeeping.
type sourceState struct {
	mu       sync.RWMutex
	lastSeen time.Time
	status   DeviceStatus
}

func (s *sourceState) touch(status DeviceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	s.status = status
}

func (s *sourceState) liveness() Liveness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSeen.IsZero() {
		return LivenessNoData
	}
	if time.Since(s.lastSeen) <= staleAfter {
		return LivenessActive
	}
	return LivenessStale
}

func (s *sourceState) currentStatus() DeviceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return DeviceMissing
	}
	return s.status
}

// Collector fans in every registered Source, enqueueing each received
// sample to the durable queue and tracking per-source liveness.
type Collector struct {
	q       *queue.Queue
	sources []Source
	states  map[string]*sourceState
}

// New constructs a Collector over the given durable queue and sources.
func New(q *queue.Queue, sources ...Source) *Collector {
	states := make(map[string]*sourceState, len(sources))
	for _, s := range sources {
		states[s.Name()] = &sourceState{}
	}
	return &Collector{q: q, sources: sources, states: states}
}

// Run subscribes to every source and blocks, enqueueing samples until ctx
// is cancelled or all sources disconnect.
func (c *Collector) Run(ctx context.Context) error {
	logger := log.WithTraceContext(ctx)

	var wg sync.WaitGroup
	for _, src := range c.sources {
		src := src
		state := c.states[src.Name()]
		state.touch(src.Status())

		ch, err := src.Subscribe(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("source", src.Name()).Msg("collector: source subscribe failed")
			state.touch(DeviceTimeout)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.drain(ctx, src, state, ch)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (c *Collector) drain(ctx context.Context, src Source, state *sourceState, ch <-chan Sample) {
	logger := log.WithTraceContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ch:
			if !ok {
				return
			}
			state.touch(src.Status())

			if err := c.q.Enqueue(ctx, sample.Source, sample.Payload); err != nil {
				logger.Error().Err(err).Str("source", src.Name()).Msg("collector: enqueue failed")
			}
		}
	}
}

// Liveness reports the current liveness classification for a named source,
// defaulting to no_data if the source is unknown.
func (c *Collector) Liveness(name string) Liveness {
	state, ok := c.states[name]
	if !ok {
		return LivenessNoData
	}
	return state.liveness()
}

// Status reports the current operator-facing device status for a named
// source.
func (c *Collector) Status(name string) DeviceStatus {
	state, ok := c.states[name]
	if !ok {
		return DeviceMissing
	}
	return state.currentStatus()
}

// ErrNoRealHardware is returned by a Source implementation's Subscribe when
// it cannot reach real hardware and simulation has not been explicitly
// enabled by an operator flag. A source must never silently synthesize
// data: phantom telemetry is a correctness hazard, not a convenience.
var ErrNoRealHardware = fmt.Errorf("collector: no real hardware connected and simulation not enabled")
