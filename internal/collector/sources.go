// SPDX-License-Identifier: MIT

package collector

import (
	"context"
	"encoding/json"
	"time"
)

// SimulatedSource generates synthetic samples at a fixed rate, used only
// when an operator has explicitly enabled simulation — e.g. bench-testing
// the edge pipeline without a vehicle attached. Every sample it emits
// carries IsSimulated=true and the source reports DeviceSimulated; the
// collector does not write the marker into the queued payload, so it is not
// stored by the cloud.
type SimulatedSource struct {
	name     string
	kind     string // "positions" or "telemetry"
	interval time.Duration
	next     func(tsMs int64) json.RawMessage
}

// NewSimulatedSource constructs a SimulatedSource. next builds the payload
// for a given synthetic timestamp.
func NewSimulatedSource(name, kind string, interval time.Duration, next func(tsMs int64) json.RawMessage) *SimulatedSource {
	return &SimulatedSource{name: name, kind: kind, interval: interval, next: next}
}

func (s *SimulatedSource) Name() string        { return s.name }
func (s *SimulatedSource) Status() DeviceStatus { return DeviceSimulated }

// Subscribe starts emitting synthetic samples on the returned channel until
// ctx is cancelled.
func (s *SimulatedSource) Subscribe(ctx context.Context) (<-chan Sample, error) {
	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tsMs := time.Now().UnixMilli()
				sample := Sample{
					Source:      s.kind,
					TsMs:        tsMs,
					IsSimulated: true,
					Payload:     s.next(tsMs),
				}
				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
