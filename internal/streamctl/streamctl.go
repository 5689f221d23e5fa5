// SPDX-License-Identifier: MIT

// Package streamctl implements the per-vehicle stream control state machine.
// It decides when a vehicle's camera feed should be starting, streaming, or
// stopped; actually issuing the RTMP/FFmpeg command to the edge is a
// collaborator's concern reached through Dispatch.
package streamctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waystellar/racecloud/internal/pubsub"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateStreaming    State = "streaming"
	StateStopping     State = "stopping"
	StateError        State = "error"
)

type Event string

const (
	EventStart        Event = "start"
	EventStop         Event = "stop"
	EventEdgeAckOK    Event = "edge_ack_success"
	EventEdgeAckFail  Event = "edge_ack_fail"
	EventTimeout      Event = "timeout"
	EventRetry        Event = "retry"
)

// heartbeatGrace is the freshness window retry() uses to decide whether a
// vehicle recovering from ERROR should land in IDLE or DISCONNECTED.
const heartbeatGrace = 30 * time.Second

// ReasonEdgeTimeout is the fixed error reason a poller-driven timeout carries.
const ReasonEdgeTimeout = "EDGE_TIMEOUT"

// ErrInvalidTransition is returned when an event is not accepted in the
// machine's current state.
type ErrInvalidTransition struct {
	State State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("streamctl: event %q not accepted in state %q", e.Event, e.State)
}

// Command is the instruction handed to the edge-side collaborator once a
// transition authorizes it. Dispatch, not this package, turns it into an
// actual FFmpeg invocation.
type Command struct {
	CommandID string
	VehicleID string
	SourceID  string
	Issued    State // state the command was issued from: starting or stopping
}

// Dispatch is implemented by the edge-command collaborator. Machine calls it
// synchronously from within Start/Stop so the caller can observe dispatch
// failures before the transition is considered to have taken effect.
type Dispatch func(ctx context.Context, cmd Command) error

// Machine is a single vehicle's stream control state machine. It is safe for
// concurrent use; stop() in particular may legitimately race with a
// different controller's start() or stop() for the same vehicle.
type Machine struct {
	mu sync.Mutex

	eventID   string
	vehicleID string
	bus       *pubsub.Bus
	dispatch  Dispatch

	state         State
	commandID     string
	sourceID      string
	reason        string
	lastHeartbeat time.Time
}

// New creates a machine for one vehicle within one event, starting
// DISCONNECTED. bus receives a "stream_state" event on every transition;
// dispatch is invoked synchronously for start/stop commands.
func New(eventID, vehicleID string, bus *pubsub.Bus, dispatch Dispatch) *Machine {
	return &Machine{
		eventID:   eventID,
		vehicleID: vehicleID,
		bus:       bus,
		dispatch:  dispatch,
		state:     StateDisconnected,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Heartbeat records that the edge device was heard from at now, used by
// Retry to decide whether a recovering machine belongs in IDLE or
// DISCONNECTED.
func (m *Machine) Heartbeat(now time.Time) {
	m.mu.Lock()
	m.lastHeartbeat = now
	m.mu.Unlock()
}

// Start is accepted only from IDLE. It mints a fresh command ID, dispatches
// a start command for sourceID, and transitions to STARTING.
func (m *Machine) Start(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		err := &ErrInvalidTransition{State: m.state, Event: EventStart}
		m.mu.Unlock()
		return err
	}
	cmdID := uuid.NewString()
	m.mu.Unlock()

	cmd := Command{CommandID: cmdID, VehicleID: m.vehicleID, SourceID: sourceID, Issued: StateStarting}
	if m.dispatch != nil {
		if err := m.dispatch(ctx, cmd); err != nil {
			return fmt.Errorf("streamctl: dispatch start: %w", err)
		}
	}

	m.mu.Lock()
	if m.state != StateIdle {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("streamctl: concurrent transition: expected idle, found %s", cur)
	}
	m.commandID = cmdID
	m.sourceID = sourceID
	m.reason = ""
	m.transitionLocked(StateStarting)
	m.mu.Unlock()
	return nil
}

// Stop is accepted from any active state (STARTING, STREAMING, STOPPING is
// a no-op re-issue) regardless of which controller originally started the
// stream; any controller may stop what another started.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateStarting, StateStreaming:
	case StateStopping:
		m.mu.Unlock()
		return nil
	default:
		err := &ErrInvalidTransition{State: m.state, Event: EventStop}
		m.mu.Unlock()
		return err
	}
	cmdID := uuid.NewString()
	sourceID := m.sourceID
	m.mu.Unlock()

	cmd := Command{CommandID: cmdID, VehicleID: m.vehicleID, SourceID: sourceID, Issued: StateStopping}
	if m.dispatch != nil {
		if err := m.dispatch(ctx, cmd); err != nil {
			return fmt.Errorf("streamctl: dispatch stop: %w", err)
		}
	}

	m.mu.Lock()
	m.commandID = cmdID
	m.transitionLocked(StateStopping)
	m.mu.Unlock()
	return nil
}

// EdgeAck reports the edge device's response to the command currently in
// flight. success in STARTING moves to STREAMING, in STOPPING moves to
// IDLE; failure always moves to ERROR with reason.
func (m *Machine) EdgeAck(success bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !success {
		m.reason = reason
		m.transitionLocked(StateError)
		return nil
	}

	switch m.state {
	case StateStarting:
		m.transitionLocked(StateStreaming)
	case StateStopping:
		m.sourceID = ""
		m.transitionLocked(StateIdle)
	default:
		return &ErrInvalidTransition{State: m.state, Event: EventEdgeAckOK}
	}
	return nil
}

// Timeout is fired by a poller that has stopped hearing from the edge
// device; it always lands in ERROR with ReasonEdgeTimeout.
func (m *Machine) Timeout() {
	m.mu.Lock()
	m.reason = ReasonEdgeTimeout
	m.transitionLocked(StateError)
	m.mu.Unlock()
}

// Retry clears ERROR, landing in IDLE if a heartbeat was seen within
// heartbeatGrace, otherwise DISCONNECTED.
func (m *Machine) Retry(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError {
		return &ErrInvalidTransition{State: m.state, Event: EventRetry}
	}
	m.reason = ""
	if !m.lastHeartbeat.IsZero() && now.Sub(m.lastHeartbeat) <= heartbeatGrace {
		m.transitionLocked(StateIdle)
	} else {
		m.transitionLocked(StateDisconnected)
	}
	return nil
}

// transitionLocked applies the new state and publishes a state-change
// event. Caller must hold m.mu.
func (m *Machine) transitionLocked(to State) {
	m.state = to
	if m.bus == nil {
		return
	}
	m.bus.Publish(m.eventID, "stream_state", map[string]any{
		"vehicle_id": m.vehicleID,
		"state":      to,
		"command_id": m.commandID,
		"reason":     m.reason,
	}, time.Now().UnixMilli())
}
