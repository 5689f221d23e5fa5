// SPDX-License-Identifier: MIT

// Package pubsub is the real-time distribution engine's event bus: an
// in-process, channel-based publish/subscribe fan-out with a bounded
// per-event replay buffer so a reconnecting viewer can resume from its
// Last-Event-ID instead of falling back to a full snapshot.
package pubsub

import (
	"sync"
	"time"

	"github.com/waystellar/racecloud/internal/metrics"
)

// Event types emitted on the distribution bus. These are exactly the
// canonical SSE event types a viewer connection delivers.
const (
	Connected  = "connected"
	Snapshot   = "snapshot"
	Position   = "position"
	Checkpoint = "checkpoint"
	Permission = "permission"
	Heartbeat  = "heartbeat"
)

// DefaultReplayCapacity bounds how many events are retained per event_id
// for Last-Event-ID replay.
const DefaultReplayCapacity = 1000

// DefaultReplayTTL bounds how long a buffered event remains eligible for
// replay regardless of buffer occupancy.
const DefaultReplayTTL = 2 * time.Hour

// subscriberBufferSize is the per-subscriber channel depth; once a slow
// consumer falls this far behind, each newly published event is dropped for
// it rather than blocking the publisher.
const subscriberBufferSize = 64

// Message is a single event delivered on the bus, carrying the monotonic
// per-event sequence number SSE clients echo back as Last-Event-ID.
type Message struct {
	Seq   int64
	Type  string
	Data  any
	TsMs  int64
}

type subscriber struct {
	id int64
	ch chan Message
}

type eventState struct {
	mu          sync.Mutex
	nextSeq     int64
	subscribers map[int64]*subscriber
	replay      []Message
}

// Bus fans published events out to every live subscriber of an event_id and
// retains a bounded replay window per event_id.
type Bus struct {
	mu             sync.Mutex
	events         map[string]*eventState
	replayCapacity int
	replayTTL      time.Duration
	nextSubID      int64
}

// New constructs a Bus with the given replay capacity and TTL. Zero values
// fall back to DefaultReplayCapacity/DefaultReplayTTL.
func New(replayCapacity int, replayTTL time.Duration) *Bus {
	if replayCapacity <= 0 {
		replayCapacity = DefaultReplayCapacity
	}
	if replayTTL <= 0 {
		replayTTL = DefaultReplayTTL
	}
	return &Bus{
		events:         make(map[string]*eventState),
		replayCapacity: replayCapacity,
		replayTTL:      replayTTL,
	}
}

func (b *Bus) stateFor(eventID string) *eventState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.events[eventID]
	if !ok {
		st = &eventState{subscribers: make(map[int64]*subscriber)}
		b.events[eventID] = st
	}
	return st
}

// Subscription is a live subscriber's read-only channel and its detach
// function. Callers must call Close when done, typically via defer.
type Subscription struct {
	C     <-chan Message
	Close func()
}

// Subscribe registers a new subscriber for eventID and returns its channel.
func (b *Bus) Subscribe(eventID string) Subscription {
	st := b.stateFor(eventID)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.mu.Unlock()

	sub := &subscriber{id: id, ch: make(chan Message, subscriberBufferSize)}

	st.mu.Lock()
	st.subscribers[id] = sub
	st.mu.Unlock()

	metrics.PubSubSubscribers.Inc()

	closed := false
	var closeMu sync.Mutex
	closeFn := func() {
		closeMu.Lock()
		defer closeMu.Unlock()
		if closed {
			return
		}
		closed = true
		st.mu.Lock()
		delete(st.subscribers, id)
		st.mu.Unlock()
		close(sub.ch)
		metrics.PubSubSubscribers.Dec()
	}

	return Subscription{C: sub.ch, Close: closeFn}
}

// Publish assigns the next monotonic sequence number for eventID, appends
// the message to the replay buffer, and delivers it to every live
// subscriber. A subscriber whose channel is full (a slow consumer) has the
// message dropped for it rather than blocking the publisher.
func (b *Bus) Publish(eventID, eventType string, data any, tsMs int64) Message {
	st := b.stateFor(eventID)

	st.mu.Lock()
	st.nextSeq++
	msg := Message{Seq: st.nextSeq, Type: eventType, Data: data, TsMs: tsMs}

	st.replay = append(st.replay, msg)
	b.trimReplayLocked(st, tsMs)

	subs := make([]*subscriber, 0, len(st.subscribers))
	for _, sub := range st.subscribers {
		subs = append(subs, sub)
	}
	st.mu.Unlock()

	metrics.PubSubPublished.WithLabelValues(eventType).Inc()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			metrics.PubSubDropped.WithLabelValues(eventType).Inc()
		}
	}

	return msg
}

// trimReplayLocked enforces the replay capacity and TTL. Callers must hold
// st.mu.
func (b *Bus) trimReplayLocked(st *eventState, nowMs int64) {
	if len(st.replay) > b.replayCapacity {
		st.replay = st.replay[len(st.replay)-b.replayCapacity:]
	}

	cutoff := nowMs - b.replayTTL.Milliseconds()
	i := 0
	for i < len(st.replay) && st.replay[i].TsMs < cutoff {
		i++
	}
	if i > 0 {
		st.replay = st.replay[i:]
	}
}

// Replay returns every buffered message for eventID with Seq > lastSeq, in
// ascending order. ok is false if no replay buffer exists at all for
// eventID yet (the caller should fall back to a full snapshot).
func (b *Bus) Replay(eventID string, lastSeq int64) (msgs []Message, ok bool) {
	b.mu.Lock()
	st, exists := b.events[eventID]
	b.mu.Unlock()
	if !exists {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.replay) == 0 {
		return nil, false
	}

	// If the oldest buffered message is itself newer than lastSeq+1, the
	// gap has already fallen out of the replay window: the caller must
	// fall back to a snapshot rather than deliver a partial replay.
	if st.replay[0].Seq > lastSeq+1 {
		return nil, false
	}

	for _, m := range st.replay {
		if m.Seq > lastSeq {
			msgs = append(msgs, m)
			metrics.PubSubReplayed.WithLabelValues(m.Type).Inc()
		}
	}
	return msgs, true
}
