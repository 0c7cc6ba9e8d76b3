// Package eventbus implements the typed, synchronous event fan-out (C8).
// Grounded on this codebase's events/bus package (Event/NewEvent/
// Subscription shape), adapted from its async-goroutine-per-listener
// dispatch and NATS-style string topics to the synchronous, strictly
// typed dispatch spec.md requires, with deterministic subscription
// handles instead of garbage-collection-based listener lifecycles.
package eventbus

import (
	"sync"
	"time"

	"github.com/kandev/session-core/internal/corelog"
)

// Type identifies an event variant in the catalogue from spec §4.8.
type Type string

const (
	SessionStarted       Type = "SESSION_STARTED"
	SessionSwitched      Type = "SESSION_SWITCHED"
	SessionPaused        Type = "SESSION_PAUSED"
	SessionResumed       Type = "SESSION_RESUMED"
	SessionCompleted     Type = "SESSION_COMPLETED"
	SessionAborted       Type = "SESSION_ABORTED"
	UserMessageToSession Type = "USER_MESSAGE_TO_SESSION"
	SubagentMessageToUser Type = "SUBAGENT_MESSAGE_TO_USER"

	SubagentStart               Type = "START"
	SubagentRoundStart          Type = "ROUND_START"
	SubagentStreamText          Type = "STREAM_TEXT"
	SubagentToolCall            Type = "TOOL_CALL"
	SubagentToolResult          Type = "TOOL_RESULT"
	SubagentToolWaitingApproval Type = "TOOL_WAITING_APPROVAL"
	SubagentRoundEnd            Type = "ROUND_END"
	SubagentFinish              Type = "FINISH"
	SubagentError               Type = "ERROR"
)

// Event is a tagged-union record. SessionID and Timestamp are carried by
// every event (where applicable); Data holds the type-specific payload.
type Event struct {
	Type      Type
	SessionID string
	Timestamp time.Time
	Data      interface{}
}

// New builds an Event with the current time, per NewEvent's role in the
// teacher's bus package generalized to this typed variant.
func New(t Type, sessionID string, data interface{}) Event {
	return Event{Type: t, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

// Handler receives a dispatched event. Handlers run synchronously on the
// emitting goroutine; a panicking or slow handler must not be assumed
// not to block siblings, per spec's "handlers are expected to be fast".
type Handler func(Event)

// Subscription is returned by Subscribe; its Unsubscribe detaches the
// handler deterministically. Spec: "do not rely on garbage collection."
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus *Bus
	id  uint64
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

type listener struct {
	id      uint64
	handler Handler
}

// Bus is the C8 event bus: typed, synchronous, fan-out to any number of
// listeners, invoked in subscription order on the emitter's caller thread.
type Bus struct {
	mu        sync.Mutex
	listeners []listener
	nextID    uint64
	logger    *corelog.Logger
}

// NewBus builds an event bus.
func NewBus(logger *corelog.Logger) *Bus {
	if logger == nil {
		logger = corelog.Default()
	}
	return &Bus{logger: logger.Child(map[string]interface{}{"component": "eventbus"})}
}

// Subscribe registers handler for every event published on the bus and
// returns a handle whose Unsubscribe detaches it.
func (b *Bus) Subscribe(handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listener{id: id, handler: handler})
	return &subscription{bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Publish dispatches event to every current listener, synchronously, in
// subscription order, on the caller's goroutine. A listener's panic is
// caught, logged, and does not abort the emission loop (spec's
// catch-and-log listener exception policy).
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		b.dispatchSafely(l, event)
	}
}

func (b *Bus) dispatchSafely(l listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", nil, map[string]interface{}{
				"event_type": string(event.Type),
				"session_id": event.SessionID,
				"recovered":  r,
			}, nil)
		}
	}()
	l.handler(event)
}
