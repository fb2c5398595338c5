package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart         EventKind = "session_start"
	EventSessionEnd           EventKind = "session_end"
	EventAssistantText        EventKind = "assistant_text"
	EventToolCallStart        EventKind = "tool_call_start"
	EventToolCallEnd          EventKind = "tool_call_end"
	EventBudgetExhausted      EventKind = "budget_exhausted"
	EventLoopDetection        EventKind = "loop_detection"
	EventSelfHealingTriggered EventKind = "self_healing_triggered"
	EventRepairOutcome        EventKind = "repair_outcome"
	EventWarning              EventKind = "warning"
	EventError                EventKind = "error"
)

// Event is a typed observability event emitted by the agent core. Events
// never affect control flow or return values.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a buffered
// channel. It is handed to a session once at construction; emission is
// decoupled from every call signature.
type EventEmitter struct {
	sessionID string
	ch        chan Event
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// Emit sends an event to the channel. A closed emitter drops the event; a
// full channel drops it rather than blocking the loop.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
