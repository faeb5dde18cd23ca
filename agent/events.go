package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart          EventKind = "run_start"
	EventRunEnd            EventKind = "run_end"
	EventStateChange       EventKind = "state_change"
	EventAssistantDelta    EventKind = "assistant_delta"
	EventToolCallStart     EventKind = "tool_call_start"
	EventToolCallEnd       EventKind = "tool_call_end"
	EventPermissionDenied  EventKind = "permission_denied"
	EventWaitingPermission EventKind = "waiting_permission"
	EventCompaction        EventKind = "compaction"
	EventWarning           EventKind = "warning"
)

// Event is a typed notification emitted while a run executes. Hosts
// observe runs through the event channel without touching loop state.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter delivers events to the host over a buffered channel. When
// the buffer is full the event is dropped rather than stalling the
// loop.
type Emitter struct {
	runID  string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(runID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		runID: runID,
		ch:    make(chan Event, bufferSize),
	}
}

// Emit sends an event. Safe after Close; late events are dropped.
func (e *Emitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Data:      data,
	}
	select {
	case e.ch <- ev:
	default:
		// Buffer full; drop rather than block the loop.
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
