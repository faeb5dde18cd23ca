// Package audit records permission decisions to an append-only sink.
package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindDenied         Kind = "denied"
	KindConfirmTimeout Kind = "confirm_timeout"
)

// Event is one audited decision.
type Event struct {
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Rule        string    `json:"rule,omitempty"`
	RuleVersion int       `json:"rule_version"`
	Reason      string    `json:"reason"`
}

// Sink receives audit events.
type Sink interface {
	Record(Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(Event) error { return nil }

// FileSink appends events as JSON lines.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) the audit log at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Record(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MemorySink retains events in memory. Intended for tests and for
// hosts that render the audit trail themselves.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Record(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
