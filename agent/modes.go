package agent

import "sync"

// Mode tags a frame on the loop's mode stack.
type Mode string

const (
	ModeDefault  Mode = "default"
	ModeReadOnly Mode = "read_only"
	ModePlan     Mode = "plan"
)

// restrictsWrites reports whether the mode admits only read-only tools.
func (m Mode) restrictsWrites() bool {
	return m == ModeReadOnly || m == ModePlan
}

// ModeStack is the loop's explicit stack of execution modes. The top
// frame governs tool admission; the stack never empties below the
// default frame.
type ModeStack struct {
	mu     sync.Mutex
	frames []Mode
}

// NewModeStack creates a stack with the default frame.
func NewModeStack() *ModeStack {
	return &ModeStack{frames: []Mode{ModeDefault}}
}

// Push adds a mode frame.
func (s *ModeStack) Push(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, m)
}

// Pop removes the top frame. The default frame is never popped.
func (s *ModeStack) Pop() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) <= 1 {
		return s.frames[0]
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

// Current returns the governing mode.
func (s *ModeStack) Current() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

// Depth returns the stack depth.
func (s *ModeStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}
