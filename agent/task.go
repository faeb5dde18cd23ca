// Package agent runs the execution loop: it streams model turns,
// resolves tool calls through permissions and hooks, manages the
// conversation budget, and terminates with an explicit run status.
package agent

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxIterations bounds a run when the task does not set one.
const DefaultMaxIterations = 25

// Task describes one unit of work for the loop.
type Task struct {
	Goal          string        `json:"goal"`
	Attachments   []string      `json:"attachments,omitempty"` // file paths added to the first user entry
	MaxIterations int           `json:"max_iterations,omitempty"`
	MaxTime       time.Duration `json:"max_time,omitempty"`
	ReadOnly      bool          `json:"read_only,omitempty"`
}

// Normalize applies defaults and validates the task.
func (t Task) Normalize() (Task, error) {
	if strings.TrimSpace(t.Goal) == "" {
		return t, fmt.Errorf("task goal is empty")
	}
	if t.MaxIterations < 0 {
		return t, fmt.Errorf("max_iterations must be non-negative")
	}
	if t.MaxIterations == 0 {
		t.MaxIterations = DefaultMaxIterations
	}
	return t, nil
}

// Prompt renders the goal plus attachment references as the first user
// entry.
func (t Task) Prompt() string {
	if len(t.Attachments) == 0 {
		return t.Goal
	}
	var sb strings.Builder
	sb.WriteString(t.Goal)
	sb.WriteString("\n\nAttached files:\n")
	for _, a := range t.Attachments {
		sb.WriteString("- " + a + "\n")
	}
	return sb.String()
}
