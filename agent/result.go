package agent

import (
	"errors"

	"github.com/corey-rosamond/Code-Forge-sub005/convo"
	"github.com/corey-rosamond/Code-Forge-sub005/llm"
)

// State is the loop's observable execution state.
type State string

const (
	StateIdle              State = "idle"
	StateThinking          State = "thinking"
	StateStreaming         State = "streaming"
	StateToolExecution     State = "tool_execution"
	StateWaitingPermission State = "waiting_permission"
	StateError             State = "error"
	StateCancelled         State = "cancelled"
)

// RunStatus is how a run terminated. Terminal statuses are result
// fields, never Go errors: a cancelled or limit-stopped run is a
// normal outcome with partial progress attached.
type RunStatus string

const (
	RunCompleted     RunStatus = "completed"
	RunMaxIterations RunStatus = "stopped:max_iterations"
	RunTimeout       RunStatus = "stopped:timeout"
	RunCancelled     RunStatus = "cancelled"
	RunError         RunStatus = "error"
)

// ErrRunTimeout marks the run deadline as the cancellation cause,
// distinguishing it from a user cancel.
var ErrRunTimeout = errors.New("run time limit exceeded")

// RunResult is the outcome of one Run call. Entries always hold the
// full conversation accumulated before termination.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Status     RunStatus     `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	FinalText  string        `json:"final_text,omitempty"`
	Entries    []convo.Entry `json:"entries"`
	Usage      llm.Usage     `json:"usage"`
	Iterations int           `json:"iterations"`
	// Degraded is set when the context budget forced entry truncation.
	Degraded bool `json:"degraded,omitempty"`
}
