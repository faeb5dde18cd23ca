package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle of a background execution.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskKilled    TaskState = "killed"
)

// TaskStatus is a point-in-time view of a background task.
type TaskStatus struct {
	ID       string        `json:"id"`
	Tool     string        `json:"tool"`
	State    TaskState     `json:"state"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
	Finished bool          `json:"finished"`
}

type backgroundTask struct {
	status TaskStatus
	cancel context.CancelFunc
}

// BackgroundManager tracks tool executions detached from the turn that
// started them. Tasks survive run cancellation; results are retained
// until Close.
type BackgroundManager struct {
	mu    sync.Mutex
	tasks map[string]*backgroundTask
	wg    sync.WaitGroup
}

// NewBackgroundManager creates an empty manager.
func NewBackgroundManager() *BackgroundManager {
	return &BackgroundManager{tasks: make(map[string]*backgroundTask)}
}

// Start runs an executor in the background and returns its opaque id.
// The execution is detached from the caller's context: cancelling the
// run does not kill it, only Kill or the timeout does.
func (m *BackgroundManager) Start(toolName string, exec Executor, args json.RawMessage, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	id := "task_" + uuid.New().String()[:8]
	task := &backgroundTask{
		status: TaskStatus{ID: id, Tool: toolName, State: TaskRunning, Started: time.Now()},
		cancel: cancel,
	}

	m.mu.Lock()
	m.tasks[id] = task
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		output, err := exec(ctx, args)

		m.mu.Lock()
		defer m.mu.Unlock()
		task.status.Elapsed = time.Since(task.status.Started)
		task.status.Finished = true
		switch {
		case task.status.State == TaskKilled:
			// Kill won the race; keep the state.
		case err != nil:
			task.status.State = TaskFailed
			task.status.Error = err.Error()
		default:
			task.status.State = TaskCompleted
			task.status.Output = TruncateOutput(output, toolName)
		}
	}()

	return id
}

// Status returns the current status of a task.
func (m *BackgroundManager) Status(id string) (TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	s := task.status
	if !s.Finished {
		s.Elapsed = time.Since(s.Started)
	}
	return s, true
}

// Describe renders a task status for the model.
func (m *BackgroundManager) Describe(id string) (string, error) {
	s, ok := m.Status(id)
	if !ok {
		return "", fmt.Errorf("unknown task %q", id)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Kill cancels a running task.
func (m *BackgroundManager) Kill(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task %q", id)
	}
	if !task.status.Finished {
		task.status.State = TaskKilled
	}
	task.cancel()
	return nil
}

// IDs returns the ids of all known tasks.
func (m *BackgroundManager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		out = append(out, id)
	}
	return out
}

// Close cancels everything still running and waits for goroutines to
// drain.
func (m *BackgroundManager) Close() {
	m.mu.Lock()
	for _, task := range m.tasks {
		if !task.status.Finished {
			task.status.State = TaskKilled
		}
		task.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
