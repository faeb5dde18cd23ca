package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInvokeTimeout bounds a tool call when the caller passes none.
const DefaultInvokeTimeout = 2 * time.Minute

// Result is the outcome of one tool invocation.
type Result struct {
	Name     string        `json:"name"`
	Content  string        `json:"content"`
	IsError  bool          `json:"is_error"`
	TimedOut bool          `json:"timed_out"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Gateway dispatches tool invocations. The agent loop talks only to
// this interface, never to executors directly.
type Gateway interface {
	Invoke(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) Result
}

// LocalGateway resolves tools from a Registry and runs them in-process.
type LocalGateway struct {
	registry *Registry
	logger   *zap.Logger
}

// NewLocalGateway creates a LocalGateway.
func NewLocalGateway(registry *Registry, logger *zap.Logger) *LocalGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalGateway{registry: registry, logger: logger}
}

// Invoke runs a tool under the given timeout. Unknown tools, executor
// errors, panics, and timeouts all come back as error results rather
// than Go errors: the conversation absorbs them as failed tool calls.
func (g *LocalGateway) Invoke(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) Result {
	start := time.Now()

	t := g.registry.Get(name)
	if t == nil {
		return Result{Name: name, Content: fmt.Sprintf("unknown tool %q", name), IsError: true, Elapsed: time.Since(start)}
	}

	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		content, err := t.Executor(tctx, args)
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			g.logger.Debug("tool failed",
				zap.String("tool", name),
				zap.Error(out.err),
				zap.Duration("elapsed", elapsed))
			return Result{Name: name, Content: out.err.Error(), IsError: true, Elapsed: elapsed}
		}
		return Result{Name: name, Content: TruncateOutput(out.content, name), Elapsed: elapsed}
	case <-tctx.Done():
		elapsed := time.Since(start)
		g.logger.Warn("tool timed out",
			zap.String("tool", name),
			zap.Duration("timeout", timeout))
		return Result{
			Name:     name,
			Content:  fmt.Sprintf("tool %q timed out after %s", name, timeout),
			IsError:  true,
			TimedOut: true,
			Elapsed:  elapsed,
		}
	}
}
