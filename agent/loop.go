package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/corey-rosamond/Code-Forge-sub005/convo"
	"github.com/corey-rosamond/Code-Forge-sub005/hook"
	"github.com/corey-rosamond/Code-Forge-sub005/llm"
	"github.com/corey-rosamond/Code-Forge-sub005/permission"
	"github.com/corey-rosamond/Code-Forge-sub005/tool"
)

// Config wires the loop's collaborators. Everything is injected; the
// loop builds nothing itself.
type Config struct {
	Client         llm.Client
	Model          string
	Convo          *convo.Manager
	Permissions    *permission.Engine
	Hooks          *hook.Dispatcher
	Gateway        tool.Gateway
	Registry       *tool.Registry
	Background     *tool.BackgroundManager
	Confirmer      permission.Confirmer
	ConfirmTimeout time.Duration
	ToolTimeout    time.Duration
	EventBuffer    int
	Logger         *zap.Logger
}

func (c Config) validate() error {
	switch {
	case c.Client == nil:
		return fmt.Errorf("loop config: model client is required")
	case c.Convo == nil:
		return fmt.Errorf("loop config: conversation manager is required")
	case c.Permissions == nil:
		return fmt.Errorf("loop config: permission engine is required")
	case c.Gateway == nil:
		return fmt.Errorf("loop config: tool gateway is required")
	case c.Registry == nil:
		return fmt.Errorf("loop config: tool registry is required")
	}
	return nil
}

// Loop is the agent execution engine. One Loop serves one run.
type Loop struct {
	cfg     Config
	runID   string
	modes   *ModeStack
	emitter *Emitter
	logger  *zap.Logger

	mu    sync.Mutex
	state State
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := "run_" + uuid.New().String()[:8]
	return &Loop{
		cfg:     cfg,
		runID:   runID,
		modes:   NewModeStack(),
		emitter: NewEmitter(runID, cfg.EventBuffer),
		logger:  logger.With(zap.String("run_id", runID)),
	}, nil
}

// RunID returns the run identifier.
func (l *Loop) RunID() string { return l.runID }

// Events returns the run's event channel.
func (l *Loop) Events() <-chan Event { return l.emitter.Events() }

// Modes returns the loop's mode stack.
func (l *Loop) Modes() *ModeStack { return l.modes }

// State returns the loop's observable execution state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == "" {
		return StateIdle
	}
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.emitter.Emit(EventStateChange, map[string]interface{}{"state": string(s)})
}

// Run executes a task to a terminal status. The error return is for
// misuse only (invalid task or config); every runtime outcome,
// including cancellation and limits, lands in the RunResult.
func (l *Loop) Run(ctx context.Context, task Task) (*RunResult, error) {
	task, err := task.Normalize()
	if err != nil {
		return nil, err
	}
	defer l.emitter.Close()

	if task.ReadOnly {
		l.modes.Push(ModeReadOnly)
	}
	if task.MaxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, task.MaxTime, ErrRunTimeout)
		defer cancel()
	}

	l.emitter.Emit(EventRunStart, map[string]interface{}{"goal": task.Goal})
	l.dispatchHooks(ctx, hook.EventRunStart, hook.Payload{RunID: l.runID})

	l.cfg.Convo.Append(convo.NewUserEntry(task.Prompt()))

	result := &RunResult{RunID: l.runID}
	defer func() {
		result.Entries = l.cfg.Convo.Snapshot()
		l.dispatchHooks(context.WithoutCancel(ctx), hook.EventRunEnd, hook.Payload{RunID: l.runID})
		l.emitter.Emit(EventRunEnd, map[string]interface{}{"status": string(result.Status)})
	}()

	toolDefs := l.toolDefinitions()

	for iter := 1; iter <= task.MaxIterations; iter++ {
		if ctx.Err() != nil {
			l.finishInterrupted(ctx, result)
			return result, nil
		}

		compacted, werr := l.cfg.Convo.CompactIfNeeded(ctx)
		if compacted {
			l.emitter.Emit(EventCompaction, map[string]interface{}{"tokens": l.cfg.Convo.TokenCount()})
			l.dispatchHooks(ctx, hook.EventCompaction, hook.Payload{RunID: l.runID})
		}
		if werr != nil {
			if errors.Is(werr, convo.ErrEntryOverBudget) {
				result.Degraded = true
				l.emitter.Emit(EventWarning, map[string]interface{}{"warning": "context entry truncated to fit budget"})
			} else {
				l.logger.Warn("compaction failed", zap.Error(werr))
			}
		}
		window, _ := l.cfg.Convo.Window(ctx)

		l.setState(StateThinking)
		turn, err := l.completeTurn(ctx, llm.Request{
			Model:      l.cfg.Model,
			Messages:   convo.ToMessages(window.Entries),
			Tools:      toolDefs,
			ToolChoice: "auto",
		})
		if err != nil {
			var abort *llm.AbortError
			if errors.As(err, &abort) || ctx.Err() != nil {
				l.finishInterrupted(ctx, result)
				return result, nil
			}
			l.setState(StateError)
			result.Status = RunError
			result.Reason = "model provider failed: " + err.Error()
			result.Iterations = iter
			return result, nil
		}

		result.Iterations = iter
		result.Usage = result.Usage.Add(turn.Usage)
		l.cfg.Convo.Append(convo.NewAssistantEntry(turn.Text, turn.ToolCalls))

		if len(turn.ToolCalls) == 0 {
			l.setState(StateIdle)
			result.Status = RunCompleted
			result.Reason = "model produced a final answer"
			result.FinalText = turn.Text
			return result, nil
		}

		cancelled := l.resolveToolTurn(ctx, turn.ToolCalls)
		if cancelled {
			l.finishInterrupted(ctx, result)
			return result, nil
		}
	}

	l.setState(StateIdle)
	result.Status = RunMaxIterations
	result.Reason = fmt.Sprintf("stopped after %d iterations", task.MaxIterations)
	return result, nil
}

func (l *Loop) finishInterrupted(ctx context.Context, result *RunResult) {
	if errors.Is(context.Cause(ctx), ErrRunTimeout) {
		l.setState(StateIdle)
		result.Status = RunTimeout
		result.Reason = "run time limit exceeded"
		return
	}
	l.setState(StateCancelled)
	result.Status = RunCancelled
	result.Reason = "cancelled by user"
}

// completeTurn opens a stream through the fallback chain and assembles
// it. A retryable mid-stream failure gets one fresh attempt; open
// failures were already retried inside the chain.
func (l *Loop) completeTurn(ctx context.Context, req llm.Request) (*turnOutcome, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := l.cfg.Client.StreamComplete(ctx, req)
		if err != nil {
			return nil, err
		}
		l.setState(StateStreaming)
		out, err := assembleStream(ctx, ch, func(delta string) {
			l.emitter.Emit(EventAssistantDelta, map[string]interface{}{"delta": delta})
		})
		if err == nil {
			return out, nil
		}
		var abort *llm.AbortError
		if errors.As(err, &abort) || !llm.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		l.logger.Warn("stream broke mid-turn, reopening", zap.Error(err))
	}
	return nil, lastErr
}

// callPlan is one tool call with its resolved admission decision.
type callPlan struct {
	call       llm.ToolCall
	approved   bool
	background bool
	denyReason string
	result     tool.Result
}

// resolveToolTurn runs the full pipeline for one turn's tool calls:
// admission (mode, permission, confirmation, pre-hooks) sequentially,
// execution concurrently, post-hooks and result entries in request
// order. Reports true when the run was cancelled and the in-flight
// results were discarded.
func (l *Loop) resolveToolTurn(ctx context.Context, calls []llm.ToolCall) bool {
	plans := make([]callPlan, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.New().String()[:8]
		}
		plans[i] = l.admit(ctx, call)
	}

	if l.executePlans(ctx, plans) {
		return true
	}

	for i := range plans {
		p := &plans[i]
		if !p.approved {
			l.emitter.Emit(EventPermissionDenied, map[string]interface{}{
				"tool": p.call.Name, "reason": p.denyReason,
			})
			l.cfg.Convo.Append(convo.NewToolResultEntry(p.call.ID, "permission denied: "+p.denyReason, true))
			continue
		}
		l.dispatchHooks(ctx, hook.EventPostToolUse, hook.Payload{
			RunID:   l.runID,
			Tool:    p.call.Name,
			Args:    p.call.Arguments,
			Output:  p.result.Content,
			IsError: p.result.IsError,
		})
		l.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"tool": p.call.Name, "is_error": p.result.IsError, "timed_out": p.result.TimedOut,
		})
		l.cfg.Convo.Append(convo.NewToolResultEntry(p.call.ID, p.result.Content, p.result.IsError))
	}
	return false
}

// admit decides whether one call may execute: mode stack first, then
// the permission engine (with bounded confirmation for ask), then
// pre-action hooks, any of which can block.
func (l *Loop) admit(ctx context.Context, call llm.ToolCall) callPlan {
	plan := callPlan{call: call}

	if l.modes.Current().restrictsWrites() && !l.cfg.Registry.IsReadOnly(call.Name) {
		plan.denyReason = fmt.Sprintf("tool %q is not allowed in %s mode", call.Name, l.modes.Current())
		return plan
	}

	action := permission.Action{Tool: call.Name, ArgSummary: summarizeArgs(call)}
	d := l.cfg.Permissions.Decide(action)
	if d.Status == permission.StatusAsk {
		l.setState(StateWaitingPermission)
		l.emitter.Emit(EventWaitingPermission, map[string]interface{}{"action": action.Descriptor()})
		d = l.cfg.Permissions.ResolveAsk(ctx, action, d, l.cfg.Confirmer, l.cfg.ConfirmTimeout)
	}
	if d.Status != permission.StatusAllowed {
		plan.denyReason = d.Reason
		return plan
	}

	results := l.dispatchHooks(ctx, hook.EventPreToolUse, hook.Payload{
		RunID: l.runID,
		Tool:  call.Name,
		Args:  call.Arguments,
	})
	if blocked, ok := hook.Blocked(results); ok {
		plan.denyReason = "blocked by hook " + blocked.Hook + ": " + blocked.Message
		return plan
	}

	plan.approved = true
	plan.background = wantsBackground(call)
	return plan
}

// executePlans runs approved calls concurrently. Execution contexts
// are detached from the run context: a user cancel lets in-flight
// tools run to their own timeout, then the results are discarded.
// Reports true when the run was cancelled.
func (l *Loop) executePlans(ctx context.Context, plans []callPlan) bool {
	l.setState(StateToolExecution)
	execCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := range plans {
		p := &plans[i]
		if !p.approved {
			continue
		}
		l.emitter.Emit(EventToolCallStart, map[string]interface{}{"tool": p.call.Name})
		g.Go(func() error {
			if p.background {
				p.result = l.startBackground(p.call)
				return nil
			}
			p.result = l.cfg.Gateway.Invoke(execCtx, p.call.Name, p.call.Arguments, l.cfg.ToolTimeout)
			return nil
		})
	}
	_ = g.Wait()

	return ctx.Err() != nil
}

func (l *Loop) startBackground(call llm.ToolCall) tool.Result {
	reg := l.cfg.Registry.Get(call.Name)
	if reg == nil || l.cfg.Background == nil {
		return tool.Result{Name: call.Name, Content: "background execution is not available", IsError: true}
	}
	id := l.cfg.Background.Start(call.Name, reg.Executor, call.Arguments, l.cfg.ToolTimeout)
	return tool.Result{
		Name:    call.Name,
		Content: fmt.Sprintf("started background task %s; poll with task_status", id),
	}
}

func (l *Loop) dispatchHooks(ctx context.Context, event string, payload hook.Payload) []hook.Result {
	if l.cfg.Hooks == nil {
		return nil
	}
	return l.cfg.Hooks.Dispatch(ctx, event, payload)
}

func (l *Loop) toolDefinitions() []llm.ToolDefinition {
	defs := l.cfg.Registry.Definitions()
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return out
}

// summaryKeys are tried in order when building the canonical argument
// summary that permission rules match against.
var summaryKeys = []string{"command", "path", "pattern", "task_id"}

const maxArgSummary = 120

// summarizeArgs renders a tool call as the argument summary used in
// rule descriptors, e.g. shell(rm -rf /) or read_file(main.go).
func summarizeArgs(call llm.ToolCall) string {
	args, err := tool.ParseArgs(call.Arguments)
	if err == nil {
		for _, key := range summaryKeys {
			if v, ok := tool.StringArg(args, key); ok && v != "" {
				return clip(v, maxArgSummary)
			}
		}
	}
	return clip(string(call.Arguments), maxArgSummary)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func wantsBackground(call llm.ToolCall) bool {
	var probe struct {
		RunInBackground bool `json:"run_in_background"`
	}
	if err := json.Unmarshal(call.Arguments, &probe); err != nil {
		return false
	}
	return probe.RunInBackground
}
