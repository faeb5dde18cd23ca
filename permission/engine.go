package permission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/corey-rosamond/Code-Forge-sub005/audit"
)

// Confirmer answers ask decisions. Implementations block until the
// user responds or ctx expires; the engine bounds the wait.
type Confirmer interface {
	Confirm(ctx context.Context, action Action, d Decision) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, action Action, d Decision) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, action Action, d Decision) (bool, error) {
	return f(ctx, action, d)
}

// DefaultConfirmTimeout bounds how long an ask decision waits for the
// user before escalating to denied.
const DefaultConfirmTimeout = 60 * time.Second

// Engine evaluates actions against the live rule snapshot.
type Engine struct {
	store      *Store
	askDefault bool
	sink       audit.Sink
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAskDefault makes unmatched actions escalate to ask instead of
// being denied outright.
func WithAskDefault(on bool) EngineOption {
	return func(e *Engine) { e.askDefault = on }
}

// WithAuditSink sets the audit sink for denied and timed-out decisions.
func WithAuditSink(s audit.Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over the given store.
func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		sink:   audit.NopSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates an action: deny rules first, then allow, then ask,
// each bucket ordered by priority desc and specificity desc. The first
// match wins. Unmatched actions are denied, or escalated to ask when
// the engine is configured ask-by-default. Pure with respect to the
// snapshot: two calls against the same version return the same result.
func (e *Engine) Decide(action Action) Decision {
	set := e.store.Snapshot()
	desc := action.Descriptor()

	for _, bucket := range []struct {
		rules  []compiledRule
		status Status
	}{
		{set.deny, StatusDenied},
		{set.allow, StatusAllowed},
		{set.ask, StatusAsk},
	} {
		for i := range bucket.rules {
			cr := &bucket.rules[i]
			if cr.matcher.Match(desc) {
				d := Decision{
					Status:      bucket.status,
					Rule:        &cr.Rule,
					RuleVersion: set.Version,
					Reason:      "matched " + string(cr.Kind) + " rule " + cr.Pattern,
				}
				if d.Status == StatusDenied {
					e.record(audit.KindDenied, action, d)
				}
				return d
			}
		}
	}

	if e.askDefault {
		return Decision{Status: StatusAsk, RuleVersion: set.Version, Reason: "no matching rule; ask by default"}
	}
	d := Decision{Status: StatusDenied, RuleVersion: set.Version, Reason: "no matching rule; denied by default"}
	e.record(audit.KindDenied, action, d)
	return d
}

// ResolveAsk runs the bounded confirmation flow for an ask decision.
// A timeout or confirmer failure escalates to denied and is audited.
func (e *Engine) ResolveAsk(ctx context.Context, action Action, d Decision, confirmer Confirmer, timeout time.Duration) Decision {
	if confirmer == nil {
		out := d
		out.Status = StatusDenied
		out.Reason = "confirmation required but no confirmer configured"
		e.record(audit.KindDenied, action, out)
		return out
	}
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	approved, err := confirmer.Confirm(ctx, action, d)
	if err != nil {
		out := d
		if ctx.Err() != nil {
			out.Status = StatusTimedOut
			out.Reason = "confirmation timed out; denied"
			e.record(audit.KindConfirmTimeout, action, out)
		} else {
			out.Status = StatusDenied
			out.Reason = "confirmation failed: " + err.Error()
			e.record(audit.KindDenied, action, out)
		}
		return out
	}

	out := d
	if approved {
		out.Status = StatusAllowed
		out.Reason = "approved by user"
	} else {
		out.Status = StatusDenied
		out.Reason = "rejected by user"
		e.record(audit.KindDenied, action, out)
	}
	return out
}

func (e *Engine) record(kind audit.Kind, action Action, d Decision) {
	rule := ""
	if d.Rule != nil {
		rule = d.Rule.Pattern
	}
	ev := audit.Event{
		Time:        time.Now(),
		Kind:        kind,
		Action:      action.Descriptor(),
		Status:      string(d.Status),
		Rule:        rule,
		RuleVersion: d.RuleVersion,
		Reason:      d.Reason,
	}
	if err := e.sink.Record(ev); err != nil {
		e.logger.Warn("audit record failed", zap.Error(err))
	}
}
