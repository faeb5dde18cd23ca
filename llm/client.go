package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Client is implemented by every model-provider backend. Streaming is
// the only request path: callers that need a blocking completion drain
// the stream with Collect.
type Client interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// StreamComplete sends a request and returns a channel of stream
	// events. The channel is closed after a finish or error event.
	StreamComplete(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Collect drains a stream into a fully assembled Response. Text deltas
// and tool-call fragments are accumulated; a finish event's Response
// wins when present.
func Collect(ctx context.Context, c Client, req Request) (*Response, error) {
	ch, err := c.StreamComplete(ctx, req)
	if err != nil {
		return nil, err
	}

	var text string
	pending := map[int]*ToolCall{}
	var order []int
	var final *Response

	for ev := range ch {
		switch ev.Type {
		case StreamTextDelta:
			text += ev.Delta
		case StreamToolFragment:
			f := ev.Fragment
			tc, ok := pending[f.Index]
			if !ok {
				tc = &ToolCall{}
				pending[f.Index] = tc
				order = append(order, f.Index)
			}
			if f.ID != "" {
				tc.ID = f.ID
			}
			if f.Name != "" {
				tc.Name = f.Name
			}
			tc.Arguments = append(tc.Arguments, []byte(f.ArgumentsDelta)...)
		case StreamFinish:
			final = ev.Response
		case StreamError:
			return nil, ev.Err
		}
	}

	if final != nil {
		return final, nil
	}

	// No finish event arrived; assemble from what we saw.
	resp := &Response{
		Provider:     c.Name(),
		Model:        req.Model,
		Text:         text,
		FinishReason: FinishStop,
	}
	for _, idx := range order {
		resp.ToolCalls = append(resp.ToolCalls, *pending[idx])
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishToolCalls
	}
	return resp, nil
}

// Fallback tries an ordered list of providers, each with its own
// bounded retry, and returns the first stream that opens successfully.
// Non-retryable errors still advance to the next provider; the run
// fails only when every provider is exhausted.
type Fallback struct {
	clients []Client
	policy  RetryPolicy
	logger  *zap.Logger
}

// NewFallback builds a fallback chain over the given providers, in order.
func NewFallback(policy RetryPolicy, logger *zap.Logger, clients ...Client) (*Fallback, error) {
	if len(clients) == 0 {
		return nil, &ConfigurationError{ClientError: ClientError{Message: "fallback chain requires at least one provider"}}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{clients: clients, policy: policy, logger: logger}, nil
}

// Name returns the name of the first provider in the chain.
func (f *Fallback) Name() string {
	return f.clients[0].Name()
}

// Providers returns the provider names in consultation order.
func (f *Fallback) Providers() []string {
	names := make([]string, len(f.clients))
	for i, c := range f.clients {
		names[i] = c.Name()
	}
	return names
}

// StreamComplete opens a stream against the first provider that
// succeeds within its retry budget.
func (f *Fallback) StreamComplete(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	var failures []error
	for _, c := range f.clients {
		if ctx.Err() != nil {
			return nil, &AbortError{ClientError: ClientError{Message: "request cancelled", Cause: ctx.Err()}}
		}

		policy := f.policy
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			f.logger.Debug("retrying provider",
				zap.String("provider", c.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		ch, err := Retry(ctx, policy, func(ctx context.Context) (<-chan StreamEvent, error) {
			return c.StreamComplete(ctx, req)
		})
		if err == nil {
			return ch, nil
		}

		var abort *AbortError
		if errors.As(err, &abort) {
			return nil, err
		}

		f.logger.Warn("provider failed, trying next",
			zap.String("provider", c.Name()),
			zap.Error(err))
		failures = append(failures, fmt.Errorf("%s: %w", c.Name(), err))
	}
	return nil, fmt.Errorf("all providers exhausted: %w", errors.Join(failures...))
}
