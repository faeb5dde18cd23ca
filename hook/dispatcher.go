package hook

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher fans matching hooks out concurrently and aggregates their
// results in definition order.
type Dispatcher struct {
	store         *Store
	runner        Runner
	maxConcurrent int
	logger        *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxConcurrent bounds how many hooks run at once. By default every
// matching hook gets its own goroutine, keeping the dispatch wall-clock
// at the slowest single budget; an explicit bound trades that guarantee
// for a cap on spawned processes.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher over the given store and runner.
func NewDispatcher(store *Store, runner Runner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		runner: runner,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every hook matching the event. Each hook gets its own
// timeout; a timed-out hook yields a timeout result without delaying
// the others, so the aggregate wall-clock tracks the slowest single
// budget. Failures are logged and non-blocking. Results come back in
// definition order.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload Payload) []Result {
	defs := d.store.Matching(event)
	if len(defs) == 0 {
		return nil
	}
	payload.Event = event

	results := make([]Result, len(defs))
	g, ctx := errgroup.WithContext(ctx)
	limit := d.maxConcurrent
	if limit <= 0 || limit > len(defs) {
		limit = len(defs)
	}
	g.SetLimit(limit)

	for i, def := range defs {
		g.Go(func() error {
			results[i] = d.runOne(ctx, def, payload)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r.Status {
		case StatusFailure:
			d.logger.Warn("hook failed",
				zap.String("hook", r.Hook),
				zap.String("event", event),
				zap.String("message", r.Message))
		case StatusTimeout:
			d.logger.Warn("hook timed out",
				zap.String("hook", r.Hook),
				zap.String("event", event),
				zap.Duration("elapsed", r.Elapsed))
		}
	}
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, def Definition, payload Payload) Result {
	hctx, cancel := context.WithTimeout(ctx, def.EffectiveTimeout())
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		r, _ := d.runner.Run(hctx, def, payload)
		done <- r
	}()

	// A runner that ignores its context must not stall the dispatch
	// past the hook's budget.
	select {
	case r := <-done:
		r.Elapsed = time.Since(start)
		return r
	case <-hctx.Done():
		return Result{
			Hook:    def.Name,
			Status:  StatusTimeout,
			Message: "hook timed out",
			Elapsed: time.Since(start),
		}
	}
}
