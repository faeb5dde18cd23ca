package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds how long a single provider is retried before the
// fallback chain moves on. Waits are real durations; a server-sent
// Retry-After longer than MaxDelay aborts the provider instead of
// stalling the whole chain behind it.
type RetryPolicy struct {
	MaxRetries int           // retries after the initial attempt
	BaseDelay  time.Duration // wait before the first retry
	MaxDelay   time.Duration // cap on any single wait
	Multiplier float64       // growth factor between retries
	Jitter     bool
	OnRetry    func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the per-provider policy used by the chain.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     true,
	}
}

// backoff returns the wait before retry attempt n (1-based): BaseDelay
// grown by Multiplier per prior retry, capped at MaxDelay, with ±50%
// jitter when enabled.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	if p.Jitter {
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

// waitFor resolves the wait before retry attempt n, honoring an
// explicit Retry-After on rate limits. ok is false when the provider
// asked to wait longer than the policy tolerates.
func (p RetryPolicy) waitFor(err error, attempt int) (wait time.Duration, ok bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		wait = time.Duration(*rl.RetryAfter * float64(time.Second))
		return wait, wait <= p.MaxDelay
	}
	return p.backoff(attempt), true
}

// Retry runs fn until it succeeds, fails non-retryably, or the attempt
// budget is spent. A cancellation during a wait surfaces as an
// AbortError carrying context.Cause, so callers can tell a run
// deadline from a user cancel.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}

		wait, ok := policy.waitFor(err, attempt+1)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{ClientError: ClientError{
				Message: "retry wait interrupted",
				Cause:   context.Cause(ctx),
			}}
		case <-timer.C:
		}
	}
}
