package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy controls a bounded retry with a fixed pause between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first. Default: 3.
	MaxAttempts int

	// Backoff is the pause before each retry. Default: 2s.
	Backoff time.Duration

	// ShouldRetry overrides Retryable.
	ShouldRetry func(err error) bool

	// OnRetry is called before each pause with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy is three attempts two seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// FromConfig converts config values to a Policy, keeping defaults for zero values.
func FromConfig(maxAttempts, backoffMillis int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if backoffMillis > 0 {
		p.Backoff = time.Duration(backoffMillis) * time.Millisecond
	}
	return p
}

// Result is the outcome of Do. Err is the last error when every attempt failed.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// Failures counts attempts that returned an error.
func (r Result[T]) Failures() int {
	if r.Err == nil && r.Attempts > 0 {
		return r.Attempts - 1
	}
	return r.Attempts
}

// OK reports success.
func (r Result[T]) OK() bool { return r.Err == nil }

// Do runs op until it succeeds, returns a non-retryable error, the attempts run
// out, or ctx ends. It never persists anything; callers decide what the
// outcome means.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) Result[T] {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}

	var res Result[T]
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		res.Attempts = attempt
		val, err := op(ctx)
		if err == nil {
			res.Value = val
			res.Err = nil
			return res
		}
		res.Err = err

		if ctx.Err() != nil || !shouldRetry(err) || attempt == p.MaxAttempts {
			return res
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res
		case <-timer.C:
		}
	}
	return res
}

// RetryLogger returns an OnRetry callback that logs each failed attempt.
func RetryLogger(log *zap.Logger, operation string) func(int, error) {
	return func(attempt int, err error) {
		log.Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
