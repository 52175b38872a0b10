package worker

import (
	"context"
	"time"
)

// Executor retries user-triggered foreground actions a bounded number of
// times with linear backoff. Unlike the background queue it blocks the
// caller and returns a single outcome; the delays are short because a
// user is waiting. Stateless between calls; safe for concurrent use.
type Executor struct {
	MaxAttempts int
	FixedDelay  time.Duration
}

// NewExecutor returns an executor with the default 3 attempts and 500ms
// base delay.
func NewExecutor() *Executor {
	return &Executor{MaxAttempts: 3, FixedDelay: 500 * time.Millisecond}
}

// Run attempts action up to MaxAttempts times, waiting attempt·FixedDelay
// between tries. The first success wins. Auth and permanent failures are
// surfaced immediately: waiting will not fix a rejected credential or a
// malformed request.
func (e *Executor) Run(ctx context.Context, action func(ctx context.Context) error) error {
	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := e.FixedDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = action(ctx)
		if lastErr == nil {
			return nil
		}

		switch Classify(lastErr) {
		case AuthFailure, Permanent, NotImplemented:
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * delay):
		}
	}
	return lastErr
}

// RunResult is Run for actions that produce a value.
func RunResult[T any](ctx context.Context, e *Executor, action func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Run(ctx, func(ctx context.Context) error {
		var actionErr error
		result, actionErr = action(ctx)
		return actionErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
