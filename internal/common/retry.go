package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// BackoffStrategy returns the delay to wait after the given failed attempt (1-based).
type BackoffStrategy func(attempt int) time.Duration

// ExponentialBackoff doubles the delay after each attempt, starting at base and capped at maxDelay.
func ExponentialBackoff(base, maxDelay time.Duration) BackoffStrategy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
			if maxDelay > 0 && delay >= maxDelay {
				return maxDelay
			}
		}
		return delay
	}
}

// ConstantBackoff always waits the same delay.
func ConstantBackoff(delay time.Duration) BackoffStrategy {
	return func(int) time.Duration { return delay }
}

// RetryPolicy is the single retry abstraction used for every unreliable dependency.
type RetryPolicy struct {
	Backoff        BackoffStrategy
	IsRetryable    func(error) bool
	Logger         *slog.Logger
	Name           string
	MaxAttempts    int
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 500ms doubling backoff.
func DefaultRetryPolicy(name string) RetryPolicy {
	return RetryPolicy{
		Name:        name,
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(500*time.Millisecond, 10*time.Second),
		IsRetryable: IsRetryable,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out.
// Each attempt gets its own deadline when AttemptTimeout is set.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff(100*time.Millisecond, 30*time.Second)
	}
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.attempt(ctx, op)
		if lastErr == nil {
			return nil
		}

		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		delay := backoff(attempt)
		logger.Warn("operation failed, retrying",
			"operation", p.Name,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, maxAttempts, lastErr)
}

func (p RetryPolicy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
