package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(100*time.Millisecond, time.Second)

	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 200*time.Millisecond, backoff(2))
	assert.Equal(t, 400*time.Millisecond, backoff(3))
	assert.Equal(t, time.Second, backoff(10))
}

func TestRetryPolicy(t *testing.T) {
	fast := RetryPolicy{
		Name:        "test",
		MaxAttempts: 3,
		Backoff:     ConstantBackoff(time.Millisecond),
	}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return ErrUnavailable
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		permanent := NewValidationError("BAD", "bad input", nil)
		err := fast.Do(context.Background(), func(context.Context) error {
			calls++
			return permanent
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, permanent)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		err := fast.Do(context.Background(), func(context.Context) error {
			calls++
			return ErrUnavailable
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("custom retryable predicate", func(t *testing.T) {
		sentinel := errors.New("flaky")
		policy := fast
		policy.IsRetryable = func(err error) bool { return errors.Is(err, sentinel) }

		calls := 0
		err := policy.Do(context.Background(), func(context.Context) error {
			calls++
			return sentinel
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("per attempt timeout is enforced", func(t *testing.T) {
		policy := RetryPolicy{
			MaxAttempts:    2,
			Backoff:        ConstantBackoff(time.Millisecond),
			AttemptTimeout: 20 * time.Millisecond,
		}

		calls := 0
		start := time.Now()
		err := policy.Do(context.Background(), func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		policy := RetryPolicy{MaxAttempts: 5, Backoff: ConstantBackoff(time.Hour)}

		calls := 0
		done := make(chan error, 1)
		go func() {
			done <- policy.Do(ctx, func(context.Context) error {
				calls++
				return ErrUnavailable
			})
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 1, calls)
		case <-time.After(time.Second):
			t.Fatal("retry did not observe cancellation")
		}
	})
}
