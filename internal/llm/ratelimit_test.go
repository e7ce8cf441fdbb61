package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("burst up to capacity", func(t *testing.T) {
		rl := newRateLimiter(5)
		for i := 0; i < 5; i++ {
			assert.True(t, rl.tryAcquire(), "attempt %d", i+1)
		}
		assert.False(t, rl.tryAcquire())
	})

	t.Run("refills over time", func(t *testing.T) {
		rl := newRateLimiter(60)
		now := time.Now()
		rl.now = func() time.Time { return now }
		rl.lastRefill = now

		for i := 0; i < 60; i++ {
			require.True(t, rl.tryAcquire())
		}
		assert.False(t, rl.tryAcquire())

		now = now.Add(time.Second)
		assert.True(t, rl.tryAcquire(), "one token per second at 60/min")
		assert.False(t, rl.tryAcquire())
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := newRateLimiter(1)
		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := rl.wait(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limiter canceled")
	})

	t.Run("default rate", func(t *testing.T) {
		rl := newRateLimiter(0)
		assert.InDelta(t, 60, rl.capacity, 0.001)
	})
}

func TestResponseCache(t *testing.T) {
	cache := newResponseCache(20 * time.Millisecond)
	defer cache.Close()

	cache.set("k", []byte(`{"a":1}`))
	got, ok := cache.get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(got))

	_, ok = cache.get("missing")
	assert.False(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = cache.get("k")
	assert.False(t, ok, "entries expire after the TTL")

	cache.Close()
	cache.Close()
}
