package txn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockers(t *testing.T) {
	lockers := map[string]func(t *testing.T) Locker{
		"memory": func(*testing.T) Locker { return NewMemoryLocker() },
		"redis": func(t *testing.T) Locker {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisLocker(client, "books:lock:")
		},
	}

	for name, newLocker := range lockers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLocker(t)

			first, err := l.TryLock(ctx, "ledger:hdfc", time.Minute)
			require.NoError(t, err)

			_, err = l.TryLock(ctx, "ledger:hdfc", time.Minute)
			assert.ErrorIs(t, err, ErrLockBusy)

			other, err := l.TryLock(ctx, "ledger:acme", time.Minute)
			require.NoError(t, err, "keys are independent")
			require.NoError(t, other.Unlock(ctx))

			require.NoError(t, first.Unlock(ctx))

			again, err := l.TryLock(ctx, "ledger:hdfc", time.Minute)
			require.NoError(t, err)
			require.NoError(t, again.Unlock(ctx))
		})
	}
}

func TestMemoryLocker_ExpiredLockIsReclaimable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	stale, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	require.NoError(t, stale.Unlock(ctx))
	_, err = l.TryLock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, fresh.Unlock(ctx))
}

func TestRedisLocker_ExpiredLockIsReclaimable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	l := NewRedisLocker(client, "")

	stale, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	assert.NoError(t, stale.Unlock(ctx), "releasing an expired lock is not an error")
	_, err = l.TryLock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, fresh.Unlock(ctx))
}

func TestMemoryLocker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLocker().TryLock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
