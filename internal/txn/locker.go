package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy means another holder owns the lock.
var ErrLockBusy = errors.New("lock is held by another worker")

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Locker grants exclusive, expiring locks. TryLock never waits: a held lock
// returns ErrLockBusy immediately.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}

// MemoryLocker is a process-local Locker. Expired entries are reclaimable.
type MemoryLocker struct {
	held map[string]memoryLock
	now  func() time.Time
	mu   sync.Mutex
}

type memoryLock struct {
	expires time.Time
	token   string
}

// NewMemoryLocker creates an empty lock table.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), now: time.Now}
}

// TryLock acquires key for ttl.
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.held[key]; ok && now.Before(current.expires) {
		return nil, fmt.Errorf("%s: %w", key, ErrLockBusy)
	}

	token := uuid.NewString()
	l.held[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return &memoryUnlocker{locker: l, key: key, token: token}, nil
}

type memoryUnlocker struct {
	locker *MemoryLocker
	key    string
	token  string
}

// Unlock releases the lock if this holder still owns it.
func (u *memoryUnlocker) Unlock(context.Context) error {
	u.locker.mu.Lock()
	defer u.locker.mu.Unlock()

	if current, ok := u.locker.held[u.key]; ok && current.token == u.token {
		delete(u.locker.held, u.key)
	}
	return nil
}

// RedisLocker shares locks across processes through redsync.
type RedisLocker struct {
	redsync *redsync.Redsync
	prefix  string
}

// NewRedisLocker creates a locker on client. Keys are namespaced with prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{
		redsync: redsync.New(goredis.NewPool(client)),
		prefix:  prefix,
	}
}

// TryLock makes a single acquisition attempt.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	mutex := l.redsync.NewMutex(
		l.prefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		// redsync reports contention either as ErrFailed or as a taken error.
		if errors.Is(err, redsync.ErrFailed) ||
			strings.Contains(err.Error(), "lock already taken") ||
			strings.Contains(err.Error(), "failed to acquire lock") {
			return nil, fmt.Errorf("%s: %w", key, ErrLockBusy)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return &redisUnlocker{mutex: mutex}, nil
}

type redisUnlocker struct {
	mutex *redsync.Mutex
}

// Unlock releases the lock. A lock that already expired is not an error.
func (u *redisUnlocker) Unlock(ctx context.Context) error {
	_, err := u.mutex.UnlockContext(ctx)
	if err == nil || errors.Is(err, redsync.ErrLockAlreadyExpired) ||
		strings.Contains(err.Error(), "already expired") {
		return nil
	}
	return fmt.Errorf("release lock: %w", err)
}
