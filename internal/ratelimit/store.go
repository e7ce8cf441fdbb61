// Package ratelimit implements the layered request throttling and daily quota guard.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore holds windowed counters. The first Increment of a key starts its window;
// the counter disappears when the window expires. Counters never go negative.
//
// A store is created at process start and closed at shutdown. MemoryStore serves a
// single instance; RedisStore shares counters across instances.
type CounterStore interface {
	// Increment adds one to key and returns the new count and the time left in its window.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	// Get returns the current count for key and the time left in its window,
	// or zeros when the key is absent or expired.
	Get(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
	// Reset removes key.
	Reset(ctx context.Context, key string) error
	// Close releases resources held by the store.
	Close() error
}

type counter struct {
	expires time.Time
	count   int64
}

// MemoryStore is an in-process CounterStore.
type MemoryStore struct {
	now       func() time.Time
	counters  map[string]*counter
	stopCh    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewMemoryStore creates a store and starts a janitor that drops expired counters.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		now:      time.Now,
		counters: make(map[string]*counter),
		stopCh:   make(chan struct{}),
	}

	go s.cleanup(cleanupInterval)

	return s
}

// Increment implements CounterStore.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(window)}
		s.counters[key] = c
	}
	c.count++

	return c.count, c.expires.Sub(now), nil
}

// Get implements CounterStore.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expires) {
		return 0, 0, nil
	}
	return c.count, c.expires.Sub(now), nil
}

// Reset implements CounterStore.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return nil
}

// size returns the number of live and not-yet-collected counters.
func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, c := range s.counters {
				if !now.Before(c.expires) {
					delete(s.counters, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
