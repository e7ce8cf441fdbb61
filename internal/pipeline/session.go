package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Session remembers a command waiting on the operator to pick a counterparty.
type Session struct {
	CreatedAt      time.Time            `json:"created_at"`
	Message        string               `json:"message"`
	Field          string               `json:"field"`
	Candidates     []model.Candidate    `json:"candidates"`
	Classification model.Classification `json:"classification"`
}

// SessionStore holds at most one pending session per caller.
type SessionStore interface {
	Put(ctx context.Context, caller string, s Session, ttl time.Duration) error
	// Take returns and removes the caller's session, or nil when none is pending.
	Take(ctx context.Context, caller string) (*Session, error)
}

type memorySession struct {
	expires time.Time
	session Session
}

// MemorySessions is an in-process SessionStore.
type MemorySessions struct {
	now      func() time.Time
	sessions map[string]memorySession
	mu       sync.Mutex
}

// NewMemorySessions creates an empty store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{now: time.Now, sessions: make(map[string]memorySession)}
}

// Put implements SessionStore.
func (m *MemorySessions) Put(_ context.Context, caller string, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, v := range m.sessions {
		if now.After(v.expires) {
			delete(m.sessions, k)
		}
	}
	m.sessions[caller] = memorySession{session: s, expires: now.Add(ttl)}
	return nil
}

// Take implements SessionStore.
func (m *MemorySessions) Take(_ context.Context, caller string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[caller]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, caller)
	if m.now().After(entry.expires) {
		return nil, nil
	}
	return &entry.session, nil
}

// RedisSessions shares sessions across instances.
type RedisSessions struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessions wraps an existing client.
func NewRedisSessions(client redis.UniversalClient, prefix string) *RedisSessions {
	if prefix == "" {
		prefix = "books:session:"
	}
	return &RedisSessions{client: client, prefix: prefix}
}

// Put implements SessionStore.
func (r *RedisSessions) Put(ctx context.Context, caller string, s Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+caller, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Take implements SessionStore.
func (r *RedisSessions) Take(ctx context.Context, caller string) (*Session, error) {
	data, err := r.client.GetDel(ctx, r.prefix+caller).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis take session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
