package llm

import (
	"encoding/json"
	"sync"
	"time"
)

type cacheEntry struct {
	expiry time.Time
	value  json.RawMessage
}

// responseCache holds structured replies keyed by caller-chosen keys.
type responseCache struct {
	entries   map[string]cacheEntry
	stopCh    chan struct{}
	closeOnce sync.Once
	ttl       time.Duration
	mu        sync.RWMutex
}

func newResponseCache(ttl time.Duration) *responseCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	cache := &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup(5 * time.Minute)

	return cache
}

func (c *responseCache) get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false
	}
	return entry.value, true
}

func (c *responseCache) set(key string, value json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		value:  append(json.RawMessage(nil), value...),
		expiry: time.Now().Add(c.ttl),
	}
}

func (c *responseCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *responseCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *responseCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}
