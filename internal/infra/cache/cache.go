// Package cache is a small in-memory TTL cache. The guard keeps hot
// spend-limit rows in it so the authorize path skips the store on repeat
// traffic from the same agent. A Redis-backed variant could replace it
// without touching callers.
package cache

import (
	"sync"
	"time"
)

type item[T any] struct {
	value    T
	deadline time.Time
}

// InMemory is a concurrency-safe cache where every entry lives for a
// fixed TTL from its last Set.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]item[T]
	ttl   time.Duration
}

// New creates the cache and starts a janitor goroutine that sweeps
// expired entries once per TTL period.
func New[T any](ttl time.Duration) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]item[T]),
		ttl:   ttl,
	}
	go c.janitor()
	return c
}

// Get returns the cached value, or false when absent or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !time.Now().Before(it.deadline) {
		var zero T
		return zero, false
	}
	return it.value, true
}

// Set stores value under key for the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	c.items[key] = item[T]{value: value, deadline: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete evicts key immediately. Used to invalidate after limit updates.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *InMemory[T]) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for now := range ticker.C {
		c.mu.Lock()
		for k, it := range c.items {
			if now.After(it.deadline) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}
