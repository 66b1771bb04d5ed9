package cache

import (
	"sync"
	"time"
)

// Cache is a small in-process TTL cache. Entries expire after the TTL
// set at write time; a pinned entry survives until its pin deadline even
// when the TTL has elapsed, which serves the grace window after a
// combine where late status polls must still see the completed state.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	value       V
	expiresAt   time.Time
	pinnedUntil time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		now:     time.Now,
	}
}

// NewWithClock is for tests that need deterministic eviction.
func NewWithClock[V any](now func() time.Time) *Cache[V] {
	c := New[V]()
	c.now = now
	return c
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.entries[key]
	e := &entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	if prev != nil {
		e.pinnedUntil = prev.pinnedUntil
	}
	c.entries[key] = e
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Pin keeps the entry alive until at least now+d, regardless of TTL.
func (c *Cache[V]) Pin(key string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		until := c.now().Add(d)
		if until.After(e.pinnedUntil) {
			e.pinnedUntil = until
		}
	}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep drops every expired, unpinned entry and reports how many went.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	now := c.now()
	if now.Before(e.pinnedUntil) {
		return false
	}
	return now.After(e.expiresAt)
}
