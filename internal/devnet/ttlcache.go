package devnet

import (
	"sync"
	"time"

	"github.com/i5heu/ouroboros-vault/pkg/session"
)

// ttlCache remembers keys for a fixed time. Expired entries are evicted
// inline on every write.
type ttlCache[V any] struct {
	mu      sync.Mutex
	entries map[string]ttlEntry[V]
	ttl     time.Duration
	clock   session.Clock
}

type ttlEntry[V any] struct {
	value V
	added time.Time
}

func newTTLCache[V any](ttl time.Duration, clock session.Clock) *ttlCache[V] {
	return &ttlCache[V]{
		entries: make(map[string]ttlEntry[V]),
		ttl:     ttl,
		clock:   clock,
	}
}

// Put records key and returns true if it was not present.
func (c *ttlCache[V]) Put(key string, value V) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanup()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = ttlEntry[V]{value: value, added: c.clock.Now()}
	return true
}

// Get returns the value stored under key if it has not expired.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Take is Get followed by removal. A key can be taken once.
func (c *ttlCache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	delete(c.entries, key)
	if !ok || c.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len returns the number of live entries.
func (c *ttlCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup()
	return len(c.entries)
}

func (c *ttlCache[V]) expired(e ttlEntry[V]) bool {
	return e.added.Before(c.clock.Now().Add(-c.ttl))
}

// cleanup evicts expired entries. Must be called with mu held.
func (c *ttlCache[V]) cleanup() {
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}
}
