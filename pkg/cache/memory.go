package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// memoryEntry is the internal structure stored in the insertion-order list.
type memoryEntry[V any] struct {
	key      string
	value    V
	expireAt time.Time
}

// MemoryCache is a thread-safe, bounded, in-process cache with per-entry
// TTL expiry. When the cache is over capacity the oldest-inserted entry is
// evicted; unlike an LRU, reads do not refresh an entry's position, so
// eviction order is purely insertion order. Expired entries are purged
// lazily on read.
type MemoryCache[V any] struct {
	maxSize int
	ttl     time.Duration

	mu      sync.Mutex
	ll      *list.List               // Tracks insertion order; newest at the front.
	entries map[string]*list.Element // Fast key lookups.
}

// NewMemoryCache creates a bounded in-process cache.
//   - maxSize: maximum number of entries. Must be > 0.
//   - ttl: lifetime of each entry from the moment it is set. Must be > 0.
func NewMemoryCache[V any](maxSize int, ttl time.Duration) (*MemoryCache[V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be greater than 0")
	}
	return &MemoryCache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}, nil
}

// Get returns the value for key and whether it is present. An entry past
// its expireAt is removed and reported as absent.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*memoryEntry[V])
	if time.Now().After(entry.expireAt) {
		c.ll.Remove(elem)
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key with the cache's TTL. Replacing an existing
// key counts as a fresh insertion for eviction purposes. If the cache is
// over capacity the oldest-inserted entries are evicted until it is not.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.ll.Remove(elem)
		delete(c.entries, key)
	}

	entry := &memoryEntry[V]{key: key, value: value, expireAt: time.Now().Add(c.ttl)}
	c.entries[key] = c.ll.PushFront(entry)

	for c.ll.Len() > c.maxSize {
		c.evictOldest()
	}
}

// Delete removes key if present.
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.ll.Remove(elem)
		delete(c.entries, key)
	}
}

// Len reports the number of entries, including any not yet lazily purged.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// evictOldest removes the oldest-inserted entry. Must be called with the
// mutex held.
func (c *MemoryCache[V]) evictOldest() {
	elem := c.ll.Back()
	if elem == nil {
		return
	}
	entry := c.ll.Remove(elem).(*memoryEntry[V])
	delete(c.entries, entry.key)
}
