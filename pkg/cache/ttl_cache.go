// Package cache provides a generic in-memory TTL cache.
//
// Entries expire a fixed duration after they are written. Expired entries are
// never returned by Get; they are removed from the map by a background sweep,
// and the optional eviction callback fires at that moment. The notification
// dispatcher relies on the callback to dismiss popups once their lifetime is
// over.
//
// The cache is safe for concurrent use.
package cache

import (
	"sync"
	"time"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	// EvictExpired: the entry outlived its TTL and was swept.
	EvictExpired EvictReason = iota
	// EvictDeleted: the entry was removed with Delete, DeleteFunc or Clear.
	EvictDeleted
)

// entry is one cached value and its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a generic in-memory TTL cache.
//
//	c := cache.New[string, int](5*time.Second, time.Second)
//	c.Set("key", 42)
//	val, ok := c.Get("key")
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration
	now     func() time.Time

	onEvict func(key K, value V, reason EvictReason)

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// New creates a TTLCache and starts the sweep goroutine.
//
// cleanupInterval controls how late after expiry an entry is physically
// removed (and its eviction callback fired). It should be well below ttl.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries:     make(map[K]entry[V]),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()

	return c
}

// OnEvict registers fn to be called after an entry leaves the cache.
// fn runs outside the cache lock, so it may call back into the cache.
func (c *TTLCache[K, V]) OnEvict(fn func(key K, value V, reason EvictReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// TTL returns the lifetime given to every entry.
func (c *TTLCache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key and returns its expiry time.
func (c *TTLCache[K, V]) Set(key K, value V) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: expiresAt,
	}
	return expiresAt
}

// Delete removes key and reports whether a live entry was removed.
// The eviction callback fires with EvictDeleted for live entries only.
func (c *TTLCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	live := ok && c.now().Before(e.expiresAt)
	delete(c.entries, key)
	fn := c.onEvict
	c.mu.Unlock()

	if live && fn != nil {
		fn(key, e.value, EvictDeleted)
	}
	return live
}

// DeleteFunc removes every entry whose key matches predicate.
func (c *TTLCache[K, V]) DeleteFunc(predicate func(key K) bool) {
	c.mu.Lock()
	removed := make(map[K]V)
	for key, e := range c.entries {
		if predicate(key) {
			removed[key] = e.value
			delete(c.entries, key)
		}
	}
	fn := c.onEvict
	c.mu.Unlock()

	if fn != nil {
		for key, value := range removed {
			fn(key, value, EvictDeleted)
		}
	}
}

// Values returns the live values. Order is unspecified.
func (c *TTLCache[K, V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			out = append(out, e.value)
		}
	}
	return out
}

// Clear empties the cache.
func (c *TTLCache[K, V]) Clear() {
	c.DeleteFunc(func(K) bool { return true })
}

// Len returns the number of entries, expired ones not yet swept included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (c *TTLCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// evictExpired removes expired entries and fires the eviction callback for
// each of them.
func (c *TTLCache[K, V]) evictExpired() {
	c.mu.Lock()
	now := c.now()
	var expired []K
	var values []V
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			expired = append(expired, key)
			values = append(values, e.value)
			delete(c.entries, key)
		}
	}
	fn := c.onEvict
	c.mu.Unlock()

	if fn != nil {
		for i, key := range expired {
			fn(key, values[i], EvictExpired)
		}
	}
}
