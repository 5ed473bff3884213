// Package cache provides a bounded canonicalising cache over weak handles.
//
// The cache never keeps a value alive. Callers own the strong handles;
// the cache hands out new strong handles while at least one caller still
// holds the value, and forgets the entry once the value has been dropped.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"rcgraph/pkg/logger"
	"rcgraph/pkg/memory"
)

// Stats counts cache lookups and entry removals.
type Stats struct {
	Hits    int64 `yaml:"hits"`
	Misses  int64 `yaml:"misses"`
	Expired int64 `yaml:"expired"`
	Evicted int64 `yaml:"evicted"`
}

// WeakCache maps keys to weak handles in an LRU of fixed capacity. Every
// entry leaving the LRU (capacity, Remove, Purge, expiry or replacement)
// has its weak handle released.
//
// The cache is safe for concurrent use. Values allocated in
// SingleThreaded mode must still only be touched by their owning
// goroutine.
type WeakCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries *lru.Cache[K, *memory.Weak[V]]
	lggr    logger.Logger

	hits, misses     atomic.Int64
	expired, evicted atomic.Int64
}

// New creates a cache holding at most size entries.
func New[K comparable, V any](size int, lggr logger.Logger) (*WeakCache[K, V], error) {
	if lggr == nil {
		lggr = logger.Nop()
	}
	c := &WeakCache[K, V]{lggr: lggr.Named("cache")}
	entries, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create weak cache of size %d: %w", size, err)
	}
	c.entries = entries
	return c, nil
}

func (c *WeakCache[K, V]) onEvict(key K, w *memory.Weak[V]) {
	c.evicted.Add(1)
	freed := w.Release()
	c.lggr.Debugw("cache entry released", "key", key, "freed", freed)
}

// Put stores a weak reference to value under key, replacing any previous
// entry. The caller keeps ownership of value.
func (c *WeakCache[K, V]) Put(key K, value *memory.Strong[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value)
}

func (c *WeakCache[K, V]) put(key K, value *memory.Strong[V]) {
	c.entries.Remove(key)
	c.entries.Add(key, value.Downgrade())
}

// Get returns a new strong handle for key if the value is still alive.
// An entry whose value has been dropped is removed and counts as a miss.
func (c *WeakCache[K, V]) Get(key K) (*memory.Strong[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *WeakCache[K, V]) get(key K) (*memory.Strong[V], bool) {
	w, ok := c.entries.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	s, ok := w.Upgrade()
	if !ok {
		c.expired.Add(1)
		c.misses.Add(1)
		c.lggr.Debugw("cache entry expired", "key", key)
		c.entries.Remove(key)
		return nil, false
	}
	c.hits.Add(1)
	return s, true
}

// GetOrCreate returns the live value for key, or stores and returns the
// result of create. The returned handle belongs to the caller either way.
// create runs with the cache locked and must not use the cache.
func (c *WeakCache[K, V]) GetOrCreate(key K, create func() *memory.Strong[V]) *memory.Strong[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.get(key); ok {
		return s
	}
	s := create()
	c.put(key, s)
	return s
}

// Remove drops the entry for key, reporting whether it was present.
func (c *WeakCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(key)
}

// Len returns the number of entries, including ones whose values have
// been dropped but not yet looked up.
func (c *WeakCache[K, V]) Len() int {
	return c.entries.Len()
}

// Purge removes every entry.
func (c *WeakCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns a copy of the cache counters.
func (c *WeakCache[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Expired: c.expired.Load(),
		Evicted: c.evicted.Load(),
	}
}
