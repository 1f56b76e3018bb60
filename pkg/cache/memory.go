package cache

import (
	"sync"
	"time"

	"github.com/Neil2813/Nexus/errors"
)

// Memory is the bounded in-process cache. A single mutex guards the entry
// map and is held only for the duration of one operation.
type Memory[V any] struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	entries    map[string]*Entry[V]
	seq        uint64

	now     Clock
	stats   *Statistics   // ALWAYS initialized
	metrics *cacheMetrics // optional
	evictFn EvictCallback[V]
}

// NewMemory creates a memory cache. Non-positive arguments fall back to
// DefaultMaxSize and DefaultTTL.
func NewMemory[V any](maxSize int, defaultTTL time.Duration, options ...Option[V]) (*Memory[V], error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	c := &Memory[V]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*Entry[V], maxSize),
		now:        time.Now,
		stats:      NewStatistics(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewMemory", "apply option")
		}
	}
	return c, nil
}

// Get returns the live value for key and refreshes its access time.
// An expired entry is removed and reported as a miss.
func (c *Memory[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	now := c.now()
	entry, ok := c.entries[key]
	if ok && entry.expired(now) {
		delete(c.entries, key)
		ok = false
	}
	if ok {
		c.touch(entry, now)
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.record(ok, size)
	if !ok {
		return zero, false
	}
	return entry.Value, true
}

// Set stores value under key for ttl, or the default TTL when ttl <= 0.
// Inserting a new key into a full cache first evicts the least recently
// accessed entry.
func (c *Memory[V]) Set(key string, value V, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	now := c.now()
	var evicted *Entry[V]
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		evicted = c.evictOldest()
	}

	entry := &Entry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.touch(entry, now)
	c.entries[key] = entry
	size := len(c.entries)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}

	if evicted != nil {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
		if c.evictFn != nil {
			c.evictFn(evicted.Key, evicted.Value)
		}
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (c *Memory[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()

	if ok {
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.recordDelete()
			c.metrics.updateSize(size)
		}
	}
	return ok
}

// Clear removes every entry.
func (c *Memory[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry[V], c.maxSize)
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
}

// Size returns the number of stored entries, including expired ones that
// have not been touched yet.
func (c *Memory[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the keys of live entries.
func (c *Memory[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// MaxSize returns the configured capacity.
func (c *Memory[V]) MaxSize() int {
	return c.maxSize
}

// Stats returns the statistics tracker.
func (c *Memory[V]) Stats() *Statistics {
	return c.stats
}

// Close releases the entries. The cache holds no goroutines.
func (c *Memory[V]) Close() error {
	c.Clear()
	return nil
}

// touch must be called with c.mu held.
func (c *Memory[V]) touch(e *Entry[V], now time.Time) {
	c.seq++
	e.AccessedAt = now
	e.seq = c.seq
}

// evictOldest drops the single entry with the oldest access time.
// Must be called with c.mu held.
func (c *Memory[V]) evictOldest() *Entry[V] {
	var victim *Entry[V]
	for _, e := range c.entries {
		if victim == nil || e.olderThan(victim) {
			victim = e
		}
	}
	if victim != nil {
		delete(c.entries, victim.Key)
	}
	return victim
}

func (c *Memory[V]) record(hit bool, size int) {
	if hit {
		c.stats.Hit()
	} else {
		c.stats.Miss()
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		if hit {
			c.metrics.recordHit()
		} else {
			c.metrics.recordMiss()
		}
		c.metrics.updateSize(size)
	}
}
