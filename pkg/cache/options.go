package cache

import (
	"github.com/Neil2813/Nexus/metric"
)

// Option configures a Memory cache in NewMemory.
type Option[V any] func(*Memory[V]) error

// WithMetrics exports the cache statistics under prefix. A nil registry or
// empty prefix leaves export off; statistics are kept either way.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(c *Memory[V]) error {
		if registry == nil || prefix == "" {
			return nil
		}
		m, err := newCacheMetrics(registry, prefix)
		if err != nil {
			return err
		}
		c.metrics = m
		return nil
	}
}

// WithEvictionCallback is told about capacity evictions, not expiries.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *Memory[V]) error {
		c.evictFn = fn
		return nil
	}
}

// WithClock replaces time.Now. Nil keeps the default.
func WithClock[V any](clock Clock) Option[V] {
	return func(c *Memory[V]) error {
		if clock != nil {
			c.now = clock
		}
		return nil
	}
}
