// Package cache provides the in-process tier of the Nexus cache: a bounded,
// thread-safe map with per-entry TTL.
//
// Expired entries are dropped lazily when touched. When the cache is full and
// a new key arrives, the single entry with the oldest access time is evicted
// before the insert. This approximates LRU without keeping a priority list,
// which is acceptable for a last-resort tier.
//
// Statistics are always collected. Prometheus metrics are opt-in through
// WithMetrics.
package cache

import (
	"time"

	"github.com/Neil2813/Nexus/errors"
)

const (
	// DefaultMaxSize is the capacity used when none is given.
	DefaultMaxSize = 1000
	// DefaultTTL applies to Set calls without a positive TTL.
	DefaultTTL = 300 * time.Second
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// EvictCallback is called when an entry is evicted from the cache.
// It runs outside the cache lock.
type EvictCallback[V any] func(key string, value V)

// Entry is a cached value with its bookkeeping.
type Entry[V any] struct {
	Key        string
	Value      V
	CreatedAt  time.Time
	ExpiresAt  time.Time
	AccessedAt time.Time

	// seq orders accesses that share a timestamp.
	seq uint64
}

// expired reports whether the entry is past its deadline at now.
func (e *Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// olderThan reports whether e was accessed before o.
func (e *Entry[V]) olderThan(o *Entry[V]) bool {
	if e.AccessedAt.Equal(o.AccessedAt) {
		return e.seq < o.seq
	}
	return e.AccessedAt.Before(o.AccessedAt)
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
