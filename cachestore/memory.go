package cachestore

import (
	"context"
	"time"

	"github.com/Neil2813/Nexus/pkg/cache"
)

// MemoryTier adapts the in-process bounded cache to the Tier interface.
type MemoryTier struct {
	cache *cache.Memory[[]byte]
}

// NewMemoryTier wraps c.
func NewMemoryTier(c *cache.Memory[[]byte]) *MemoryTier {
	return &MemoryTier{cache: c}
}

func (t *MemoryTier) Name() string { return TierMemory }

func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := t.cache.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return t.cache.Set(key, value, ttl)
}

func (t *MemoryTier) Delete(_ context.Context, key string) error {
	t.cache.Delete(key)
	return nil
}

func (t *MemoryTier) Ping(context.Context) error { return nil }

// Count returns the number of entries currently held.
func (t *MemoryTier) Count(context.Context) (int64, error) {
	return int64(t.cache.Size()), nil
}

// Stats returns the underlying cache statistics.
func (t *MemoryTier) Stats() cache.StatsSummary {
	return t.cache.Stats().Summary()
}

func (t *MemoryTier) Close() error {
	return t.cache.Close()
}
