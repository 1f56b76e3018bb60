// Package cachestore implements the tiered key-value cache.
//
// A Store probes up to three tiers in a fixed order: a fast distributed tier
// (NATS JetStream KV), a durable tier (a SQLite file) and an in-process tier
// (pkg/cache). Values are opaque bytes; GetJSON and SetJSON handle encoding.
// Any tier may be absent or down. The cache is an optimization only, so a
// failure in one tier degrades to the next and a failure in all of them is a
// plain miss.
package cachestore

import (
	"context"
	"errors"
	"time"
)

// Tier names used in logs, metrics and provenance.
const (
	TierFast    = "fast"
	TierDurable = "durable"
	TierMemory  = "memory"
)

// ErrMiss is returned by Tier.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Tier is one cache backend.
type Tier interface {
	Name() string
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Sweeper is implemented by tiers that need explicit expiry maintenance.
type Sweeper interface {
	ClearExpired(ctx context.Context) (int64, error)
}

// Counter is implemented by tiers that can report their entry count.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Closer is implemented by tiers holding resources.
type Closer interface {
	Close() error
}

// envelope is the stored form in tiers without native per-key expiry.
type envelope struct {
	Value     []byte  `json:"value"`
	ExpiresAt float64 `json:"expires_at"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
