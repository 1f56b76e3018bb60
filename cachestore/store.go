package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	errs "github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/pkg/cache"
	"github.com/Neil2813/Nexus/pkg/fallback"
)

const (
	// DefaultTTL applies when Set is called with a non-positive ttl.
	DefaultTTL = time.Hour

	// DefaultTierTimeout bounds one operation on one tier.
	DefaultTierTimeout = 2 * time.Second

	// DefaultSweepInterval is how often RunSweeper clears the durable tier.
	DefaultSweepInterval = 10 * time.Minute
)

// Options configures a Store. Any tier may be nil.
type Options struct {
	Fast        Tier
	Durable     Tier
	Memory      Tier
	DefaultTTL  time.Duration
	TierTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metric.Metrics
}

// Store is the tiered cache.
type Store struct {
	fast    Tier
	durable Tier
	memory  Tier
	tiers   []Tier

	defaultTTL  time.Duration
	tierTimeout time.Duration
	logger      *slog.Logger
	metrics     *metric.Metrics
	chain       fallback.Chain[[]byte]

	mu         sync.RWMutex
	closed     bool
	promotions sync.WaitGroup
}

// New builds a Store from the configured tiers, probed fast, durable, memory.
func New(opts Options) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.TierTimeout <= 0 {
		opts.TierTimeout = DefaultTierTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "cachestore")

	s := &Store{
		fast:        opts.Fast,
		durable:     opts.Durable,
		memory:      opts.Memory,
		defaultTTL:  opts.DefaultTTL,
		tierTimeout: opts.TierTimeout,
		logger:      logger,
		metrics:     opts.Metrics,
	}
	for _, t := range []Tier{opts.Fast, opts.Durable, opts.Memory} {
		if t != nil {
			s.tiers = append(s.tiers, t)
		}
	}
	s.chain = fallback.Chain[[]byte]{
		Name:    "cache.get",
		Timeout: opts.TierTimeout,
		Logger:  logger,
		Quiet:   true,
	}
	if opts.Metrics != nil {
		s.chain.Observer = opts.Metrics
	}
	return s
}

// DefaultTTL returns the TTL used for promotions and for Set without a ttl.
func (s *Store) DefaultTTL() time.Duration { return s.defaultTTL }

// Tiers returns the names of the configured tiers in probe order.
func (s *Store) Tiers() []string {
	names := make([]string, len(s.tiers))
	for i, t := range s.tiers {
		names[i] = t.Name()
	}
	return names
}

// Get returns the value for key from the first tier holding it.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	v, _, ok := s.Lookup(ctx, key)
	return v, ok
}

// Lookup is Get with provenance: it also returns the name of the tier that
// served the value. A hit in a slower tier is copied into every faster tier
// in the background with the default TTL.
func (s *Store) Lookup(ctx context.Context, key string) ([]byte, string, bool) {
	if len(s.tiers) == 0 || key == "" {
		return nil, "", false
	}

	attempts := make([]fallback.Attempt[[]byte], 0, len(s.tiers))
	for _, t := range s.tiers {
		attempts = append(attempts, fallback.Attempt[[]byte]{
			Provider: t.Name(),
			Run: func(ctx context.Context) ([]byte, error) {
				v, err := t.Get(ctx, key)
				switch {
				case err == nil:
					s.metrics.RecordCacheOp(t.Name(), "get", "hit")
					return v, nil
				case errors.Is(err, ErrMiss):
					s.metrics.RecordCacheOp(t.Name(), "get", "miss")
					return nil, fallback.ErrSkipped
				default:
					s.metrics.RecordCacheOp(t.Name(), "get", "error")
					return nil, err
				}
			},
		})
	}

	res := s.chain.Run(ctx, attempts...)
	if !res.OK() {
		return nil, "", false
	}
	if res.Index > 1 {
		s.promote(key, res.Value, s.tiers[:res.Index-1])
	}
	return res.Value, res.Provider, true
}

func (s *Store) promote(key string, value []byte, tiers []Tier) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	s.promotions.Add(1)
	go func() {
		defer s.promotions.Done()
		for _, t := range tiers {
			ctx, cancel := context.WithTimeout(context.Background(), s.tierTimeout)
			err := t.Set(ctx, key, value, s.defaultTTL)
			cancel()
			if err != nil {
				s.metrics.RecordCacheOp(t.Name(), "promote", "error")
				s.logger.Debug("cache promotion failed", "tier", t.Name(), "key", key, "error", err)
				continue
			}
			s.metrics.RecordCacheOp(t.Name(), "promote", "ok")
		}
	}()
}

// Set writes value to every tier. A failing tier does not stop the others;
// an error is returned only when no tier accepted the write.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errs.WrapInvalid(errs.ErrInvalidData, "cachestore", "Set", "empty key")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	var failures []error
	for _, t := range s.tiers {
		tctx, cancel := context.WithTimeout(ctx, s.tierTimeout)
		err := t.Set(tctx, key, value, ttl)
		cancel()
		if err != nil {
			s.metrics.RecordCacheOp(t.Name(), "set", "error")
			s.logger.Warn("cache tier write failed", "tier", t.Name(), "key", key, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		s.metrics.RecordCacheOp(t.Name(), "set", "ok")
	}

	if len(failures) == len(s.tiers) {
		if len(failures) == 0 {
			return errs.WrapTransient(errs.ErrStorageUnavailable, "cachestore", "Set", "no tiers configured")
		}
		return fmt.Errorf("cachestore.Set: %w: %w", errs.ErrStorageUnavailable, errors.Join(failures...))
	}
	return nil
}

// Delete removes key from every tier, best effort.
func (s *Store) Delete(ctx context.Context, key string) {
	for _, t := range s.tiers {
		tctx, cancel := context.WithTimeout(ctx, s.tierTimeout)
		err := t.Delete(tctx, key)
		cancel()
		if err != nil {
			s.metrics.RecordCacheOp(t.Name(), "delete", "error")
			s.logger.Warn("cache tier delete failed", "tier", t.Name(), "key", key, "error", err)
			continue
		}
		s.metrics.RecordCacheOp(t.Name(), "delete", "ok")
	}
}

// GetJSON decodes the cached value for key into dst. An undecodable value
// is dropped and reported as a miss.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (string, bool) {
	data, tier, ok := s.Lookup(ctx, key)
	if !ok {
		return "", false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("dropping undecodable cache entry", "key", key, "tier", tier, "error", err)
		s.Delete(ctx, key)
		return "", false
	}
	return tier, true
}

// SetJSON encodes v and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.WrapInvalid(err, "cachestore", "SetJSON", "encode value")
	}
	return s.Set(ctx, key, data, ttl)
}

// ClearExpired sweeps the durable tier. The fast tier expires natively and
// the memory tier expires lazily.
func (s *Store) ClearExpired(ctx context.Context) (int64, error) {
	sweeper, ok := s.durable.(Sweeper)
	if !ok {
		return 0, nil
	}
	removed, err := sweeper.ClearExpired(ctx)
	if err != nil {
		return 0, errs.WrapTransient(err, "cachestore", "ClearExpired", "sweep durable tier")
	}
	return removed, nil
}

// RunSweeper calls ClearExpired every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.ClearExpired(ctx)
			if err != nil {
				s.logger.Warn("cache sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("cache sweep removed expired entries", "removed", removed)
			}
		}
	}
}

// Stats describes tier availability and the memory tier counters.
type Stats struct {
	FastAvailable     bool                `json:"fast_available"`
	FastHealthy       bool                `json:"fast_healthy"`
	DurableAvailable  bool                `json:"durable_available"`
	DurableHealthy    bool                `json:"durable_healthy"`
	DurableEntries    int64               `json:"durable_entries"`
	MemoryAvailable   bool                `json:"memory_available"`
	MemoryEntries     int64               `json:"memory_entries"`
	Memory            *cache.StatsSummary `json:"memory_stats,omitempty"`
	DefaultTTLSeconds float64             `json:"default_ttl_seconds"`
}

// Stats pings each configured tier and collects counters.
func (s *Store) Stats(ctx context.Context) Stats {
	st := Stats{
		FastAvailable:     s.fast != nil,
		DurableAvailable:  s.durable != nil,
		MemoryAvailable:   s.memory != nil,
		DefaultTTLSeconds: s.defaultTTL.Seconds(),
	}
	if s.fast != nil {
		st.FastHealthy = s.ping(ctx, s.fast) == nil
	}
	if s.durable != nil {
		st.DurableHealthy = s.ping(ctx, s.durable) == nil
		if c, ok := s.durable.(Counter); ok && st.DurableHealthy {
			st.DurableEntries, _ = c.Count(ctx)
		}
	}
	if s.memory != nil {
		if c, ok := s.memory.(Counter); ok {
			st.MemoryEntries, _ = c.Count(ctx)
		}
		if m, ok := s.memory.(*MemoryTier); ok {
			summary := m.Stats()
			st.Memory = &summary
		}
	}
	return st
}

// Ping succeeds when at least one tier answers.
func (s *Store) Ping(ctx context.Context) error {
	if len(s.tiers) == 0 {
		return errs.WrapTransient(errs.ErrNotConfigured, "cachestore", "Ping", "no tiers")
	}
	var failures []error
	for _, t := range s.tiers {
		err := s.ping(ctx, t)
		if err == nil {
			return nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", t.Name(), err))
	}
	return fmt.Errorf("cachestore.Ping: %w: %w", errs.ErrStorageUnavailable, errors.Join(failures...))
}

func (s *Store) ping(ctx context.Context, t Tier) error {
	ctx, cancel := context.WithTimeout(ctx, s.tierTimeout)
	defer cancel()
	return t.Ping(ctx)
}

// Close waits for in-flight promotions and releases tiers that hold
// resources. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.promotions.Wait()

	var errList []error
	for _, t := range s.tiers {
		if c, ok := t.(Closer); ok {
			if err := c.Close(); err != nil {
				errList = append(errList, fmt.Errorf("%s: %w", t.Name(), err))
			}
		}
	}
	return errors.Join(errList...)
}

// Wait blocks until background promotions started so far have finished.
func (s *Store) Wait() {
	s.promotions.Wait()
}
