package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neil2813/Nexus/errors"
	"github.com/Neil2813/Nexus/metric"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T, size int, clock *fakeClock, opts ...Option[string]) *Memory[string] {
	t.Helper()
	opts = append(opts, WithClock[string](clock.Now))
	c, err := NewMemory(size, time.Minute, opts...)
	require.NoError(t, err)
	return c
}

func TestMemory_SetGet(t *testing.T) {
	c := newTestMemory(t, 10, newFakeClock())

	require.NoError(t, c.Set("datasets:50:0", `{"total":3}`, 0))
	v, ok := c.Get("datasets:50:0")
	require.True(t, ok)
	assert.Equal(t, `{"total":3}`, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, int64(1), c.Stats().Hits())
	assert.Equal(t, int64(1), c.Stats().Misses())
}

func TestMemory_EmptyKeyRejected(t *testing.T) {
	c := newTestMemory(t, 10, newFakeClock())
	err := c.Set("", "x", 0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMemory_ReplaceOnWrite(t *testing.T) {
	c := newTestMemory(t, 2, newFakeClock())
	require.NoError(t, c.Set("k", "v1", 0))
	require.NoError(t, c.Set("k", "v2", 0))

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Size())
}

func TestMemory_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestMemory(t, 10, clock)

	require.NoError(t, c.Set("short", "v", 10*time.Second))
	require.NoError(t, c.Set("default", "v", 0))

	clock.Advance(9 * time.Second)
	_, ok := c.Get("short")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok, "entry must not be returned once its TTL has elapsed")
	assert.Equal(t, 1, c.Size(), "expired entry is removed on access")

	clock.Advance(time.Minute)
	_, ok = c.Get("default")
	assert.False(t, ok)
	assert.Empty(t, c.Keys())
}

func TestMemory_EvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newFakeClock()
	var evicted []string
	c := newTestMemory(t, 3, clock, WithEvictionCallback[string](func(key string, _ string) {
		evicted = append(evicted, key)
	}))

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, k, 0))
		clock.Advance(time.Second)
	}

	// a becomes the most recently accessed, b is now the oldest.
	_, ok := c.Get("a")
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, c.Set("d", "d", 0))

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 3, c.Size())
	assert.ElementsMatch(t, []string{"a", "c", "d"}, c.Keys())
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestMemory_TieBrokenByAccessOrder(t *testing.T) {
	clock := newFakeClock()
	c := newTestMemory(t, 2, clock)

	require.NoError(t, c.Set("first", "1", 0))
	require.NoError(t, c.Set("second", "2", 0))
	require.NoError(t, c.Set("third", "3", 0))

	_, ok := c.Get("first")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"second", "third"}, c.Keys())
}

func TestMemory_UpdateAtCapacityDoesNotEvict(t *testing.T) {
	clock := newFakeClock()
	c := newTestMemory(t, 2, clock)
	require.NoError(t, c.Set("a", "1", 0))
	require.NoError(t, c.Set("b", "2", 0))
	require.NoError(t, c.Set("a", "3", 0))

	assert.Equal(t, 2, c.Size())
	assert.Equal(t, int64(0), c.Stats().Evictions())
}

func TestMemory_DeleteAndClear(t *testing.T) {
	c := newTestMemory(t, 10, newFakeClock())
	require.NoError(t, c.Set("a", "1", 0))
	require.NoError(t, c.Set("b", "2", 0))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Clear()
	assert.Equal(t, 0, c.Size())
	require.NoError(t, c.Close())
}

func TestMemory_Defaults(t *testing.T) {
	c, err := NewMemory[int](0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxSize, c.MaxSize())
	assert.Equal(t, DefaultTTL, c.defaultTTL)
}

func TestMemory_Concurrent(t *testing.T) {
	c, err := NewMemory[int](50, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + (worker+j)%26))
				_ = c.Set(key, j, 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50)
}

func TestMemory_WithMetrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c, err := NewMemory(5, time.Minute, WithMetrics[string](reg, "memory_tier"))
	require.NoError(t, err)
	require.NotNil(t, c.metrics)

	require.NoError(t, c.Set("k", "v", 0))
	c.Get("k")

	_, err = NewMemory(5, time.Minute, WithMetrics[string](reg, "memory_tier"))
	assert.Error(t, err, "second registration under the same prefix must fail")
}

func TestStatistics_Summary(t *testing.T) {
	s := NewStatistics()
	s.Hit()
	s.Hit()
	s.Miss()
	s.UpdateSize(4)
	s.UpdateSize(2)

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.Hits)
	assert.Equal(t, int64(2), sum.CurrentSize)
	assert.Equal(t, int64(4), sum.PeakSize)
	assert.InDelta(t, 2.0/3.0, sum.HitRatio, 0.0001)

	s.Reset()
	assert.Equal(t, int64(0), s.Hits())
}
