package cachestore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neil2813/Nexus/natsclient"
	"github.com/Neil2813/Nexus/pkg/cache"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeKV is an in-memory KV bucket that can be switched off.
type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

var errKVDown = errors.New("nats: no servers available for connection")

func (f *fakeKV) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeKV) Get(_ context.Context, key string) (*natsclient.KVEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errKVDown
	}
	v, ok := f.data[key]
	if !ok {
		return nil, natsclient.ErrKVKeyNotFound
	}
	return &natsclient.KVEntry{Key: key, Value: v, Revision: 1}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errKVDown
	}
	f.data[key] = value
	return 1, nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errKVDown
	}
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errKVDown
	}
	return nil
}

func (f *fakeKV) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

type fixture struct {
	clock   *testClock
	kv      *fakeKV
	fast    *KVTier
	durable *SQLiteTier
	memory  *MemoryTier
	store   *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newTestClock()
	kv := newFakeKV()

	durable, err := NewSQLiteTier(context.Background(), filepath.Join(t.TempDir(), "cache.db"), clock.Now)
	require.NoError(t, err)

	mem, err := cache.NewMemory[[]byte](10, time.Hour, cache.WithClock[[]byte](clock.Now))
	require.NoError(t, err)

	f := &fixture{
		clock:   clock,
		kv:      kv,
		fast:    NewKVTier(kv, clock.Now),
		durable: durable,
		memory:  NewMemoryTier(mem),
	}
	f.store = New(Options{
		Fast:       f.fast,
		Durable:    f.durable,
		Memory:     f.memory,
		DefaultTTL: 30 * time.Minute,
	})
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func TestStore_RoundTrip(t *testing.T) {
	for _, fastUp := range []bool{true, false} {
		name := "fast tier up"
		if !fastUp {
			name = "fast tier down"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.kv.setDown(!fastUp)
			ctx := context.Background()

			require.NoError(t, f.store.Set(ctx, "datasets:10:0", []byte(`{"n":1}`), time.Minute))

			got, tier, ok := f.store.Lookup(ctx, "datasets:10:0")
			require.True(t, ok)
			assert.Equal(t, `{"n":1}`, string(got))
			if fastUp {
				assert.Equal(t, TierFast, tier)
			} else {
				assert.Equal(t, TierDurable, tier)
			}
		})
	}
}

func TestStore_ExpiresOnEveryTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "k", []byte("v"), time.Minute))
	f.clock.Advance(time.Minute + time.Second)

	for _, tier := range []Tier{f.fast, f.durable, f.memory} {
		_, err := tier.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrMiss, tier.Name())
	}
	_, ok := f.store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestStore_PromotesIntoFasterTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.memory.Set(ctx, "only-memory", []byte("v"), time.Minute))

	got, tier, ok := f.store.Lookup(ctx, "only-memory")
	require.True(t, ok)
	assert.Equal(t, TierMemory, tier)
	assert.Equal(t, "v", string(got))

	f.store.Wait()

	v, err := f.fast.Get(ctx, "only-memory")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
	v, err = f.durable.Get(ctx, "only-memory")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	// Promotion uses the default TTL, not the memory entry's remaining one.
	f.clock.Advance(5 * time.Minute)
	_, tier, ok = f.store.Lookup(ctx, "only-memory")
	require.True(t, ok)
	assert.Equal(t, TierFast, tier)
}

func TestStore_PromotionFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.kv.setDown(true)

	require.NoError(t, f.durable.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok := f.store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
	f.store.Wait()
	assert.Zero(t, f.kv.len())
}

func TestStore_SetToleratesFailingTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.kv.setDown(true)

	require.NoError(t, f.store.Set(ctx, "k", []byte("v"), time.Minute))

	_, err := f.durable.Get(ctx, "k")
	require.NoError(t, err)
	_, err = f.memory.Get(ctx, "k")
	require.NoError(t, err)
}

func TestStore_SetFailsWhenNoTierAccepts(t *testing.T) {
	kv := newFakeKV()
	kv.setDown(true)
	s := New(Options{Fast: NewKVTier(kv, nil)})

	err := s.Set(context.Background(), "k", []byte("v"), time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, errKVDown)

	_, ok := s.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestStore_NoTiersIsAMiss(t *testing.T) {
	s := New(Options{})
	_, ok := s.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Error(t, s.Ping(context.Background()))
	assert.Empty(t, s.Tiers())
}

func TestStore_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "k", []byte("v"), time.Minute))
	f.store.Delete(ctx, "k")

	_, ok := f.store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestStore_JSON(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	type payload struct {
		Studies []string `json:"studies"`
	}
	require.NoError(t, f.store.SetJSON(ctx, "j", payload{Studies: []string{"OSD-9"}}, 0))

	var got payload
	tier, ok := f.store.GetJSON(ctx, "j", &got)
	require.True(t, ok)
	assert.Equal(t, TierFast, tier)
	assert.Equal(t, []string{"OSD-9"}, got.Studies)

	require.NoError(t, f.store.Set(ctx, "bad", []byte("{not json"), 0))
	_, ok = f.store.GetJSON(ctx, "bad", &got)
	assert.False(t, ok)
	_, ok = f.store.Get(ctx, "bad")
	assert.False(t, ok, "undecodable entry is dropped")
}

func TestStore_ClearExpiredOnlyTouchesDurableTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, f.store.Set(ctx, "long", []byte("2"), time.Hour))
	f.clock.Advance(2 * time.Minute)

	removed, err := f.store.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := f.durable.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, f.kv.len(), "fast tier expires on its own")
}

func TestStore_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "k", []byte("v"), time.Minute))
	f.kv.setDown(true)

	st := f.store.Stats(ctx)
	assert.True(t, st.FastAvailable)
	assert.False(t, st.FastHealthy)
	assert.True(t, st.DurableAvailable)
	assert.True(t, st.DurableHealthy)
	assert.Equal(t, int64(1), st.DurableEntries)
	assert.True(t, st.MemoryAvailable)
	assert.Equal(t, int64(1), st.MemoryEntries)
	require.NotNil(t, st.Memory)
	assert.Equal(t, int64(1), st.Memory.Sets)
	assert.Equal(t, 1800.0, st.DefaultTTLSeconds)

	assert.NoError(t, f.store.Ping(ctx))
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())
	require.NoError(t, f.store.Close())
}

func TestKVTier_EncodesKeys(t *testing.T) {
	kv := newFakeKV()
	tier := NewKVTier(kv, nil)
	ctx := context.Background()

	key := "search:{\"query\": \"mouse liver\"}"
	require.NoError(t, tier.Set(ctx, key, []byte("v"), time.Minute))

	kv.mu.Lock()
	_, raw := kv.data[key]
	_, encoded := kv.data[encodeKey(key)]
	kv.mu.Unlock()
	assert.False(t, raw)
	assert.True(t, encoded)
	assert.Regexp(t, `^[-/_=.a-zA-Z0-9]+$`, encodeKey(key))

	got, err := tier.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestKVTier_CorruptEnvelope(t *testing.T) {
	kv := newFakeKV()
	tier := NewKVTier(kv, nil)
	kv.data[encodeKey("k")] = []byte("garbage")

	_, err := tier.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestSQLiteTier_ReplaceOnWrite(t *testing.T) {
	clock := newTestClock()
	tier, err := NewSQLiteTier(context.Background(), filepath.Join(t.TempDir(), "nested", "cache.db"), clock.Now)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, "k", []byte("one"), time.Minute))
	require.NoError(t, tier.Set(ctx, "k", []byte("two"), time.Minute))

	got, err := tier.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	n, err := tier.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteTier_RequiresPath(t *testing.T) {
	_, err := NewSQLiteTier(context.Background(), "", nil)
	assert.Error(t, err)
}
