package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neil2813/Nexus/metric"
)

type testWork struct {
	id   int
	fail bool
}

func noop(context.Context, testWork) error { return nil }

func TestNewPool_Defaults(t *testing.T) {
	pool, err := NewPool("test", 0, 0, noop)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, pool.Stats().Workers)
	assert.Equal(t, DefaultQueueSize, pool.Stats().QueueSize)

	_, err = NewPool[testWork]("test", 1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	pool, err := NewPool("test", 2, 10, func(context.Context, testWork) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}

	// Stop drains the queue.
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(5), processed.Load())
	assert.ErrorIs(t, pool.Submit(testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "stop is idempotent")
}

func TestPool_QueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	pool, err := NewPool("test", 1, 1, func(context.Context, testWork) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	<-started // worker is busy with item 1
	require.NoError(t, pool.Submit(testWork{id: 2}))
	assert.ErrorIs(t, pool.Submit(testWork{id: 3}), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(2), stats.Processed)
}

func TestPool_FailuresAndPanics(t *testing.T) {
	pool, err := NewPool("test", 2, 10, func(_ context.Context, w testWork) error {
		if w.id == 99 {
			panic("boom")
		}
		if w.fail {
			return errors.New("simulated error")
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.Submit(testWork{id: 99}))
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(11), stats.Processed)
	assert.Equal(t, int64(6), stats.Failed)
}

func TestPool_ContextCancellationStopsWorkers(t *testing.T) {
	pool, err := NewPool("test", 2, 10, noop)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	cancel()

	assert.NoError(t, pool.Stop(5*time.Second))
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processed atomic.Int64
	pool, err := NewPool("test", 5, 100, func(context.Context, testWork) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for s := 0; s < 10; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, pool.Submit(testWork{id: s*10 + j}))
			}
		}(s)
	}
	wg.Wait()

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(100), processed.Load())
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool, err := NewPool("ingest", 1, 10, func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("nope")
		}
		return nil
	}, WithMetricsRegistry[testWork](registry))
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.items.WithLabelValues("submitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.items.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.items.WithLabelValues("failed")))

	_, err = NewPool("ingest", 1, 1, noop, WithMetricsRegistry[testWork](registry))
	assert.Error(t, err, "same pool name registers twice")
}
