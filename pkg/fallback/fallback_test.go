package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/Neil2813/Nexus/errors"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveAttempt(_ string, provider string, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, provider+":"+outcome.String())
}

func value[T any](v T) func(context.Context) (T, error) {
	return func(context.Context) (T, error) { return v, nil }
}

func failing[T any](err error) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		var zero T
		return zero, err
	}
}

func TestRun_FirstUsableWins(t *testing.T) {
	calls := 0
	chain := Chain[string]{Name: "test"}
	res := chain.Run(context.Background(),
		Attempt[string]{Provider: "primary", Run: func(context.Context) (string, error) {
			calls++
			return "a", nil
		}},
		Attempt[string]{Provider: "secondary", Run: func(context.Context) (string, error) {
			calls++
			return "b", nil
		}},
	)

	require.True(t, res.OK())
	assert.Equal(t, "a", res.Value)
	assert.Equal(t, "primary", res.Provider)
	assert.Equal(t, 1, res.Index)
	assert.False(t, res.Degraded())
	assert.Equal(t, 1, calls)
}

func TestRun_SkipsFailuresInOrder(t *testing.T) {
	var order []string
	step := func(name string, err error) Attempt[int] {
		return Attempt[int]{Provider: name, Run: func(context.Context) (int, error) {
			order = append(order, name)
			return len(name), err
		}}
	}

	res := Chain[int]{Name: "ordered"}.Run(context.Background(),
		step("one", errors.New("down")),
		step("two", errors.New("down")),
		step("three", nil),
		step("four", nil),
	)

	require.True(t, res.OK())
	assert.Equal(t, []string{"one", "two", "three"}, order)
	assert.Equal(t, 3, res.Index)
	assert.True(t, res.Degraded())
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "one", res.Failures[0].Provider)
	assert.Equal(t, 2, res.Failures[1].Index)
}

func TestRun_ValidatorRejectsResult(t *testing.T) {
	chain := Chain[[]string]{
		Name:     "records",
		Validate: NonEmpty(func(v []string) int { return len(v) }),
	}
	res := chain.Run(context.Background(),
		Attempt[[]string]{Provider: "empty", Run: value([]string{})},
		Attempt[[]string]{Provider: "full", Run: value([]string{"OSD-9"})},
	)

	require.True(t, res.OK())
	assert.Equal(t, "full", res.Provider)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrEmpty)
}

func TestRun_TimeoutCountsAsFailure(t *testing.T) {
	chain := Chain[string]{Name: "slow", Timeout: 20 * time.Millisecond}
	res := chain.Run(context.Background(),
		Attempt[string]{Provider: "hang", Run: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
		Attempt[string]{Provider: "fast", Run: value("ok")},
	)

	require.True(t, res.OK())
	assert.Equal(t, "ok", res.Value)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, context.DeadlineExceeded)
}

func TestRun_LateResultIsTimeout(t *testing.T) {
	chain := Chain[string]{Name: "late"}
	res := chain.Run(context.Background(),
		Attempt[string]{Provider: "ignores-ctx", Timeout: 10 * time.Millisecond, Run: func(context.Context) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "stale", nil
		}},
	)

	assert.Equal(t, Exhausted, res.Outcome)
	assert.True(t, errs.IsTransient(res.Failures[0].Err))
}

func TestRun_PanicIsFailure(t *testing.T) {
	res := Chain[int]{Name: "panicky"}.Run(context.Background(),
		Attempt[int]{Provider: "boom", Run: func(context.Context) (int, error) { panic("nil map") }},
		Attempt[int]{Provider: "safe", Run: value(7)},
	)

	require.True(t, res.OK())
	assert.Equal(t, 7, res.Value)
	assert.Contains(t, res.Failures[0].Err.Error(), "panicked")
}

func TestRun_ExhaustedIsDistinctFromEmpty(t *testing.T) {
	obs := &recordingObserver{}
	chain := Chain[[]string]{Name: "datasets", Observer: obs}

	empty := chain.Run(context.Background(), Attempt[[]string]{Provider: "a", Run: value([]string{})})
	require.True(t, empty.OK())
	assert.NoError(t, empty.Err("datasets"))

	res := chain.Run(context.Background(),
		Attempt[[]string]{Provider: "a", Run: failing[[]string](errors.New("500"))},
		Attempt[[]string]{Provider: "b", Run: failing[[]string](errors.New("timeout"))},
	)

	assert.Equal(t, Exhausted, res.Outcome)
	assert.False(t, res.OK())
	assert.Equal(t, "a: 500; b: timeout", res.Cause())

	err := res.Err("datasets")
	require.Error(t, err)
	assert.True(t, errs.IsExhausted(err))
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Failures, 2)
	assert.Contains(t, err.Error(), "all 2 attempts exhausted")

	assert.Equal(t, []string{"a:usable", "a:soft_failure", "b:soft_failure", ":exhausted"}, obs.outcomes)
}

func TestRun_NoAttempts(t *testing.T) {
	res := Chain[int]{Name: "none"}.Run(context.Background())
	assert.Equal(t, Exhausted, res.Outcome)
	assert.Contains(t, res.Err("none").Error(), "no attempts configured")
}

func TestRun_NilRunIsSkipped(t *testing.T) {
	res := Chain[int]{Name: "nil"}.Run(context.Background(),
		Attempt[int]{Provider: "missing"},
		Attempt[int]{Provider: "real", Run: value(1)},
	)
	require.True(t, res.OK())
	assert.Equal(t, "real", res.Provider)
}

func TestRun_SkippedIsSoftFailure(t *testing.T) {
	res := Chain[int]{Name: "cache.get", Quiet: true}.Run(context.Background(),
		Attempt[int]{Provider: "fast", Run: failing[int](ErrSkipped)},
		Attempt[int]{Provider: "memory", Run: failing[int](ErrSkipped)},
	)

	assert.Equal(t, Exhausted, res.Outcome)
	require.Len(t, res.Failures, 2)
	assert.ErrorIs(t, res.Failures[1].Err, ErrSkipped)
}
