package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClass_String(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "fatal", Fatal.String())
	assert.Equal(t, "unknown", Class(42).String())
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"upstream unavailable", ErrUpstreamUnavailable, true},
		{"malformed response", ErrMalformedResponse, true},
		{"storage unavailable", fmt.Errorf("sqlite: %w", ErrStorageUnavailable), true},
		{"deadline", fmt.Errorf("attempt 2: %w", context.DeadlineExceeded), true},
		{"driver message", errors.New("dial tcp: i/o timeout"), true},
		{"invalid data", ErrInvalidData, false},
		{"exhausted", ErrAllAttemptsExhausted, false},
		{"exhausted with transient cause", fmt.Errorf("%w: connection refused", ErrAllAttemptsExhausted), false},
		{"classified transient", WrapTransient(errors.New("x"), "osdr", "Get", "fetch"), true},
		{"classified fatal", WrapFatal(errors.New("connection lost"), "app", "build", "dial"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, Transient, ClassOf(ErrUpstreamUnavailable))
	assert.Equal(t, Fatal, ClassOf(ErrDataCorrupted))
	assert.Equal(t, Fatal, ClassOf(fmt.Errorf("load: %w", ErrMissingConfig)))
	assert.Equal(t, Invalid, ClassOf(ErrInvalidData))
	assert.Equal(t, Transient, ClassOf(errors.New("something odd")))

	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsInvalid(WrapInvalid(ErrDataCorrupted, "cachestore", "Get", "decode")), "explicit class wins over the sentinel")
	assert.False(t, IsInvalid(nil))
}

func TestIsExhaustedAndNotFound(t *testing.T) {
	assert.True(t, IsExhausted(Wrap(ErrAllAttemptsExhausted, "osdr", "ListDatasets", "fetch datasets")))
	assert.False(t, IsExhausted(ErrUpstreamUnavailable))
	assert.False(t, IsExhausted(nil))

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", ErrKeyNotFound)))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.False(t, IsNotFound(ErrInvalidData))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "c", "m", "a"))

	err := Wrap(ErrStorageUnavailable, "cachestore", "Get", "read durable tier")
	assert.EqualError(t, err, "cachestore.Get: read durable tier: storage unavailable")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")
	cases := map[Class]func(error, string, string, string) error{
		Transient: WrapTransient,
		Invalid:   WrapInvalid,
		Fatal:     WrapFatal,
	}
	for class, wrap := range cases {
		t.Run(class.String(), func(t *testing.T) {
			err := wrap(base, "graphstore", "AddNode", "upsert node")
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, class, e.Class)
			assert.Equal(t, "graphstore.AddNode", e.Op)
			assert.EqualError(t, err, "graphstore.AddNode: upsert node: boom")
			assert.ErrorIs(t, err, base)
			assert.Nil(t, wrap(nil, "a", "b", "c"))
		})
	}
}
