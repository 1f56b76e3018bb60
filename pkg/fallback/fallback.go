// Package fallback runs an ordered list of attempts until one produces a
// usable result.
//
// Attempts run strictly one after another, each bounded by its own timeout.
// An attempt that returns an error, panics, times out or fails validation is
// logged and skipped. It is never retried within the same call. When every
// attempt fails the chain reports Exhausted, which callers turn into either a
// degraded payload or an error wrapping errors.ErrAllAttemptsExhausted.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	errs "github.com/Neil2813/Nexus/errors"
)

// DefaultTimeout bounds a single attempt when neither the chain nor the
// attempt sets one.
const DefaultTimeout = 5 * time.Second

var (
	// ErrEmpty is returned by NonEmpty validators.
	ErrEmpty = errors.New("empty result")

	// ErrSkipped marks an expected miss, such as a cache tier without the
	// key. It is a soft failure like any other but is logged at debug level.
	ErrSkipped = errors.New("no result")
)

// Outcome classifies an attempt or a whole chain run.
type Outcome int

const (
	// Usable means a validated value was produced.
	Usable Outcome = iota
	// SoftFailure means a single attempt failed and the chain moved on.
	SoftFailure
	// Exhausted means no attempt produced a usable value.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Usable:
		return "usable"
	case SoftFailure:
		return "soft_failure"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Attempt is one provider in a chain.
type Attempt[T any] struct {
	Provider string
	// Timeout overrides the chain timeout for this attempt when positive.
	Timeout time.Duration
	Run     func(ctx context.Context) (T, error)
}

// Validator decides whether a raw result is usable. A non-nil error rejects it.
type Validator[T any] func(T) error

// Failure records why one attempt was skipped.
type Failure struct {
	Index    int
	Provider string
	Err      error
	Elapsed  time.Duration
}

// Observer receives one callback per finished attempt.
type Observer interface {
	ObserveAttempt(chain, provider string, outcome Outcome, elapsed time.Duration)
}

// Result is the outcome of a chain run. Provider and Index (1-based) tell
// which attempt produced Value.
type Result[T any] struct {
	Value    T
	Provider string
	Index    int
	Outcome  Outcome
	Failures []Failure
}

// OK reports whether the chain produced a usable value.
func (r Result[T]) OK() bool {
	return r.Outcome == Usable
}

// Degraded reports whether a usable value came from a provider other than
// the first.
func (r Result[T]) Degraded() bool {
	return r.Outcome == Usable && r.Index > 1
}

// Cause summarizes the failures as a human-readable string.
func (r Result[T]) Cause() string {
	return describe(r.Failures)
}

func describe(failures []Failure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	return strings.Join(parts, "; ")
}

// Err returns nil for a usable result and an *ExhaustedError otherwise.
func (r Result[T]) Err(chain string) error {
	if r.OK() {
		return nil
	}
	return &ExhaustedError{Chain: chain, Failures: r.Failures}
}

// ExhaustedError is the typed failure of a chain.
type ExhaustedError struct {
	Chain    string
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: no attempts configured", e.Chain)
	}
	return fmt.Sprintf("%s: all %d attempts exhausted: %s",
		e.Chain, len(e.Failures), describe(e.Failures))
}

// Unwrap lets errors.Is match errors.ErrAllAttemptsExhausted.
func (e *ExhaustedError) Unwrap() error {
	return errs.ErrAllAttemptsExhausted
}

// Chain holds the policy shared by every run of one named fallback chain.
type Chain[T any] struct {
	Name     string
	Timeout  time.Duration
	Validate Validator[T]
	Logger   *slog.Logger
	Observer Observer
	// Quiet logs exhaustion at debug level. Used where exhaustion is an
	// ordinary outcome, such as a cache miss on every tier.
	Quiet bool
}

// Run executes attempts in order and returns the first usable result.
func (c Chain[T]) Run(ctx context.Context, attempts ...Attempt[T]) Result[T] {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var res Result[T]
	for i, attempt := range attempts {
		index := i + 1
		start := time.Now()
		value, err := c.runOne(ctx, attempt)
		elapsed := time.Since(start)

		if err == nil && c.Validate != nil {
			if verr := c.Validate(value); verr != nil {
				err = fmt.Errorf("rejected: %w", verr)
			}
		}

		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrSkipped) {
				level = slog.LevelDebug
			}
			logger.Log(ctx, level, "fallback attempt failed",
				"chain", c.Name, "attempt", index, "provider", attempt.Provider,
				"elapsed", elapsed, "error", err)
			c.observe(attempt.Provider, SoftFailure, elapsed)
			res.Failures = append(res.Failures, Failure{
				Index: index, Provider: attempt.Provider, Err: err, Elapsed: elapsed,
			})
			continue
		}

		logger.Debug("fallback attempt succeeded",
			"chain", c.Name, "attempt", index, "provider", attempt.Provider, "elapsed", elapsed)
		c.observe(attempt.Provider, Usable, elapsed)
		res.Value = value
		res.Provider = attempt.Provider
		res.Index = index
		res.Outcome = Usable
		return res
	}

	if c.Quiet {
		logger.Debug("fallback chain exhausted", "chain", c.Name, "attempts", len(attempts), "cause", res.Cause())
	} else {
		logger.Error("fallback chain exhausted", "chain", c.Name, "attempts", len(attempts), "cause", res.Cause())
	}
	c.observe("", Exhausted, 0)
	res.Outcome = Exhausted
	return res
}

func (c Chain[T]) runOne(ctx context.Context, attempt Attempt[T]) (value T, err error) {
	if attempt.Run == nil {
		return value, errs.WrapInvalid(errs.ErrInvalidConfig, "fallback", "Run", "attempt "+attempt.Provider)
	}

	timeout := attempt.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt panicked: %v", r)
		}
	}()

	value, err = attempt.Run(attemptCtx)
	if err == nil && attemptCtx.Err() != nil {
		// A result that arrives after the deadline still counts as a timeout.
		err = errs.WrapTransient(attemptCtx.Err(), "fallback", "Run", "attempt "+attempt.Provider)
	}
	return value, err
}

func (c Chain[T]) observe(provider string, outcome Outcome, elapsed time.Duration) {
	if c.Observer != nil {
		c.Observer.ObserveAttempt(c.Name, provider, outcome, elapsed)
	}
}

// NonEmpty builds a validator that rejects results whose length is zero.
func NonEmpty[T any](length func(T) int) Validator[T] {
	return func(v T) error {
		if length(v) == 0 {
			return ErrEmpty
		}
		return nil
	}
}
