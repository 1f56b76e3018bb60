// Package errors classifies the failures of the Nexus data-access layer.
// Tier and endpoint failures are transient and absorbed by fallback chains;
// exhaustion of a whole chain is the only failure that crosses a component
// boundary.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class says how a caller should react to an error.
type Class uint8

const (
	// Transient is a single tier, endpoint or provider failure. The next
	// fallback level absorbs it.
	Transient Class = iota
	// Invalid is bad input or configuration; retrying will not help.
	Invalid
	// Fatal stops startup.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Upstream and tier failures. These never leave a fallback chain.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedResponse   = errors.New("malformed upstream response")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// ErrAllAttemptsExhausted is returned when every attempt of a chain failed.
var ErrAllAttemptsExhausted = errors.New("all attempts exhausted")

var (
	ErrInvalidData   = errors.New("invalid data format")
	ErrKeyNotFound   = errors.New("key not found")
	ErrNotFound      = errors.New("not found")
	ErrDataCorrupted = errors.New("data corrupted")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
	ErrNotConfigured = errors.New("backend not configured")
)

// transientHints are message fragments of driver and network errors that
// carry no sentinel.
var transientHints = []string{"timeout", "connection", "network", "temporary", "unavailable", "busy"}

// Error is a classified failure of one operation.
type Error struct {
	Class Class
	// Op is "component.method".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the class of err. Classified errors keep their class;
// otherwise sentinels decide, and anything unknown counts as transient so
// the next attempt still runs.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	switch {
	case errors.Is(err, ErrDataCorrupted),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingConfig):
		return Fatal
	case errors.Is(err, ErrInvalidData):
		return Invalid
	}
	return Transient
}

// IsTransient reports whether err is a single-attempt failure that the next
// fallback level should absorb. Exhaustion is not transient.
func IsTransient(err error) bool {
	if err == nil || IsExhausted(err) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class == Transient
	}
	if errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == Fatal
}

func IsInvalid(err error) bool {
	return err != nil && ClassOf(err) == Invalid
}

// IsExhausted reports whether err means a whole fallback chain failed.
// Callers use it to tell "could not determine" apart from "no data".
func IsExhausted(err error) bool {
	return errors.Is(err, ErrAllAttemptsExhausted)
}

// IsNotFound reports whether err marks a missing key or entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrKeyNotFound)
}

// Wrap adds "component.method: action" context without classifying.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s: %w", component, method, action, err)
}

func classify(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: component + "." + method, Err: fmt.Errorf("%s: %w", action, err)}
}

func WrapTransient(err error, component, method, action string) error {
	return classify(Transient, err, component, method, action)
}

func WrapInvalid(err error, component, method, action string) error {
	return classify(Invalid, err, component, method, action)
}

func WrapFatal(err error, component, method, action string) error {
	return classify(Fatal, err, component, method, action)
}
