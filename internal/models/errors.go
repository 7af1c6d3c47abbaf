package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSignal marks inbound events missing required fields. The
	// caller decides whether to retry or discard; the event is never stored.
	ErrMalformedSignal = errors.New("malformed signal")

	// ErrNotFound marks lookups for entities that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrEngineUnavailable is returned by an analysis engine that cannot
	// evaluate the incident at all. The pool excludes it from fusion.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrEngineTimeout is returned when an engine exceeds its deadline. The
	// pool discards any partial result and proceeds without it.
	ErrEngineTimeout = errors.New("engine timeout")

	// ErrAnalysisExhausted is reported when a pool run produced zero
	// verdicts. The incident stays open for a bounded number of retries.
	ErrAnalysisExhausted = errors.New("analysis exhausted")
)

// ActionError classifies a failed action execution. Transient failures
// (network timeouts, rate limits) are retried with backoff; permanent ones
// (authorization, validation) are recorded immediately with no retry.
type ActionError struct {
	Transient bool
	Op        string
	Err       error
}

func (e *ActionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s action failure: %v", e.Op, kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewTransientActionError wraps a retryable execution failure.
func NewTransientActionError(op string, err error) error {
	return &ActionError{Transient: true, Op: op, Err: err}
}

// NewPermanentActionError wraps a non-retryable execution failure.
func NewPermanentActionError(op string, err error) error {
	return &ActionError{Transient: false, Op: op, Err: err}
}

// IsTransient reports whether err is a transient action failure.
func IsTransient(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae) && ae.Transient
}
