// Package apperrors classifies errors produced while ingesting updates,
// scheduling work, and sweeping for stuck items, so callers can decide
// whether to retry, dead-letter, or fail a job outright (spec §7).
package apperrors

import (
	"errors"
	"fmt"
)

// === Retry Classification ===

// RetryableError wraps transient errors that should be retried: lock
// contention, connection loss, queue timeouts. Errors not wrapped with
// Transient are treated as permanent.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient wraps err to signal it should be retried.
func Transient(err error) error {
	return RetryableError{Err: err}
}

// IsRetryable returns true if err should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// === Panic Handling ===

// PanicError indicates a panic occurred while processing an update or
// dispatch attempt. Treated as a permanent failure of the current attempt,
// never retried automatically.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanic returns true if err indicates a recovered panic.
func IsPanic(err error) bool {
	var panicErr PanicError
	return errors.As(err, &panicErr)
}

// === Cancellation ===

// Canceled indicates the job the current operation was acting on has
// already been canceled; processing should stop without retry.
type Canceled struct {
	Reason string
}

func (e Canceled) Error() string {
	return fmt.Sprintf("job canceled: %s", e.Reason)
}

// IsCanceled returns true if err indicates job cancellation.
func IsCanceled(err error) bool {
	var c Canceled
	return errors.As(err, &c)
}

// === Programmer error ===

// InternalError corresponds to spec §7's "programmer error" kind: a
// precondition the orchestrator itself must maintain was violated (e.g.
// missing next-step results when they should exist). Its message is
// prefixed "Harmony internal failure". No path in this module constructs
// it, and nothing fails a job on seeing it.
type InternalError struct {
	Err error
}

func (e InternalError) Error() string { return "Harmony internal failure: " + e.Err.Error() }
func (e InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError.
func Internal(err error) error {
	return InternalError{Err: err}
}

// IsInternal returns true if err indicates a programmer error.
func IsInternal(err error) bool {
	var ie InternalError
	return errors.As(err, &ie)
}
