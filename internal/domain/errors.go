package domain

import "errors"

// Domain sentinel errors, checked by callers with errors.Is.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrJobNotFound indicates the specified job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkItemNotFound indicates the specified work item does not exist.
	ErrWorkItemNotFound = errors.New("work item not found")

	// ErrInvalidID indicates the provided ID format is invalid.
	ErrInvalidID = errors.New("invalid ID format")

	// ErrItemAlreadyCompleted names the case of an update arriving for an
	// item already in a completed status. The ingester treats that case as
	// a silent no-op (idempotency against redelivered updates) and does not
	// return this error.
	ErrItemAlreadyCompleted = errors.New("work item already completed")

	// ErrJobTerminal names the case of an update arriving for a job that
	// has already reached a terminal status. The ingester drops such
	// updates without returning this error.
	ErrJobTerminal = errors.New("job already in terminal status")

	// ErrNoWorkAvailable is returned by the scheduler when no READY item
	// exists for the requested service.
	ErrNoWorkAvailable = errors.New("no work available")

	// ErrCircularCatalog names a catalog whose links reference an
	// already-visited catalog. Catalog reading stops at such a link instead
	// of returning this error.
	ErrCircularCatalog = errors.New("circular catalog reference detected")

	// ErrInternalFailure corresponds to the "programmer error" error kind:
	// a precondition the orchestrator itself is responsible for maintaining
	// (e.g. missing next-step results when they should exist) was violated.
	ErrInternalFailure = errors.New("harmony internal failure")

	// ErrDurationEmpty indicates an empty ISO 8601 duration string.
	ErrDurationEmpty = errors.New("duration is empty")

	// ErrInvalidDurationFormat indicates a string that is not a supported
	// ISO 8601 duration.
	ErrInvalidDurationFormat = errors.New("invalid duration format")
)
