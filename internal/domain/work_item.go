package domain

import "time"

// WorkItem is a single unit of dispatchable work within a job's step.
//
// SortIndex is unique within (JobID, StepIndex) and preserves provenance
// from the upstream item(s) that produced this one (spec §9, design note
// "cyclic graphs": items reference upstream items by adjacency, not object
// reference - ParentSortIndex below is that adjacency key for fan-out
// items).
type WorkItem struct {
	ID              string
	JobID           string
	StepIndex       int
	ServiceID       string
	Status          WorkItemStatus
	CatalogLocation string // input blob URL
	ScrollToken     string // paginator only
	SortIndex       int64
	RetryCount      int
	StartedAt       *time.Time
	Duration        time.Duration
	TotalItemsSize  int64
	OutputItemSizes []int64

	// ParentSortIndex is the upstream SortIndex a fan-out item was
	// generated from, recorded without holding object references (spec
	// §9). Aggregating items do not set it, and aggregation does not read
	// it.
	ParentSortIndex int64
}

// Dispatch flips a READY item to RUNNING. Callers must hold the row lock
// and apply the accompanying UserWork delta atomically (spec §4.1).
func (w *WorkItem) Dispatch(now time.Time) error {
	if w.Status != ItemReady {
		return ErrInternalFailure
	}
	w.Status = ItemRunning
	w.StartedAt = &now
	return nil
}

// Retry resets a FAILED item back to READY, incrementing RetryCount. This
// is the one exception to "completed items never transition" (spec §3).
func (w *WorkItem) Retry() {
	w.Status = ItemReady
	w.RetryCount++
	w.StartedAt = nil
}

// CanRetry reports whether a FAILED item is still under the retry budget.
func (w *WorkItem) CanRetry(retryLimit int) bool {
	return w.RetryCount < retryLimit
}

// ApplyDuration keeps the larger of the wall-clock-observed duration and
// the worker-reported duration, per spec §4.7.
func (w *WorkItem) ApplyDuration(wallClock, reported time.Duration) {
	if reported > wallClock {
		w.Duration = reported
	} else {
		w.Duration = wallClock
	}
}
