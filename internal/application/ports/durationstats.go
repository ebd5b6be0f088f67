package ports

import (
	"context"
	"time"
)

// DurationStats answers the failer's adaptive-threshold question (spec
// §4.8): "per (job, service), a high percentile of observed successful
// durations, with a floor." It is deliberately separate from Repository
// so the many hand-written fakeRepo test doubles elsewhere don't all need
// a stub implementation of a query only the failer uses.
type DurationStats interface {
	// PercentileDuration returns the percentile-th (0..1) duration among
	// SUCCESSFUL work items of (jobID, serviceID), considering at most the
	// limit most recent completions. ok is false when there are no
	// observations yet, in which case the caller falls back to its floor.
	PercentileDuration(ctx context.Context, jobID, serviceID string, percentile float64, limit int) (d time.Duration, ok bool, err error)
}
