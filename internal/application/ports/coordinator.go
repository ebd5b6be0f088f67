package ports

import (
	"context"
	"time"
)

// Coordinator provides cross-replica exclusive execution, reused from the
// teacher's GenerationCoordinator.TryAcquireExclusiveRun
// (internal/application/worker/coordinator.go) to guarantee only one
// orchestrator replica runs the failer sweep at a time.
type Coordinator interface {
	// TryAcquireExclusiveRun attempts to acquire the named lease for
	// holderID, valid for leaseDuration. acquired is false if another
	// holder currently owns an unexpired lease. release must be called
	// when the caller is done, whether or not it was acquired.
	TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (release func(), acquired bool, err error)
}
