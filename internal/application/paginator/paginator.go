// Package paginator implements the catalog-pagination step of spec §4.5:
// the paginator is always step 1, its items are isSequential, and each
// one asks the metadata catalog for up to cmrMaxPageSize granules before
// handing a scrollToken to its successor. Adapted from the teacher's
// PatternCalculator/Generator pair (internal/recurring/{calculator,
// generator}.go), which turns a recurrence pattern into the next
// occurrence and then into generated instances; here the "pattern" is a
// scroll token and the "instance" is a successor WorkItem.
package paginator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// Pager computes dispatch bounds and successor items for the paginator
// step, parameterized by the catalog page size.
type Pager struct {
	cmrMaxPageSize int
}

// New returns a Pager bounding every paginator page at cmrMaxPageSize
// granules.
func New(cmrMaxPageSize int) *Pager {
	return &Pager{cmrMaxPageSize: cmrMaxPageSize}
}

// MaxGranules implements spec §4.5's dispatch contract:
//
//	maxGranules(job) = max(0, min(cmrMaxPageSize,
//	                      numInputGranules - successfulPaginatorItems*cmrMaxPageSize))
//
// A result of zero means the paginator is finished and the item must not
// be dispatched.
func (p *Pager) MaxGranules(numInputGranules, successfulPaginatorItems int) int {
	remaining := numInputGranules - successfulPaginatorItems*p.cmrMaxPageSize
	if remaining > p.cmrMaxPageSize {
		remaining = p.cmrMaxPageSize
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ApplyHits folds a revised `hits` count reported by a successful
// paginator update into the job and every workflow step, per spec §4.5:
// shrinking the budget retires already-created-but-never-needed future
// work, growing it is ignored (the budget was fixed at submission).
// Recomputed steps are persisted here; returns true if anything changed
// and the caller must persist the job.
func (p *Pager) ApplyHits(ctx context.Context, tx ports.Repository, job *domain.Job, hits int) (bool, error) {
	if !job.ShrinkGranules(hits) {
		return false, nil
	}

	steps, err := tx.ListWorkflowSteps(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list workflow steps for %s: %w", job.ID, err)
	}
	for _, step := range steps {
		domain.RecomputeWorkItemCount(step, job.NumInputGranules, p.cmrMaxPageSize)
		if err := tx.UpdateWorkflowStep(ctx, step); err != nil {
			return false, fmt.Errorf("failed to persist recomputed step %s[%d]: %w", job.ID, step.StepIndex, err)
		}
	}
	return true, nil
}

// NextSuccessor builds the successor READY paginator WorkItem inheriting
// scrollToken from a completed item, with SortIndex = previous.SortIndex+1
// (spec §4.5). Returns nil if no successor should be created (maxGranules
// has reached zero).
func NextSuccessor(prev *domain.WorkItem, scrollToken string, maxGranules int) *domain.WorkItem {
	if maxGranules <= 0 {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		// Extremely rare; the caller still needs a usable ID to persist.
		id = uuid.New()
	}
	return &domain.WorkItem{
		ID:          id.String(),
		JobID:       prev.JobID,
		StepIndex:   prev.StepIndex,
		ServiceID:   prev.ServiceID,
		Status:      domain.ItemReady,
		ScrollToken: scrollToken,
		SortIndex:   prev.SortIndex + 1,
	}
}
