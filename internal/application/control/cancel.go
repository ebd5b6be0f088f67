// Package control implements orchestrator-initiated job lifecycle
// operations that originate outside the update-ingestion and scheduler
// paths - currently, user-requested cancellation. A user-facing job
// submission/cancellation API is out of scope (spec.md §1); this package
// is the entry point such an API would call, and is driven directly by
// jobID so it can also be invoked from an operator CLI or admin tool.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// CancelJob implements spec §5's whole-job cancellation: the job is
// transitioned to CANCELED, every non-completed WorkItem of the job is
// bulk-canceled, and the job's UserWork rows are deleted, all inside one
// transaction that locks Job before WorkItem (spec §5's lock order).
// A job already terminal is left unchanged and CancelJob returns nil,
// matching the idempotent-accept semantics §5 gives a late CANCELED
// update.
func CancelJob(ctx context.Context, repo ports.Repository, jobID string) error {
	return repo.Atomic(ctx, func(tx ports.Repository) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				return err
			}
			return fmt.Errorf("failed to load job %s: %w", jobID, err)
		}

		if job.Status.Terminal() {
			return nil
		}

		job.Cancel()
		if err := tx.CancelJobWorkItems(ctx, jobID); err != nil {
			return fmt.Errorf("failed to cancel work items for job %s: %w", jobID, err)
		}
		if err := tx.DeleteUserWorkForJob(ctx, jobID); err != nil {
			return fmt.Errorf("failed to delete user work for job %s: %w", jobID, err)
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("failed to persist canceled job %s: %w", jobID, err)
		}
		return nil
	})
}
