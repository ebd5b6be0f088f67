package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rezkam/mono/internal/application/downstream"
	"github.com/rezkam/mono/internal/application/paginator"
	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// applyUpdateTx is the control flow of spec §4.7: load and lock Job then
// WorkItem (in that order, per spec §5), handle early-exit cases,
// transition the item, adjust UserWork, record errors, and invoke
// downstream generation. Returns the serviceIDs whose queues gained work
// and should be woken once the transaction commits.
func (w *Worker) applyUpdateTx(ctx context.Context, tx ports.Repository, env Envelope) ([]string, error) {
	jobID, err := tx.WorkItemJobID(ctx, env.WorkItemID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve job id for work item %s: %w", env.WorkItemID, err)
	}

	job, err := tx.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	// Re-fetch the item now that the Job row is locked, per spec §5's
	// lock order: Job row first, then WorkItem row.
	item, err := tx.GetWorkItem(ctx, env.WorkItemID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load work item %s: %w", env.WorkItemID, err)
	}

	if job.Status.Terminal() {
		return nil, nil
	}
	if item.Status.Completed() {
		return nil, nil
	}

	step, err := tx.GetWorkflowStep(ctx, item.JobID, item.StepIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow step %s[%d]: %w", item.JobID, item.StepIndex, err)
	}

	uw, err := tx.GetUserWork(ctx, item.JobID, item.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user work for %s/%s: %w", item.JobID, item.ServiceID, err)
	}

	update := env.toUpdate()

	switch update.Kind {
	case domain.UpdateCancel:
		return nil, w.applyCancel(ctx, tx, item, uw)
	case domain.UpdateFailure:
		return w.applyFailure(ctx, tx, job, item, step, uw, update)
	default:
		return w.applySuccess(ctx, tx, job, item, step, uw, update)
	}
}

// applyCancel implements the explicit CANCELED variant: a status update
// accepted after the job is already terminal is handled above (silent
// accept); this path is for a worker-reported cancellation of a still-live
// item.
func (w *Worker) applyCancel(ctx context.Context, tx ports.Repository, item *domain.WorkItem, uw *domain.UserWork) error {
	item.Status = domain.ItemCanceled
	uw.OnCompleted()
	if err := tx.UpdateWorkItem(ctx, item); err != nil {
		return fmt.Errorf("failed to persist canceled item %s: %w", item.ID, err)
	}
	if err := tx.UpsertUserWork(ctx, uw); err != nil {
		return fmt.Errorf("failed to persist user work for canceled item %s: %w", item.ID, err)
	}
	return nil
}

// applyFailure implements spec §4.1/§4.7's failure branch: retry while
// budget remains, otherwise record a JobError and decide whether the job
// itself becomes terminal (spec §3, §7: paginator failures are always
// terminal; other steps only via the error-count or !ignoreErrors rules).
func (w *Worker) applyFailure(ctx context.Context, tx ports.Repository, job *domain.Job, item *domain.WorkItem, step *domain.WorkflowStep, uw *domain.UserWork, update domain.Update) ([]string, error) {
	isPaginator := step.StepIndex == 1

	if !isPaginator && item.CanRetry(w.cfg.RetryLimit) {
		item.Retry()
		uw.OnRetry()
		if err := tx.UpdateWorkItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to persist retried item %s: %w", item.ID, err)
		}
		if err := tx.UpsertUserWork(ctx, uw); err != nil {
			return nil, fmt.Errorf("failed to persist user work for retried item %s: %w", item.ID, err)
		}
		return []string{item.ServiceID}, nil
	}

	item.Status = domain.ItemFailed
	uw.OnCompleted()
	step.CompletedCount++
	if err := tx.UpdateWorkItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist failed item %s: %w", item.ID, err)
	}
	if err := tx.UpsertUserWork(ctx, uw); err != nil {
		return nil, fmt.Errorf("failed to persist user work for failed item %s: %w", item.ID, err)
	}
	if err := tx.UpdateWorkflowStep(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to persist step %s[%d]: %w", item.JobID, item.StepIndex, err)
	}
	if err := tx.AddJobError(ctx, &domain.JobError{JobID: item.JobID, URL: item.CatalogLocation, Message: update.Message}); err != nil {
		return nil, fmt.Errorf("failed to record job error for %s: %w", item.ID, err)
	}

	terminal := isPaginator
	if !terminal {
		count, err := tx.CountJobErrors(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count job errors for %s: %w", job.ID, err)
		}
		if count > w.cfg.MaxErrorsForJob {
			terminal = true
		} else if !job.IgnoreErrors {
			terminal = true
		}
	}

	if terminal {
		job.Fail(update.Message)
		if err := tx.CancelJobWorkItems(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("failed to cancel remaining work items for %s: %w", job.ID, err)
		}
		if err := tx.DeleteUserWorkForJob(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("failed to delete user work for %s: %w", job.ID, err)
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to persist failed job %s: %w", job.ID, err)
		}
		return nil, nil
	}

	nextStep, err := lookupNextStep(ctx, tx, job.ID, step.StepIndex+1)
	if err != nil {
		return nil, err
	}
	if err := downstream.Generate(ctx, tx, w.bs, w.cfg.Downstream, downstream.Completion{
		Item: item, Job: job, Step: step, NextStep: nextStep,
	}); err != nil {
		return nil, err
	}
	if err := tx.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}

	var wake []string
	if nextStep != nil {
		wake = append(wake, nextStep.ServiceID)
	}
	return wake, nil
}

// applySuccess implements spec §4.1/§4.5/§4.7's success branch: apply
// duration/size fields, shrink numInputGranules from a revised hits count,
// spawn a paginator successor if applicable, and invoke downstream
// generation.
func (w *Worker) applySuccess(ctx context.Context, tx ports.Repository, job *domain.Job, item *domain.WorkItem, step *domain.WorkflowStep, uw *domain.UserWork, update domain.Update) ([]string, error) {
	wallClock := time.Duration(0)
	if item.StartedAt != nil {
		wallClock = time.Since(*item.StartedAt)
	}
	item.ApplyDuration(wallClock, update.Duration)
	item.Status = domain.ItemSuccessful
	item.TotalItemsSize = update.TotalItemsSize
	item.OutputItemSizes = update.OutputItemSizes
	uw.OnCompleted()
	step.CompletedCount++

	if err := tx.UpdateWorkItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist succeeded item %s: %w", item.ID, err)
	}
	if err := tx.UpsertUserWork(ctx, uw); err != nil {
		return nil, fmt.Errorf("failed to persist user work for succeeded item %s: %w", item.ID, err)
	}

	var wake []string

	// Persist the CompletedCount bump before ApplyHits, which re-reads and
	// re-persists every step: the recompute must see this item's
	// completion, not the pre-transition row.
	if err := tx.UpdateWorkflowStep(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to persist step %s[%d]: %w", item.JobID, item.StepIndex, err)
	}

	if step.StepIndex == 1 {
		if update.Hits != nil {
			if _, err := w.pager.ApplyHits(ctx, tx, job, *update.Hits); err != nil {
				return nil, err
			}
			refreshed, err := tx.GetWorkflowStep(ctx, item.JobID, item.StepIndex)
			if err != nil {
				return nil, fmt.Errorf("failed to reload step %s[%d] after hits shrink: %w", item.JobID, item.StepIndex, err)
			}
			step = refreshed
		}

		successful, err := tx.CountWorkItemsByStatus(ctx, item.JobID, item.StepIndex, domain.ItemSuccessful)
		if err != nil {
			return nil, fmt.Errorf("failed to count successful paginator items for %s: %w", item.JobID, err)
		}
		maxGranules := w.pager.MaxGranules(job.NumInputGranules, successful)
		if successor := paginator.NextSuccessor(item, update.ScrollToken, maxGranules); successor != nil {
			if err := tx.CreateWorkItem(ctx, successor); err != nil {
				return nil, fmt.Errorf("failed to create paginator successor for %s: %w", item.JobID, err)
			}
			uw.OnReady(1)
			if err := tx.UpsertUserWork(ctx, uw); err != nil {
				return nil, fmt.Errorf("failed to persist user work for paginator successor: %w", err)
			}
			wake = append(wake, successor.ServiceID)
		}
	}

	nextStep, err := lookupNextStep(ctx, tx, job.ID, step.StepIndex+1)
	if err != nil {
		return nil, err
	}
	if err := downstream.Generate(ctx, tx, w.bs, w.cfg.Downstream, downstream.Completion{
		Item: item, Job: job, Step: step, NextStep: nextStep,
		Results: update.Results, Sizes: update.OutputItemSizes,
	}); err != nil {
		return nil, err
	}
	if err := tx.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	if nextStep != nil {
		wake = append(wake, nextStep.ServiceID)
	}
	return wake, nil
}
