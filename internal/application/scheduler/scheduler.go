// Package scheduler implements the fair multi-tenant work dispatcher of
// spec §4.2: for a given service, pick the user with the least RunningCount
// (tie-broken by the oldest LastWorked), claim one of their READY items,
// and flip it to RUNNING - all inside one transaction so the UserWork
// ledger and the WorkItem row never drift apart (spec §5's lock order,
// Job -> WorkItem -> UserWork).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rezkam/mono/internal/apperrors"
	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// Scheduler dispatches READY work items fairly across users, one service
// at a time, woken either by a scheduler-trigger queue message or by its
// own poll ticker.
type Scheduler struct {
	repo         ports.Repository
	trigger      domain.Queue
	pollInterval time.Duration
	errorHandler apperrors.Handler
	done         chan struct{}
	wg           sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides how often the scheduler polls the trigger
// queue when idle.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithErrorHandler overrides the default error handler.
func WithErrorHandler(h apperrors.Handler) Option {
	return func(s *Scheduler) { s.errorHandler = h }
}

// New creates a Scheduler over repo, woken by messages on trigger.
func New(repo ports.Repository, trigger domain.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:         repo,
		trigger:      trigger,
		pollInterval: time.Second,
		errorHandler: apperrors.DefaultHandler{},
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
// Each trigger message names one serviceID to attempt a dispatch for.
func (s *Scheduler) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-s.done:
			s.wg.Wait()
			return nil
		default:
		}

		msgs, err := s.trigger.Receive(ctx, 1, int(s.pollInterval/time.Second))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.wg.Wait()
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "scheduler failed to receive trigger", "error", err)
			continue
		}
		for _, m := range msgs {
			serviceID := string(m.Body)
			if _, err := s.Dispatch(ctx, serviceID); err != nil && !errors.Is(err, domain.ErrNoWorkAvailable) {
				s.errorHandler.HandleError(ctx, "", "", fmt.Errorf("dispatch for %s: %w", serviceID, err))
			}
			if err := s.trigger.Delete(ctx, m.ReceiptHandle); err != nil {
				slog.WarnContext(ctx, "failed to delete trigger message", "error", err)
			}
		}
	}
}

// Stop signals the scheduler loop to exit after its current iteration.
func (s *Scheduler) Stop() {
	close(s.done)
}

// Dispatch attempts one fair dispatch for serviceID: pick the
// least-loaded user with ready work, claim one of their READY items, and
// flip it to RUNNING along with its UserWork ledger row. Returns
// domain.ErrNoWorkAvailable when no user currently has ready work for
// serviceID.
func (s *Scheduler) Dispatch(ctx context.Context, serviceID string) (*domain.WorkItem, error) {
	var dispatched *domain.WorkItem

	err := s.repo.Atomic(ctx, func(tx ports.Repository) error {
		username, err := tx.NextReadyUser(ctx, serviceID)
		if err != nil {
			return err
		}

		item, err := tx.ClaimReadyWorkItem(ctx, serviceID, username)
		if err != nil {
			return err
		}

		if blocked, err := sequentialStepBlocked(ctx, tx, item); err != nil {
			return err
		} else if blocked {
			return domain.ErrNoWorkAvailable
		}

		uw, err := tx.GetUserWork(ctx, item.JobID, serviceID)
		if err != nil {
			return fmt.Errorf("failed to load user work for dispatch: %w", err)
		}

		now := time.Now().UTC()
		if err := item.Dispatch(now); err != nil {
			return err
		}
		uw.OnDispatch(now)

		if err := tx.UpdateWorkItem(ctx, item); err != nil {
			return err
		}
		if err := tx.UpsertUserWork(ctx, uw); err != nil {
			return err
		}

		dispatched = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "dispatched work item", "item_id", dispatched.ID, "job_id", dispatched.JobID, "service_id", serviceID)
	return dispatched, nil
}

// sequentialStepBlocked enforces the paginator's cap of one in-flight
// item at a time for IsSequential steps (spec §4.5): a paginator item's
// next page must not be claimed until the prior one completes.
func sequentialStepBlocked(ctx context.Context, tx ports.Repository, item *domain.WorkItem) (bool, error) {
	step, err := tx.GetWorkflowStep(ctx, item.JobID, item.StepIndex)
	if err != nil {
		return false, fmt.Errorf("failed to load workflow step for %s: %w", item.ID, err)
	}
	if !step.IsSequential {
		return false, nil
	}

	running, err := tx.CountWorkItemsByStatus(ctx, item.JobID, item.StepIndex, domain.ItemRunning)
	if err != nil {
		return false, fmt.Errorf("failed to count running items for sequential step %s[%d]: %w", item.JobID, item.StepIndex, err)
	}
	return running > 0, nil
}

// Trigger enqueues a dispatch attempt for serviceID, called whenever new
// READY work for that service might exist (item creation, retry, or a
// prior dispatch completing).
func Trigger(ctx context.Context, q domain.Queue, serviceID string) error {
	return q.Send(ctx, []byte(serviceID), serviceID)
}
