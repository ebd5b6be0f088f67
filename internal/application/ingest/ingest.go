// Package ingest implements the update ingester of spec §4.7: drain a
// queue of worker-reported status updates, apply each one to the
// work-item state machine, and always delete the source message to avoid
// poison-message loops. Grounded on the teacher's
// internal/application/worker.GenerationWorker (claim/process/ack shape)
// and ErrorHandler.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/rezkam/mono/internal/apperrors"
	"github.com/rezkam/mono/internal/application/downstream"
	"github.com/rezkam/mono/internal/application/paginator"
	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/application/scheduler"
	"github.com/rezkam/mono/internal/domain"
)

// Config bounds one ingester's behavior. Two Workers are constructed in
// practice, one over the small-update queue and one over the large-update
// queue, differing only in BatchSize (spec §4.7: "up to 10 ... for the
// large queue, 1 to a small configurable cap").
type Config struct {
	BatchSize       int
	WaitSeconds     int
	RetryLimit      int
	MaxErrorsForJob int
	CMRMaxPageSize  int
	Downstream      downstream.Config
}

// Worker drains one update queue.
type Worker struct {
	name         string
	repo         ports.Repository
	queue        domain.Queue
	trigger      domain.Queue
	bs           domain.BlobStore
	cfg          Config
	pager        *paginator.Pager
	errorHandler apperrors.Handler
	done         chan struct{}
	wg           sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithErrorHandler overrides the default error handler.
func WithErrorHandler(h apperrors.Handler) Option {
	return func(w *Worker) { w.errorHandler = h }
}

// New creates an update ingester named name (for logging), reading from
// queue, waking the scheduler via trigger, and writing catalogs to bs.
func New(name string, repo ports.Repository, queue, trigger domain.Queue, bs domain.BlobStore, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		name:         name,
		repo:         repo,
		queue:        queue,
		trigger:      trigger,
		bs:           bs,
		cfg:          cfg,
		pager:        paginator.New(cfg.CMRMaxPageSize),
		errorHandler: apperrors.DefaultHandler{},
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the receive -> process -> delete loop until ctx is cancelled
// or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "update ingester started", "queue", w.name, "batch_size", w.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		default:
		}

		msgs, err := w.queue.Receive(ctx, w.cfg.BatchSize, w.cfg.WaitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "ingester failed to receive", "queue", w.name, "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		w.ProcessBatch(ctx, msgs)
	}
}

// Stop signals the ingester loop to exit after its current iteration.
func (w *Worker) Stop() {
	close(w.done)
}

// pendingUpdate is a decoded envelope grouped under its resolved jobID,
// per spec §4.7 ("grouped by jobID, looked up once per workItemID").
type pendingUpdate struct {
	env Envelope
}

// ProcessBatch applies every update in msgs, grouped by job so that
// updates belonging to the same job are handled by one goroutine (and
// thus in receive order) while different jobs proceed independently.
// Every message is deleted once its update has been attempted, whether it
// succeeded or failed, per spec §4.7's poison-message avoidance. Exported
// so tests can drive a batch directly without a live queue.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []domain.Message) {
	groups := make(map[string][]pendingUpdate)

	for _, m := range msgs {
		env, err := Decode(m.Body)
		if err != nil {
			slog.ErrorContext(ctx, "ingester dropping undecodable message", "queue", w.name, "error", err)
			continue
		}
		jobID, err := w.repo.WorkItemJobID(ctx, env.WorkItemID)
		if err != nil {
			if !errors.Is(err, domain.ErrWorkItemNotFound) {
				slog.ErrorContext(ctx, "ingester failed to resolve work item", "item_id", env.WorkItemID, "error", err)
			}
			continue
		}
		groups[jobID] = append(groups[jobID], pendingUpdate{env: env})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		batchErr error
	)
	for _, group := range groups {
		wg.Add(1)
		go func(group []pendingUpdate) {
			defer wg.Done()
			for _, p := range group {
				if err := w.applyOne(ctx, p.env); err != nil {
					mu.Lock()
					batchErr = multierr.Append(batchErr, err)
					mu.Unlock()
				}
			}
		}(group)
	}
	wg.Wait()

	if batchErr != nil {
		slog.ErrorContext(ctx, "ingester batch completed with errors", "queue", w.name, "jobs", len(groups), "error", batchErr)
	}

	handles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		handles = append(handles, m.ReceiptHandle)
	}
	if err := w.queue.DeleteBatch(ctx, handles); err != nil {
		slog.ErrorContext(ctx, "ingester failed to delete processed batch", "queue", w.name, "error", err)
	}
}

// applyOne applies one update inside its own transaction and fires any
// scheduler-trigger messages the update produced after the transaction
// commits, never inside it (spec §5: store transactions and queue I/O
// stay decoupled). The returned error is for the caller's batch-level
// accounting only; it has already been routed through errorHandler and
// the update's message is always deleted regardless.
func (w *Worker) applyOne(ctx context.Context, env Envelope) error {
	var wake []string
	err := w.repo.Atomic(ctx, func(tx ports.Repository) error {
		triggered, err := w.applyUpdateTx(ctx, tx, env)
		wake = triggered
		return err
	})
	if err != nil {
		if res := w.errorHandler.HandleError(ctx, "", env.WorkItemID, err); res != nil && res.ForceTerminal {
			slog.WarnContext(ctx, "ingester error handler requested forced terminal, update left for failer", "item_id", env.WorkItemID)
		}
		return fmt.Errorf("item %s: %w", env.WorkItemID, err)
	}
	for _, serviceID := range wake {
		if err := scheduler.Trigger(ctx, w.trigger, serviceID); err != nil {
			slog.WarnContext(ctx, "ingester failed to trigger scheduler", "service_id", serviceID, "error", err)
		}
	}
	return nil
}

func lookupNextStep(ctx context.Context, tx ports.Repository, jobID string, stepIndex int) (*domain.WorkflowStep, error) {
	next, err := tx.GetWorkflowStep(ctx, jobID, stepIndex)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load next workflow step %s[%d]: %w", jobID, stepIndex, err)
	}
	return next, nil
}
