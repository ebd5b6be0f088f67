// Package ports declares the persistence and messaging interfaces the
// application layer depends on. Infrastructure packages implement them;
// scheduler, downstream, paginator, ingest, and failer depend only on
// these interfaces, never on a concrete store.
package ports

import (
	"context"
	"time"

	"github.com/rezkam/mono/internal/domain"
)

// Repository is the single transactional port over the orchestration
// store. Job, WorkItem, and UserWork mutations are frequently combined in
// one transaction (spec §4.2's nextUser/nextJob/popReady protocol, §4.6's
// leaf-completion handling), so the port intentionally spans every
// orchestration table rather than splitting into one interface per
// aggregate.
type Repository interface {
	// Atomic runs fn inside a single database transaction, committing on
	// nil return and rolling back otherwise. fn receives a Repository
	// bound to that transaction; nested Atomic calls are not supported.
	Atomic(ctx context.Context, fn func(tx Repository) error) error

	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	ListActiveJobIDs(ctx context.Context) ([]string, error)

	CreateWorkflowStep(ctx context.Context, step *domain.WorkflowStep) error
	GetWorkflowStep(ctx context.Context, jobID string, stepIndex int) (*domain.WorkflowStep, error)
	ListWorkflowSteps(ctx context.Context, jobID string) ([]*domain.WorkflowStep, error)
	UpdateWorkflowStep(ctx context.Context, step *domain.WorkflowStep) error

	CreateWorkItem(ctx context.Context, item *domain.WorkItem) error
	GetWorkItem(ctx context.Context, itemID string) (*domain.WorkItem, error)
	// WorkItemJobID resolves the owning JobID of a work item without
	// taking a row lock, so a caller that starts from a WorkItemID can
	// still lock the Job row before the WorkItem row (spec §5's lock
	// order), re-fetching the WorkItem with GetWorkItem afterward.
	WorkItemJobID(ctx context.Context, itemID string) (string, error)
	UpdateWorkItem(ctx context.Context, item *domain.WorkItem) error
	ListWorkItemsByStep(ctx context.Context, jobID string, stepIndex int) ([]*domain.WorkItem, error)
	CountWorkItemsByStatus(ctx context.Context, jobID string, stepIndex int, status domain.WorkItemStatus) (int, error)

	// ClaimReadyWorkItem implements the scheduler's popReady step (spec
	// §4.2): it locks and returns one READY item for serviceID belonging
	// to username, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent
	// schedulers never double-claim the same item. Returns
	// domain.ErrNoWorkAvailable when nothing is ready.
	ClaimReadyWorkItem(ctx context.Context, serviceID, username string) (*domain.WorkItem, error)

	// ListExpiredRunningItems returns RUNNING items whose StartedAt is
	// older than threshold, for the failer's sweep (spec §4.8).
	ListExpiredRunningItems(ctx context.Context, threshold time.Time, limit int) ([]*domain.WorkItem, error)

	AddJobLink(ctx context.Context, link *domain.JobLink) error
	ListJobLinks(ctx context.Context, jobID string) ([]*domain.JobLink, error)
	CountJobLinks(ctx context.Context, jobID string) (int, error)

	AddJobError(ctx context.Context, jobErr *domain.JobError) error
	CountJobErrors(ctx context.Context, jobID string) (int, error)

	GetUserWork(ctx context.Context, jobID, serviceID string) (*domain.UserWork, error)
	UpsertUserWork(ctx context.Context, uw *domain.UserWork) error
	DeleteUserWork(ctx context.Context, jobID, serviceID string) error

	// NextReadyUser implements the fairness selection of spec §4.2 /
	// §8's tie-break property: among usernames with ReadyCount > 0 for
	// serviceID, it returns the one with the lowest sum of RunningCount
	// across their jobs, breaking ties by the oldest LastWorked. Returns
	// domain.ErrNoWorkAvailable when no user has ready work.
	NextReadyUser(ctx context.Context, serviceID string) (username string, err error)

	// RebuildUserWork recomputes every UserWork row for jobID from the
	// current WorkItem rows via a SQL aggregation, replacing whatever was
	// there before (spec §4.2's "rebuild discipline"). Used on store
	// restart and when a job resumes from PAUSED.
	RebuildUserWork(ctx context.Context, jobID string) error

	// GetAggregationBatch returns the pending batched-aggregation buffer
	// for (jobID, stepIndex), or domain.ErrNotFound if none has been
	// created yet (spec §4.4).
	GetAggregationBatch(ctx context.Context, jobID string, stepIndex int) (*domain.AggregationBatch, error)

	// SaveAggregationBatch upserts the pending buffer for (jobID,
	// StepIndex).
	SaveAggregationBatch(ctx context.Context, batch *domain.AggregationBatch) error

	// CancelJobWorkItems bulk-transitions every non-completed WorkItem of
	// jobID to CANCELED (spec §5's cancellation semantics).
	CancelJobWorkItems(ctx context.Context, jobID string) error

	// DeleteUserWorkForJob removes every UserWork row for jobID, the other
	// half of job cancellation (spec §5).
	DeleteUserWorkForJob(ctx context.Context, jobID string) error
}
