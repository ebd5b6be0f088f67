package downstream_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/application/downstream"
	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
	fsstore "github.com/rezkam/mono/internal/infrastructure/blobstore/fs"
)

// fakeRepo is a minimal in-memory ports.Repository, the same hand-written
// function-free mock idiom used by internal/application/scheduler's tests.
type fakeRepo struct {
	jobs    map[string]*domain.Job
	steps   map[string]*domain.WorkflowStep
	items   map[string]*domain.WorkItem
	uw      map[string]*domain.UserWork
	links   []*domain.JobLink
	errs    []*domain.JobError
	batches map[string]*domain.AggregationBatch
	nextID  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:    map[string]*domain.Job{},
		steps:   map[string]*domain.WorkflowStep{},
		items:   map[string]*domain.WorkItem{},
		uw:      map[string]*domain.UserWork{},
		batches: map[string]*domain.AggregationBatch{},
	}
}

func sKey(jobID string, idx int) string { return fmt.Sprintf("%s|%d", jobID, idx) }
func uwKey(jobID, svc string) string    { return jobID + "|" + svc }

func (f *fakeRepo) Atomic(ctx context.Context, fn func(tx ports.Repository) error) error {
	return fn(f)
}

func (f *fakeRepo) CreateJob(ctx context.Context, job *domain.Job) error { f.jobs[job.ID] = job; return nil }
func (f *fakeRepo) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}
func (f *fakeRepo) UpdateJob(ctx context.Context, job *domain.Job) error { f.jobs[job.ID] = job; return nil }
func (f *fakeRepo) ListActiveJobIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeRepo) CreateWorkflowStep(ctx context.Context, s *domain.WorkflowStep) error {
	f.steps[sKey(s.JobID, s.StepIndex)] = s
	return nil
}
func (f *fakeRepo) GetWorkflowStep(ctx context.Context, jobID string, idx int) (*domain.WorkflowStep, error) {
	s, ok := f.steps[sKey(jobID, idx)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeRepo) ListWorkflowSteps(ctx context.Context, jobID string) ([]*domain.WorkflowStep, error) {
	var out []*domain.WorkflowStep
	for _, s := range f.steps {
		if s.JobID == jobID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeRepo) UpdateWorkflowStep(ctx context.Context, s *domain.WorkflowStep) error {
	f.steps[sKey(s.JobID, s.StepIndex)] = s
	return nil
}

func (f *fakeRepo) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	if item.ID == "" {
		f.nextID++
		item.ID = fmt.Sprintf("item-%d", f.nextID)
	}
	f.items[item.ID] = item
	return nil
}
func (f *fakeRepo) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	i, ok := f.items[id]
	if !ok {
		return nil, domain.ErrWorkItemNotFound
	}
	return i, nil
}
func (f *fakeRepo) WorkItemJobID(ctx context.Context, id string) (string, error) {
	i, ok := f.items[id]
	if !ok {
		return "", domain.ErrWorkItemNotFound
	}
	return i.JobID, nil
}
func (f *fakeRepo) UpdateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	f.items[item.ID] = item
	return nil
}
func (f *fakeRepo) ListWorkItemsByStep(ctx context.Context, jobID string, idx int) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, i := range f.items {
		if i.JobID == jobID && i.StepIndex == idx {
			out = append(out, i)
		}
	}
	return out, nil
}
func (f *fakeRepo) CountWorkItemsByStatus(ctx context.Context, jobID string, idx int, status domain.WorkItemStatus) (int, error) {
	n := 0
	for _, i := range f.items {
		if i.JobID == jobID && i.StepIndex == idx && i.Status == status {
			n++
		}
	}
	return n, nil
}
func (f *fakeRepo) ClaimReadyWorkItem(ctx context.Context, serviceID, username string) (*domain.WorkItem, error) {
	return nil, domain.ErrNoWorkAvailable
}
func (f *fakeRepo) ListExpiredRunningItems(ctx context.Context, threshold time.Time, limit int) ([]*domain.WorkItem, error) {
	return nil, nil
}

func (f *fakeRepo) AddJobLink(ctx context.Context, link *domain.JobLink) error {
	f.links = append(f.links, link)
	return nil
}
func (f *fakeRepo) ListJobLinks(ctx context.Context, jobID string) ([]*domain.JobLink, error) { return f.links, nil }
func (f *fakeRepo) CountJobLinks(ctx context.Context, jobID string) (int, error) {
	n := 0
	for _, l := range f.links {
		if l.JobID == jobID {
			n++
		}
	}
	return n, nil
}
func (f *fakeRepo) AddJobError(ctx context.Context, e *domain.JobError) error { f.errs = append(f.errs, e); return nil }
func (f *fakeRepo) CountJobErrors(ctx context.Context, jobID string) (int, error) {
	n := 0
	for _, e := range f.errs {
		if e.JobID == jobID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) GetUserWork(ctx context.Context, jobID, serviceID string) (*domain.UserWork, error) {
	uw, ok := f.uw[uwKey(jobID, serviceID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return uw, nil
}
func (f *fakeRepo) UpsertUserWork(ctx context.Context, uw *domain.UserWork) error {
	f.uw[uwKey(uw.JobID, uw.ServiceID)] = uw
	return nil
}
func (f *fakeRepo) DeleteUserWork(ctx context.Context, jobID, serviceID string) error {
	delete(f.uw, uwKey(jobID, serviceID))
	return nil
}
func (f *fakeRepo) NextReadyUser(ctx context.Context, serviceID string) (string, error) {
	return "", domain.ErrNoWorkAvailable
}
func (f *fakeRepo) RebuildUserWork(ctx context.Context, jobID string) error { return nil }

func (f *fakeRepo) GetAggregationBatch(ctx context.Context, jobID string, idx int) (*domain.AggregationBatch, error) {
	b, ok := f.batches[sKey(jobID, idx)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}
func (f *fakeRepo) SaveAggregationBatch(ctx context.Context, b *domain.AggregationBatch) error {
	f.batches[sKey(b.JobID, b.StepIndex)] = b
	return nil
}
func (f *fakeRepo) CancelJobWorkItems(ctx context.Context, jobID string) error   { return nil }
func (f *fakeRepo) DeleteUserWorkForJob(ctx context.Context, jobID string) error { return nil }

var _ ports.Repository = (*fakeRepo)(nil)

func newFsStore(t *testing.T) domain.BlobStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "downstream-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	store, err := fsstore.NewStore(dir)
	require.NoError(t, err)
	return store
}

func TestFanOut_StrictlyIncreasingSortIndexes(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	bs := newFsStore(t)

	job := &domain.Job{ID: "job-1", Username: "alice"}
	require.NoError(t, repo.CreateJob(ctx, job))
	nextStep := &domain.WorkflowStep{JobID: job.ID, StepIndex: 2, ServiceID: "svc-b"}
	require.NoError(t, repo.CreateWorkflowStep(ctx, nextStep))

	upstream := &domain.WorkItem{ID: "item-up", JobID: job.ID, StepIndex: 1, SortIndex: 5, Status: domain.ItemSuccessful}
	cfg := downstream.Config{AggregateMaxPageSize: 2000}
	results := []string{"r1", "r2", "r3"}

	err := downstream.Generate(ctx, repo, bs, cfg, downstream.Completion{
		Item: upstream, Job: job, Step: &domain.WorkflowStep{JobID: job.ID, StepIndex: 1},
		NextStep: nextStep, Results: results,
	})
	require.NoError(t, err)

	items, err := repo.ListWorkItemsByStep(ctx, job.ID, 2)
	require.NoError(t, err)
	require.Len(t, items, 3)

	seen := map[int64]bool{}
	for _, it := range items {
		require.False(t, seen[it.SortIndex], "sort indexes must be distinct")
		seen[it.SortIndex] = true
	}
	require.Less(t, repo.items["item-1"].SortIndex, repo.items["item-2"].SortIndex, "sort indexes must increase in emission order")
	require.Less(t, repo.items["item-2"].SortIndex, repo.items["item-3"].SortIndex, "sort indexes must increase in emission order")

	uw, err := repo.GetUserWork(ctx, job.ID, "svc-b")
	require.NoError(t, err)
	require.Equal(t, 3, uw.ReadyCount)
}

func TestAggregateBatched_ByteBoundBindsBeforeCountBound(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	bs := newFsStore(t)

	job := &domain.Job{ID: "job-2", Username: "bob"}
	require.NoError(t, repo.CreateJob(ctx, job))
	step := &domain.WorkflowStep{JobID: job.ID, StepIndex: 1, WorkItemCount: 10}
	nextStep := &domain.WorkflowStep{JobID: job.ID, StepIndex: 2, ServiceID: "svc-agg", HasAggregatedOutput: true, IsBatched: true}
	require.NoError(t, repo.CreateWorkflowStep(ctx, step))
	require.NoError(t, repo.CreateWorkflowStep(ctx, nextStep))

	cfg := downstream.Config{AggregateMaxPageSize: 2000, MaxBatchInputs: 3, MaxBatchSizeBytes: 10000}

	for i := 0; i < 10; i++ {
		step.CompletedCount++
		upstream := &domain.WorkItem{
			ID: fmt.Sprintf("up-%d", i), JobID: job.ID, StepIndex: 1,
			SortIndex: int64(i), Status: domain.ItemSuccessful,
		}
		err := downstream.Generate(ctx, repo, bs, cfg, downstream.Completion{
			Item: upstream, Job: job, Step: step, NextStep: nextStep,
			Results: []string{fmt.Sprintf("result-%d", i)},
			Sizes:   []int64{4000},
		})
		require.NoError(t, err)
	}

	items, err := repo.ListWorkItemsByStep(ctx, job.ID, 2)
	require.NoError(t, err)
	require.Len(t, items, 5, "ten 4000-byte inputs under a 10000-byte bound must flush as five batches of two")
}

func TestFinalize_SuccessfulLeafCompletesJob(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	bs := newFsStore(t)

	job := &domain.Job{ID: "job-3", Username: "carol"}
	require.NoError(t, repo.CreateJob(ctx, job))
	step := &domain.WorkflowStep{JobID: job.ID, StepIndex: 2, WorkItemCount: 1, CompletedCount: 1}
	require.NoError(t, repo.CreateWorkflowStep(ctx, step))

	item := &domain.WorkItem{ID: "leaf-1", JobID: job.ID, StepIndex: 2, Status: domain.ItemSuccessful}
	cfg := downstream.Config{}

	err := downstream.Generate(ctx, repo, bs, cfg, downstream.Completion{
		Item: item, Job: job, Step: step, NextStep: nil, Results: []string{"final-asset"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.JobSuccessful, job.Status)
	require.Equal(t, 100, job.Progress)
	require.Len(t, repo.links, 1)
}

func TestFinalize_ProgressUsesLeafStepWorkItemCountNotStepCount(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	bs := newFsStore(t)

	// 4 input granules paginated cmrMaxPageSize=2 apart: a paginator step
	// and a leaf step both have WorkItemCount>0, but only the leaf step's
	// own WorkItemCount (4 leaf items, one per granule) is the correct
	// progress denominator - not the count of qualifying steps (2).
	job := &domain.Job{ID: "job-4", Username: "dave", NumInputGranules: 4}
	require.NoError(t, repo.CreateJob(ctx, job))
	paginatorStep := &domain.WorkflowStep{JobID: job.ID, StepIndex: 1, WorkItemCount: 2}
	leafStep := &domain.WorkflowStep{JobID: job.ID, StepIndex: 2, WorkItemCount: 4, CompletedCount: 2}
	require.NoError(t, repo.CreateWorkflowStep(ctx, paginatorStep))
	require.NoError(t, repo.CreateWorkflowStep(ctx, leafStep))

	cfg := downstream.Config{}
	for i := 0; i < 2; i++ {
		item := &domain.WorkItem{ID: fmt.Sprintf("leaf-%d", i), JobID: job.ID, StepIndex: 2, Status: domain.ItemSuccessful}
		err := downstream.Generate(ctx, repo, bs, cfg, downstream.Completion{
			Item: item, Job: job, Step: leafStep, NextStep: nil, Results: []string{"asset"},
		})
		require.NoError(t, err)
	}

	require.Equal(t, 2, job.CompletedBatches)
	require.Equal(t, 4, job.ExpectedBatches)
	require.Equal(t, 50, job.Progress, "only half of the 4 leaf items have completed")
	require.NotEqual(t, domain.JobSuccessful, job.Status, "the job must not be reported done while leaf items remain")
}
