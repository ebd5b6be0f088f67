package scheduler_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/application/scheduler"
	"github.com/rezkam/mono/internal/domain"
)

// fakeRepo is a minimal in-memory ports.Repository used to exercise the
// scheduler's dispatch protocol without a database, in the spirit of the
// teacher's hand-written mockRepository (no mocking framework).
type fakeRepo struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	steps map[string]*domain.WorkflowStep // key: jobID|stepIndex
	items map[string]*domain.WorkItem
	uw    map[string]*domain.UserWork // key: jobID|serviceID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:  map[string]*domain.Job{},
		steps: map[string]*domain.WorkflowStep{},
		items: map[string]*domain.WorkItem{},
		uw:    map[string]*domain.UserWork{},
	}
}

func stepKey(jobID string, stepIndex int) string { return fmt.Sprintf("%s|%d", jobID, stepIndex) }

func (f *fakeRepo) Atomic(ctx context.Context, fn func(tx ports.Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

func (f *fakeRepo) CreateJob(ctx context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}
func (f *fakeRepo) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}
func (f *fakeRepo) UpdateJob(ctx context.Context, job *domain.Job) error {
	f.jobs[job.ID] = job
	return nil
}
func (f *fakeRepo) ListActiveJobIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range f.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeRepo) CreateWorkflowStep(ctx context.Context, step *domain.WorkflowStep) error {
	f.steps[stepKey(step.JobID, step.StepIndex)] = step
	return nil
}
func (f *fakeRepo) GetWorkflowStep(ctx context.Context, jobID string, stepIndex int) (*domain.WorkflowStep, error) {
	s, ok := f.steps[stepKey(jobID, stepIndex)]
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
func (f *fakeRepo) UpdateWorkflowStep(ctx context.Context, step *domain.WorkflowStep) error {
	f.steps[stepKey(step.JobID, step.StepIndex)] = step
	return nil
}

func (f *fakeRepo) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	if item.ID == "" {
		item.ID = fmt.Sprintf("item-%d", len(f.items)+1)
	}
	f.items[item.ID] = item
	return nil
}
func (f *fakeRepo) GetWorkItem(ctx context.Context, itemID string) (*domain.WorkItem, error) {
	i, ok := f.items[itemID]
	if !ok {
		return nil, domain.ErrWorkItemNotFound
	}
	return i, nil
}
func (f *fakeRepo) WorkItemJobID(ctx context.Context, itemID string) (string, error) {
	i, ok := f.items[itemID]
	if !ok {
		return "", domain.ErrWorkItemNotFound
	}
	return i.JobID, nil
}
func (f *fakeRepo) UpdateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	f.items[item.ID] = item
	return nil
}
func (f *fakeRepo) ListWorkItemsByStep(ctx context.Context, jobID string, stepIndex int) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, i := range f.items {
		if i.JobID == jobID && i.StepIndex == stepIndex {
			out = append(out, i)
		}
	}
	return out, nil
}
func (f *fakeRepo) CountWorkItemsByStatus(ctx context.Context, jobID string, stepIndex int, status domain.WorkItemStatus) (int, error) {
	n := 0
	for _, i := range f.items {
		if i.JobID == jobID && i.StepIndex == stepIndex && i.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ClaimReadyWorkItem(ctx context.Context, serviceID, username string) (*domain.WorkItem, error) {
	var candidates []*domain.WorkItem
	for _, i := range f.items {
		job := f.jobs[i.JobID]
		if i.ServiceID == serviceID && i.Status == domain.ItemReady && job != nil && job.Username == username {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoWorkAvailable
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].SortIndex < candidates[b].SortIndex })
	return candidates[0], nil
}

func (f *fakeRepo) ListExpiredRunningItems(ctx context.Context, threshold time.Time, limit int) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, i := range f.items {
		if i.Status == domain.ItemRunning && i.StartedAt != nil && i.StartedAt.Before(threshold) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *fakeRepo) AddJobLink(ctx context.Context, link *domain.JobLink) error { return nil }
func (f *fakeRepo) ListJobLinks(ctx context.Context, jobID string) ([]*domain.JobLink, error) {
	return nil, nil
}
func (f *fakeRepo) CountJobLinks(ctx context.Context, jobID string) (int, error) { return 0, nil }
func (f *fakeRepo) AddJobError(ctx context.Context, jobErr *domain.JobError) error { return nil }
func (f *fakeRepo) CountJobErrors(ctx context.Context, jobID string) (int, error) { return 0, nil }

func (f *fakeRepo) uwKey(jobID, serviceID string) string { return jobID + "|" + serviceID }
func (f *fakeRepo) GetUserWork(ctx context.Context, jobID, serviceID string) (*domain.UserWork, error) {
	uw, ok := f.uw[f.uwKey(jobID, serviceID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return uw, nil
}
func (f *fakeRepo) UpsertUserWork(ctx context.Context, uw *domain.UserWork) error {
	f.uw[f.uwKey(uw.JobID, uw.ServiceID)] = uw
	return nil
}
func (f *fakeRepo) DeleteUserWork(ctx context.Context, jobID, serviceID string) error {
	delete(f.uw, f.uwKey(jobID, serviceID))
	return nil
}

func (f *fakeRepo) NextReadyUser(ctx context.Context, serviceID string) (string, error) {
	// A username qualifies by having ready work for serviceID, but once
	// qualified its load is summed across ALL of its (job, service) rows,
	// not just its row for serviceID (spec §4.2 step 1, boundary scenario
	// 6: a user busy on one service must not look idle to another).
	eligible := map[string]bool{}
	for _, uw := range f.uw {
		if uw.ServiceID == serviceID && uw.ReadyCount > 0 {
			eligible[uw.Username] = true
		}
	}
	if len(eligible) == 0 {
		return "", domain.ErrNoWorkAvailable
	}

	type candidate struct {
		username     string
		runningTotal int
		lastWorked   time.Time
	}
	totals := map[string]*candidate{}
	for _, uw := range f.uw {
		if !eligible[uw.Username] {
			continue
		}
		c, ok := totals[uw.Username]
		if !ok {
			c = &candidate{username: uw.Username}
			totals[uw.Username] = c
		}
		c.runningTotal += uw.RunningCount
		if uw.LastWorked.After(c.lastWorked) {
			c.lastWorked = uw.LastWorked
		}
	}

	var candidates []*candidate
	for _, c := range totals {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].runningTotal != candidates[b].runningTotal {
			return candidates[a].runningTotal < candidates[b].runningTotal
		}
		return candidates[a].lastWorked.Before(candidates[b].lastWorked)
	})
	return candidates[0].username, nil
}

func (f *fakeRepo) RebuildUserWork(ctx context.Context, jobID string) error { return nil }

func (f *fakeRepo) GetAggregationBatch(ctx context.Context, jobID string, stepIndex int) (*domain.AggregationBatch, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeRepo) SaveAggregationBatch(ctx context.Context, batch *domain.AggregationBatch) error {
	return nil
}
func (f *fakeRepo) CancelJobWorkItems(ctx context.Context, jobID string) error {
	for _, i := range f.items {
		if i.JobID == jobID && !i.Status.Completed() {
			i.Status = domain.ItemCanceled
		}
	}
	return nil
}
func (f *fakeRepo) DeleteUserWorkForJob(ctx context.Context, jobID string) error {
	for k, uw := range f.uw {
		if uw.JobID == jobID {
			delete(f.uw, k)
		}
	}
	return nil
}

var _ ports.Repository = (*fakeRepo)(nil)

func TestScheduler_DispatchPicksLeastLoadedUser(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()

	require.NoError(t, repo.CreateJob(ctx, &domain.Job{ID: "job-a", Username: "alice", Status: domain.JobRunning}))
	require.NoError(t, repo.CreateJob(ctx, &domain.Job{ID: "job-b", Username: "bob", Status: domain.JobRunning}))
	require.NoError(t, repo.CreateWorkItem(ctx, &domain.WorkItem{ID: "item-a", JobID: "job-a", ServiceID: "svc", Status: domain.ItemReady, SortIndex: 1}))
	require.NoError(t, repo.CreateWorkItem(ctx, &domain.WorkItem{ID: "item-b", JobID: "job-b", ServiceID: "svc", Status: domain.ItemReady, SortIndex: 1}))

	require.NoError(t, repo.UpsertUserWork(ctx, &domain.UserWork{JobID: "job-a", ServiceID: "svc", Username: "alice", ReadyCount: 1, RunningCount: 3}))
	require.NoError(t, repo.UpsertUserWork(ctx, &domain.UserWork{JobID: "job-b", ServiceID: "svc", Username: "bob", ReadyCount: 1, RunningCount: 0}))

	sched := scheduler.New(repo, nil)
	item, err := sched.Dispatch(ctx, "svc")
	require.NoError(t, err)
	require.Equal(t, "item-b", item.ID, "bob has fewer running items and should be dispatched first")
	require.Equal(t, domain.ItemRunning, item.Status)
}

func TestScheduler_DispatchSumsRunningLoadAcrossAllServices(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()

	require.NoError(t, repo.CreateJob(ctx, &domain.Job{ID: "job-a", Username: "alice", Status: domain.JobRunning}))
	require.NoError(t, repo.CreateJob(ctx, &domain.Job{ID: "job-b", Username: "bob", Status: domain.JobRunning}))
	require.NoError(t, repo.CreateWorkItem(ctx, &domain.WorkItem{ID: "item-a", JobID: "job-a", ServiceID: "svc-2", Status: domain.ItemReady, SortIndex: 1}))
	require.NoError(t, repo.CreateWorkItem(ctx, &domain.WorkItem{ID: "item-b", JobID: "job-b", ServiceID: "svc-2", Status: domain.ItemReady, SortIndex: 1}))

	// alice has zero running work for svc-2 specifically, but is heavily
	// loaded on svc-1; bob has no load anywhere. alice must still lose to
	// bob, since fairness sums running load across ALL of a user's
	// services, not just the one being dispatched for.
	require.NoError(t, repo.UpsertUserWork(ctx, &domain.UserWork{JobID: "job-a", ServiceID: "svc-1", Username: "alice", RunningCount: 10}))
	require.NoError(t, repo.UpsertUserWork(ctx, &domain.UserWork{JobID: "job-a", ServiceID: "svc-2", Username: "alice", ReadyCount: 1, RunningCount: 0}))
	require.NoError(t, repo.UpsertUserWork(ctx, &domain.UserWork{JobID: "job-b", ServiceID: "svc-2", Username: "bob", ReadyCount: 1, RunningCount: 0}))

	sched := scheduler.New(repo, nil)
	item, err := sched.Dispatch(ctx, "svc-2")
	require.NoError(t, err)
	require.Equal(t, "item-b", item.ID, "alice's load on svc-1 must count against her even though the dispatch is for svc-2")
}

func TestScheduler_DispatchReturnsErrNoWorkAvailable(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	sched := scheduler.New(repo, nil)

	_, err := sched.Dispatch(ctx, "svc")
	require.ErrorIs(t, err, domain.ErrNoWorkAvailable)
}

func TestScheduler_SequentialStepBlocksConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()

	require.NoError(t, repo.CreateJob(ctx, &domain.Job{ID: "job-a", Username: "alice", Status: domain.JobRunning}))
	require.NoError(t, repo.CreateWorkflowStep(ctx, &domain.WorkflowStep{JobID: "job-a", StepIndex: 0, ServiceID: "svc", IsSequential: true}))
	require.NoError(t, repo.CreateWorkItem(ctx, &domain.WorkItem{ID: "running", JobID: "job-a", StepIndex: 0, ServiceID: "svc", Status: domain.ItemRunning, SortIndex: 1}))
	require.NoError(t, repo.CreateWorkItem(ctx, &domain.WorkItem{ID: "ready", JobID: "job-a", StepIndex: 0, ServiceID: "svc", Status: domain.ItemReady, SortIndex: 2}))
	require.NoError(t, repo.UpsertUserWork(ctx, &domain.UserWork{JobID: "job-a", ServiceID: "svc", Username: "alice", ReadyCount: 1, RunningCount: 1}))

	sched := scheduler.New(repo, nil)
	_, err := sched.Dispatch(ctx, "svc")
	require.ErrorIs(t, err, domain.ErrNoWorkAvailable)
}
