package failer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/application/failer"
	"github.com/rezkam/mono/internal/domain"
)

type fakeCoordinator struct {
	acquired bool
}

func (c *fakeCoordinator) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (func(), bool, error) {
	if c.acquired {
		return func() {}, false, nil
	}
	c.acquired = true
	return func() { c.acquired = false }, true, nil
}

type fakeRepo struct {
	items []*domain.WorkItem
}

func (r *fakeRepo) ListExpiredRunningItems(ctx context.Context, threshold time.Time, limit int) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, it := range r.items {
		if it.Status == domain.ItemRunning && it.StartedAt != nil && it.StartedAt.Before(threshold) {
			out = append(out, it)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeStats struct {
	percentiles map[string]time.Duration
}

func (s *fakeStats) PercentileDuration(ctx context.Context, jobID, serviceID string, percentile float64, limit int) (time.Duration, bool, error) {
	d, ok := s.percentiles[jobID+"|"+serviceID]
	return d, ok, nil
}

type fakeQueue struct {
	sent [][]byte
}

func (q *fakeQueue) Send(ctx context.Context, body []byte, groupID string) error {
	q.sent = append(q.sent, body)
	return nil
}
func (q *fakeQueue) Receive(ctx context.Context, n int, waitSec int) ([]domain.Message, error) {
	return nil, nil
}
func (q *fakeQueue) Delete(ctx context.Context, receiptHandle string) error { return nil }
func (q *fakeQueue) DeleteBatch(ctx context.Context, receiptHandles []string) error {
	return nil
}
func (q *fakeQueue) Purge(ctx context.Context) error { return nil }

var _ domain.Queue = (*fakeQueue)(nil)

func baseCfg() failer.Config {
	return failer.Config{
		WorkerID:           "worker-1",
		Period:             time.Minute,
		LeaseDuration:      time.Minute,
		ThresholdFloor:     10 * time.Minute,
		RateLimitPerSecond: 100,
		ScanLimit:          100,
	}
}

func TestFailer_ExpiredItemBeyondAdaptiveThresholdIsFailed(t *testing.T) {
	ctx := context.Background()
	started := time.Now().UTC().Add(-20 * time.Minute)
	repo := &fakeRepo{items: []*domain.WorkItem{
		{ID: "item-1", JobID: "job-1", ServiceID: "svc-a", Status: domain.ItemRunning, StartedAt: &started},
	}}
	stats := &fakeStats{percentiles: map[string]time.Duration{"job-1|svc-a": 15 * time.Minute}}
	queue := &fakeQueue{}
	coord := &fakeCoordinator{}

	f := failer.New(coord, repo, stats, queue, baseCfg())

	require.NoError(t, f.Sweep(ctx))
	require.Len(t, queue.sent, 1)

	var env struct {
		WorkItemID string `json:"workItemId"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(queue.sent[0], &env))
	require.Equal(t, "item-1", env.WorkItemID)
	require.Equal(t, "FAILED", env.Status)
}

func TestFailer_ItemBelowAdaptiveThresholdIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	// RUNNING for 12 minutes: past the 10-minute floor, but short of the
	// 15-minute adaptive percentile observed for this (job, service).
	started := time.Now().UTC().Add(-12 * time.Minute)
	repo := &fakeRepo{items: []*domain.WorkItem{
		{ID: "item-2", JobID: "job-1", ServiceID: "svc-a", Status: domain.ItemRunning, StartedAt: &started},
	}}
	stats := &fakeStats{percentiles: map[string]time.Duration{"job-1|svc-a": 15 * time.Minute}}
	queue := &fakeQueue{}
	coord := &fakeCoordinator{}

	f := failer.New(coord, repo, stats, queue, baseCfg())

	require.NoError(t, f.Sweep(ctx))
	require.Empty(t, queue.sent)
}

func TestFailer_SecondReplicaSkipsWhileLeaseHeld(t *testing.T) {
	ctx := context.Background()
	started := time.Now().UTC().Add(-20 * time.Minute)
	repo := &fakeRepo{items: []*domain.WorkItem{
		{ID: "item-3", JobID: "job-2", ServiceID: "svc-b", Status: domain.ItemRunning, StartedAt: &started},
	}}
	stats := &fakeStats{}
	queue := &fakeQueue{}
	coord := &fakeCoordinator{acquired: true} // another replica already holds it

	f := failer.New(coord, repo, stats, queue, baseCfg())

	require.NoError(t, f.Sweep(ctx))
	require.Empty(t, queue.sent, "a replica without the lease must not inject any failures")
}
