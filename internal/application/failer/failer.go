// Package failer implements the adaptive-expiry sweeper of spec §4.8: on a
// timer, one orchestrator replica at a time scans for WorkItems stuck in
// RUNNING past their expected completion time and injects a synthetic
// FAILED update for each one into the same path real worker updates take.
// Grounded on the teacher's
// internal/application/worker.ReconciliationWorker (jittered startup,
// lease-guarded single-instance loop, rate-limited per-item processing).
package failer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/rezkam/mono/internal/application/ingest"
	"github.com/rezkam/mono/internal/application/ports"
	"github.com/rezkam/mono/internal/domain"
)

// RunType names the exclusive lease this sweeper holds while running, so
// only one orchestrator replica sweeps at a time.
const RunType = "work-item-failer"

// DefaultPercentile is the "high percentile" spec §4.8 asks for when
// sizing the adaptive threshold off observed successful durations.
const DefaultPercentile = 0.95

// durationSampleLimit bounds how many recent completions feed the
// percentile query per (job, service) pair.
const durationSampleLimit = 200

// Config bounds one sweep cycle.
type Config struct {
	// WorkerID identifies this replica for lease ownership.
	WorkerID string

	// Period between sweeps.
	Period time.Duration

	// MaxStartupJitter staggers multiple replicas' first sweep.
	MaxStartupJitter time.Duration

	// LeaseDuration bounds how long this replica's exclusive lease lasts.
	LeaseDuration time.Duration

	// ThresholdFloor is the minimum RUNNING age before an item is ever
	// considered expired, regardless of the adaptive percentile.
	ThresholdFloor time.Duration

	// RateLimitPerSecond caps how many synthetic FAILED updates this
	// sweeper enqueues per second.
	RateLimitPerSecond float64

	// ScanLimit bounds how many expired items one sweep considers.
	ScanLimit int

	// FailureMessage is the message attached to every synthetic update.
	FailureMessage string
}

// expiredItemLister is the one Repository method the sweep needs, kept
// narrow so test doubles don't have to implement the full
// ports.Repository surface.
type expiredItemLister interface {
	ListExpiredRunningItems(ctx context.Context, threshold time.Time, limit int) ([]*domain.WorkItem, error)
}

// Failer drives the sweep loop.
type Failer struct {
	coordinator ports.Coordinator
	repo        expiredItemLister
	stats       ports.DurationStats
	queue       domain.Queue
	cfg         Config
	limiter     *rate.Limiter
	done        chan struct{}
}

// New builds a Failer. repo is ordinarily the orchestrator's
// ports.Repository, which satisfies expiredItemLister. queue is the one
// update queue every synthetic FAILED update is sent to, whatever the
// stuck item's service; the orchestrator passes the small-update queue.
func New(coordinator ports.Coordinator, repo expiredItemLister, stats ports.DurationStats, queue domain.Queue, cfg Config) *Failer {
	if cfg.FailureMessage == "" {
		cfg.FailureMessage = "work item exceeded its adaptive expiry threshold"
	}
	return &Failer{
		coordinator: coordinator,
		repo:        repo,
		stats:       stats,
		queue:       queue,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1),
		done:        make(chan struct{}),
	}
}

// Run starts the jittered sweep loop until ctx is cancelled or Stop is
// called.
func (f *Failer) Run(ctx context.Context) error {
	if f.cfg.MaxStartupJitter > 0 {
		jitter := rand.N(f.cfg.MaxStartupJitter)
		slog.InfoContext(ctx, "failer starting", "startup_jitter", jitter, "period", f.cfg.Period)
		timer := time.NewTimer(jitter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-timer.C:
		}
	}

	if err := f.Sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "failer sweep failed", "error", err)
	}

	ticker := time.NewTicker(f.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-ticker.C:
			if err := f.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "failer sweep failed", "error", err)
			}
		}
	}
}

// Stop signals the loop to exit after its current iteration.
func (f *Failer) Stop() {
	close(f.done)
}

// Sweep runs one sweep cycle: acquire the lease, list expired
// candidates, and inject a synthetic failure for every item whose age
// also clears its (job, service) adaptive threshold. Exported so tests
// can drive a cycle directly without waiting on the timer.
func (f *Failer) Sweep(ctx context.Context) error {
	release, acquired, err := f.coordinator.TryAcquireExclusiveRun(ctx, RunType, f.cfg.WorkerID, f.cfg.LeaseDuration)
	if err != nil {
		return fmt.Errorf("failed to acquire failer lease: %w", err)
	}
	if !acquired {
		slog.DebugContext(ctx, "failer sweep skipped, another replica holds the lease")
		return nil
	}
	defer release()

	floorThreshold := time.Now().UTC().Add(-f.cfg.ThresholdFloor)
	candidates, err := f.repo.ListExpiredRunningItems(ctx, floorThreshold, f.cfg.ScanLimit)
	if err != nil {
		return fmt.Errorf("failed to list expired running items: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	type thresholdKey struct{ jobID, serviceID string }
	thresholds := map[thresholdKey]time.Time{}

	var failed int
	for _, item := range candidates {
		if item.StartedAt == nil {
			continue
		}
		key := thresholdKey{item.JobID, item.ServiceID}
		threshold, ok := thresholds[key]
		if !ok {
			threshold = f.adaptiveThreshold(ctx, item.JobID, item.ServiceID)
			thresholds[key] = threshold
		}
		if item.StartedAt.After(threshold) {
			continue
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := f.injectFailure(ctx, item); err != nil {
			slog.ErrorContext(ctx, "failer failed to inject synthetic failure", "item_id", item.ID, "error", err)
			continue
		}
		failed++
	}

	if failed > 0 {
		slog.InfoContext(ctx, "failer sweep completed", "scanned", len(candidates), "failed", failed)
	}
	return nil
}

// adaptiveThreshold returns the cutoff StartedAt below which an item of
// (jobID, serviceID) counts as expired: now minus the larger of the
// configured floor and the observed high-percentile successful duration.
func (f *Failer) adaptiveThreshold(ctx context.Context, jobID, serviceID string) time.Time {
	age := f.cfg.ThresholdFloor
	if p, ok, err := f.stats.PercentileDuration(ctx, jobID, serviceID, DefaultPercentile, durationSampleLimit); err != nil {
		slog.WarnContext(ctx, "failer failed to read percentile duration, using floor", "job_id", jobID, "service_id", serviceID, "error", err)
	} else if ok && p > age {
		age = p
	}
	return time.Now().UTC().Add(-age)
}

// injectFailure publishes a synthetic FAILED update for item onto the
// update queue, reusing the same wire envelope real workers use
// (internal/application/ingest.EncodeFailure) so it is indistinguishable
// from a genuine worker-reported failure once it reaches the ingester.
func (f *Failer) injectFailure(ctx context.Context, item *domain.WorkItem) error {
	body, err := ingest.EncodeFailure(item.ID, f.cfg.FailureMessage)
	if err != nil {
		return err
	}
	if err := f.queue.Send(ctx, body, item.JobID); err != nil {
		return fmt.Errorf("failed to enqueue synthetic failure for %s: %w", item.ID, err)
	}
	return nil
}
