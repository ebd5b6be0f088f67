// Command orchestrator runs the Harmony-style workflow orchestration
// core: the fair-share scheduler, the small- and large-update ingesters,
// and the adaptive work-item failer, all sharing one PostgreSQL-backed
// repository and one blob store for catalog artifacts.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/mono/internal/application/downstream"
	"github.com/rezkam/mono/internal/application/failer"
	"github.com/rezkam/mono/internal/application/ingest"
	"github.com/rezkam/mono/internal/application/scheduler"
	"github.com/rezkam/mono/internal/config"
	"github.com/rezkam/mono/internal/domain"
	blobfs "github.com/rezkam/mono/internal/infrastructure/blobstore/fs"
	blobgcs "github.com/rezkam/mono/internal/infrastructure/blobstore/gcs"
	"github.com/rezkam/mono/internal/infrastructure/observability"
	"github.com/rezkam/mono/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/mono/internal/infrastructure/queue/pgqueue"
)

// Logical queue names multiplexed over the shared pgqueue table.
const (
	queueSchedulerTrigger = "scheduler-trigger"
	queueSmallUpdate      = "small-update"
	queueLargeUpdate      = "large-update"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Orchestrator.WorkerID == "" {
		cfg.Orchestrator.WorkerID = uuid.NewString()
	}
	if err := cfg.Database.Validate(); err != nil {
		log.Fatalf("invalid database config: %v", err)
	}
	if err := cfg.BlobStore.Validate(); err != nil {
		log.Fatalf("invalid blob store config: %v", err)
	}

	obsCfg := observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.OTelServiceID,
	}
	if obsCfg.ServiceName == "" {
		obsCfg.ServiceName = observability.DefaultServiceName
	}

	lp, logger, err := observability.InitLogger(ctx, obsCfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer shutdownWithTimeout(lp.Shutdown)
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, obsCfg)
	if err != nil {
		log.Fatalf("failed to init tracer provider: %v", err)
	}
	defer shutdownWithTimeout(tp.Shutdown)

	mp, err := observability.InitMeterProvider(ctx, obsCfg)
	if err != nil {
		log.Fatalf("failed to init meter provider: %v", err)
	}
	defer shutdownWithTimeout(mp.Shutdown)

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{DSN: cfg.Database.DSN})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	bs, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to construct blob store: %v", err)
	}

	triggerQueue := pgqueue.New(store.Pool(), queueSchedulerTrigger)
	smallQueue := pgqueue.New(store.Pool(), queueSmallUpdate)
	largeQueue := pgqueue.New(store.Pool(), queueLargeUpdate)

	orc := cfg.Orchestrator
	downstreamCfg := downstream.Config{
		AggregateMaxPageSize: orc.AggregateMaxPageSize,
		MaxBatchInputs:       orc.MaxBatchInputs,
		MaxBatchSizeBytes:    orc.MaxBatchSizeBytes,
	}

	sched := scheduler.New(store, triggerQueue, scheduler.WithPollInterval(orc.SchedulerPollInterval))

	smallIngest := ingest.New(queueSmallUpdate, store, smallQueue, triggerQueue, bs, ingest.Config{
		BatchSize:       orc.SmallQueueBatchSize,
		WaitSeconds:     int(orc.IngestPollInterval.Seconds()),
		RetryLimit:      orc.RetryLimit,
		MaxErrorsForJob: orc.MaxErrorsForJob,
		CMRMaxPageSize:  orc.CMRMaxPageSize,
		Downstream:      downstreamCfg,
	})
	largeIngest := ingest.New(queueLargeUpdate, store, largeQueue, triggerQueue, bs, ingest.Config{
		BatchSize:       orc.LargeQueueBatchSize,
		WaitSeconds:     int(orc.IngestPollInterval.Seconds()),
		RetryLimit:      orc.RetryLimit,
		MaxErrorsForJob: orc.MaxErrorsForJob,
		CMRMaxPageSize:  orc.CMRMaxPageSize,
		Downstream:      downstreamCfg,
	})

	fail := failer.New(store, store, store, smallQueue, failer.Config{
		WorkerID:           orc.WorkerID,
		Period:             orc.WorkFailerPeriod,
		MaxStartupJitter:   orc.FailerMaxStartupJitter,
		LeaseDuration:      orc.FailerLeaseDuration,
		ThresholdFloor:     orc.FailerThresholdFloor,
		RateLimitPerSecond: orc.FailerRateLimitPerSecond,
		ScanLimit:          500,
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "orchestrator component exited", "component", name, "error", err)
			}
		}()
	}

	slog.InfoContext(ctx, "orchestrator starting", "worker_id", orc.WorkerID)
	run("scheduler", sched.Start)
	run("small-ingest", smallIngest.Start)
	run("large-ingest", largeIngest.Start)
	run("failer", fail.Run)

	<-ctx.Done()
	slog.InfoContext(ctx, "orchestrator shutting down")
	sched.Stop()
	smallIngest.Stop()
	largeIngest.Stop()
	fail.Stop()
	wg.Wait()
}

// shutdownWithTimeout bounds an OTel provider's shutdown so an unreachable
// collector can't hang process exit.
func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shut down observability provider", "error", err)
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (domain.BlobStore, error) {
	switch cfg.BlobStore.Type {
	case "gcs":
		return blobgcs.NewStore(ctx, cfg.BlobStore.GCSBucket)
	default:
		return blobfs.NewStore(cfg.BlobStore.FSDir)
	}
}
