package config

import "time"

// OrchestratorConfig holds the tunables named throughout spec.md §4 that
// are not persisted per-job: catalog page sizing, aggregation bounds,
// retry/error limits, and the background loop intervals for the
// scheduler, ingester, and failer.
type OrchestratorConfig struct {
	// CMRMaxPageSize bounds the number of granules a single paginator item
	// may request (spec §4.5).
	CMRMaxPageSize int `env:"HARMONY_CMR_MAX_PAGE_SIZE" default:"2000"`

	// AggregateMaxPageSize bounds items per paginated aggregation catalog
	// (spec §4.3).
	AggregateMaxPageSize int `env:"HARMONY_AGGREGATE_MAX_PAGE_SIZE" default:"2000"`

	// MaxBatchInputs and MaxBatchSizeBytes bound a batched-aggregation
	// flush (spec §4.4).
	MaxBatchInputs    int   `env:"HARMONY_MAX_BATCH_INPUTS" default:"2000"`
	MaxBatchSizeBytes int64 `env:"HARMONY_MAX_BATCH_SIZE_BYTES" default:"2000000000"`

	// RetryLimit is the maximum number of times a FAILED WorkItem is
	// rewritten back to READY before the failure becomes terminal
	// (spec §4.1, §7).
	RetryLimit int `env:"HARMONY_RETRY_LIMIT" default:"3"`

	// MaxErrorsForJob is the JobError count beyond which a job becomes
	// FAILED regardless of IgnoreErrors (spec §3, §7).
	MaxErrorsForJob int `env:"HARMONY_MAX_ERRORS_FOR_JOB" default:"100"`

	// SchedulerPollInterval is how often the scheduler worker polls the
	// scheduler-trigger queue when idle.
	SchedulerPollInterval time.Duration `env:"HARMONY_SCHEDULER_POLL_INTERVAL" default:"1s"`

	// IngestPollInterval is how often each update ingester polls its queue
	// when idle.
	IngestPollInterval time.Duration `env:"HARMONY_INGEST_POLL_INTERVAL" default:"2s"`

	// SmallQueueBatchSize / LargeQueueBatchSize bound the per-receive
	// batch size for the small- and large-update queues (spec §4.7: up to
	// 10 for small, 1 to a small configurable cap for large).
	SmallQueueBatchSize int `env:"HARMONY_SMALL_QUEUE_BATCH_SIZE" default:"10"`
	LargeQueueBatchSize int `env:"HARMONY_LARGE_QUEUE_BATCH_SIZE" default:"3"`

	// WorkFailerPeriod is how often the failer sweeps for expired RUNNING
	// items (spec §4.8).
	WorkFailerPeriod time.Duration `env:"HARMONY_WORK_FAILER_PERIOD" default:"60s"`

	// FailerThresholdFloor is the minimum adaptive-expiry threshold the
	// failer will apply even when too few successful durations have been
	// observed to compute a meaningful percentile (spec §4.8).
	FailerThresholdFloor time.Duration `env:"HARMONY_FAILER_THRESHOLD_FLOOR" default:"10m"`

	// FailerMaxStartupJitter staggers multiple failer replicas so they do
	// not all sweep in lockstep, mirroring the teacher's reconciliation
	// worker jitter.
	FailerMaxStartupJitter time.Duration `env:"HARMONY_FAILER_MAX_STARTUP_JITTER" default:"30s"`

	// FailerLeaseDuration bounds how long one replica's exclusive-run
	// lease is held before another replica may take over after a crash.
	FailerLeaseDuration time.Duration `env:"HARMONY_FAILER_LEASE_DURATION" default:"5m"`

	// FailerRateLimitPerSecond bounds how many synthetic FAILED updates
	// the failer may inject per second, avoiding a thundering herd of
	// retries after a long outage.
	FailerRateLimitPerSecond float64 `env:"HARMONY_FAILER_RATE_LIMIT_PER_SECOND" default:"50"`

	// WorkerID identifies this orchestrator replica for lease ownership
	// and startup logging.
	WorkerID string `env:"HARMONY_WORKER_ID"`
}
