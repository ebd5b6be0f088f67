package config

import (
	"fmt"
	"time"

	"github.com/rezkam/mono/internal/env"
)

// Config holds every setting the orchestrator binary needs. Defaults are
// set on the zero-value struct before env.Load runs, since env.Load only
// overwrites fields whose environment variable is actually present.
type Config struct {
	Database      DatabaseConfig
	BlobStore     BlobStoreConfig
	Observability ObservabilityConfig
	Orchestrator  OrchestratorConfig
}

// Load parses environment variables into a Config, applying defaults
// first and validating nested structs that implement env.Validator.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		BlobStore: BlobStoreConfig{
			Type:  "fs",
			FSDir: "./harmony-artifacts",
		},
		Observability: ObservabilityConfig{
			OTelEnabled:  true,
			OTelEndpoint: "localhost:4318",
		},
		Orchestrator: OrchestratorConfig{
			CMRMaxPageSize:           2000,
			AggregateMaxPageSize:     2000,
			MaxBatchInputs:           2000,
			MaxBatchSizeBytes:        2_000_000_000,
			RetryLimit:               3,
			MaxErrorsForJob:          100,
			SchedulerPollInterval:    time.Second,
			IngestPollInterval:       2 * time.Second,
			SmallQueueBatchSize:      10,
			LargeQueueBatchSize:      3,
			WorkFailerPeriod:         60 * time.Second,
			FailerThresholdFloor:     10 * time.Minute,
			FailerMaxStartupJitter:   30 * time.Second,
			FailerLeaseDuration:      5 * time.Minute,
			FailerRateLimitPerSecond: 50,
		},
	}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}
