package config

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	OTelEnabled   bool   `env:"HARMONY_OTEL_ENABLED" default:"true"`
	OTelEndpoint  string `env:"HARMONY_OTEL_ENDPOINT" default:"localhost:4318"`
	OTelServiceID string `env:"HARMONY_OTEL_SERVICE_ID"`
}
