package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string `yaml:"-"`

	// ServiceVersion is the build version.
	ServiceVersion string `yaml:"-"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"log"`

	// Tracing contains tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`

	// EnableCaller adds file:line caller information.
	EnableCaller bool `yaml:"caller"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// SamplingRate is the trace sampling ratio (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`

	// ExportTimeout bounds the final flush.
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// Enabled reports whether spans are exported anywhere.
func (c TracingConfig) Enabled() bool {
	return c.Exporter != "" && c.Exporter != "none"
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Textfile is where metrics are written on shutdown. Empty disables metrics.
	Textfile string `yaml:"textfile"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`

	// Buckets are the latency buckets in seconds.
	Buckets []float64 `yaml:"buckets"`
}

// DefaultConfig returns the configuration used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "convergo",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Namespace: "convergo",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	}
}

// Validate checks values the struct tags cannot express.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	for i := 1; i < len(c.Metrics.Buckets); i++ {
		if c.Metrics.Buckets[i] <= c.Metrics.Buckets[i-1] {
			return fmt.Errorf("metrics buckets must be strictly increasing")
		}
	}
	return nil
}
