package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for one orchestrator process.
type Config struct {
	// ServiceName identifies this binary in exported telemetry.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics configuration.
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool

	// Exporter selects the span exporter (stdout, otlp, none).
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// ExportTimeout bounds a single batch export.
	ExportTimeout time.Duration
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	// Enabled turns metric collection on; when false all observation
	// calls are no-ops.
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig(serviceName, serviceVersion string) *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "groundwork",
		},
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("otlp exporter requires an endpoint")
			}
		default:
			return fmt.Errorf("unsupported trace exporter: %s", c.Tracing.Exporter)
		}
	}
	return nil
}
