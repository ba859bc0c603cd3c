// Package telemetry bundles the observability surface of the orchestrator:
// structured zerolog logging, prometheus metrics over the deployment phases,
// and OpenTelemetry tracing with one span per phase.
package telemetry
