// Package config resolves proctree settings.
//
// Precedence, lowest first: Default(), the YAML file given with --config,
// PROCTREE_* environment variables, command-line flags. OpenTelemetry
// exporter settings come from the standard OTEL_* variables (ParseOTELConfig).
package config
