// Package tracing wraps OpenTelemetry so that engine transitions and
// supervised operations are recorded as spans. Nothing is traced until Init
// or InitWithExporter installs a provider; before that spans are no-ops.
package tracing
