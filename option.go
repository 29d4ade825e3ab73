package hitl

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/recovery"
	"github.com/viant/hitl/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises a Service. Options override the Config.
type Option func(s *Service)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRegisterer enables Prometheus metrics registered with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.registerer = reg
		s.metricsEnabled = true
	}
}

// WithRepository sets the checkpoint repository, bypassing Config.Storage.
func WithRepository(repo checkpoint.Repository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithAuditStore sets the audit trail store, bypassing Config.Audit.
func WithAuditStore(store audit.Store) Option {
	return func(s *Service) { s.audit = store }
}

// WithFailureStore sets the failure record store.
func WithFailureStore(store recovery.Store) Option {
	return func(s *Service) { s.failures = store }
}

// WithClock sets the time source of the engine, the supervisor and the
// event bus.
func WithClock(now clock.Func) Option {
	return func(s *Service) { s.now = now }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The first
// successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		if err := tracing.Init(serviceName, serviceVersion, outputFile); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter, for
// example OTLP, Jaeger or an in-memory exporter in tests.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		if err := tracing.InitWithExporter(serviceName, serviceVersion, exporter); err != nil {
			s.initErrs = append(s.initErrs, err)
		}
	}
}
