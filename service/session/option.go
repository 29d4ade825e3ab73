package session

import (
	"log/slog"
	"time"

	"github.com/viant/hitl/metrics"
)

const (
	// DefaultTimeout bounds a session when the caller asks for the default.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetention is how long a terminal session stays inspectable.
	DefaultRetention = 10 * time.Minute
	// UseDefaultTimeout passed to Create selects the manager timeout.
	UseDefaultTimeout time.Duration = -1
)

type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records session metrics.
func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithDefaultTimeout sets the timeout used for UseDefaultTimeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout >= 0 {
			m.timeout = timeout
		}
	}
}

// WithModuleTimeout sets the default timeout of one module.
func WithModuleTimeout(moduleID string, timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout >= 0 {
			m.moduleTimeout[moduleID] = timeout
		}
	}
}

// WithRetention sets how long terminal sessions are kept; zero keeps them
// until Close.
func WithRetention(retention time.Duration) Option {
	return func(m *Manager) { m.retention = retention }
}
