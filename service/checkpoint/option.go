package checkpoint

import (
	"log/slog"
	"time"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/metrics"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/messaging"
)

// DefaultTTL bounds the lifetime of a checkpoint when no module TTL applies.
const DefaultTTL = 5 * time.Minute

type Option func(*Engine)

// WithAuditStore sets the audit trail store. When omitted a repository that
// also implements audit.Store is used, otherwise an in-memory store.
func WithAuditStore(store audit.Store) Option {
	return func(e *Engine) { e.audit = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock sets the time source.
func WithClock(now clock.Func) Option {
	return func(e *Engine) { e.now = now }
}

// WithTTL sets the default checkpoint lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithModuleTTL sets the checkpoint lifetime of one module.
func WithModuleTTL(moduleID string, ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.moduleTTL[moduleID] = ttl
		}
	}
}

// WithListener registers a callback invoked after every committed change,
// including creation.
func WithListener(listener Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, listener) }
}

// WithEventQueue publishes every committed change to queue.
func WithEventQueue(queue messaging.Queue[event.Event]) Option {
	return func(e *Engine) { e.events = queue }
}

// WithMetrics records checkpoint metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}
