package recovery

import (
	"log/slog"
	"time"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/metrics"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/messaging"
)

// Defaults of a supervised call.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// ModuleConfig tunes recovery for one module.
type ModuleConfig struct {
	// AutoRecoveryEnabled retries a recorded failure in the background.
	AutoRecoveryEnabled     bool
	MaxAutoRecoveryAttempts int
	RecoveryTimeout         time.Duration
	// EscalationThresholds asks a human once a module holds this many open
	// failures of a type.
	EscalationThresholds map[model.FailureType]int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStore sets the failure store.
func WithStore(store Store) Option {
	return func(s *Supervisor) { s.store = store }
}

// WithEngine enables HUMAN_INTERVENTION through checkpoints.
func WithEngine(engine *checkpoint.Engine) Option {
	return func(s *Supervisor) { s.engine = engine }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithClock sets the time source of records.
func WithClock(now clock.Func) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithMetrics records recovery metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithEventQueue publishes failure lifecycle events.
func WithEventQueue(queue messaging.Queue[event.Event]) Option {
	return func(s *Supervisor) { s.events = queue }
}

// WithMaxConcurrent bounds concurrently supervised operations.
func WithMaxConcurrent(n int) Option {
	return func(s *Supervisor) { s.maxConcurrent = n }
}

// WithDefaults sets the call defaults.
func WithDefaults(maxRetries int, timeout, baseDelay time.Duration) Option {
	return func(s *Supervisor) {
		if maxRetries > 0 {
			s.defaults.MaxRetries = maxRetries
		}
		if timeout > 0 {
			s.defaults.Timeout = timeout
		}
		if baseDelay > 0 {
			s.defaults.BaseDelay = baseDelay
		}
	}
}

// WithModuleConfig sets the recovery configuration of one module; an empty
// module id sets the default.
func WithModuleConfig(moduleID string, config ModuleConfig) Option {
	return func(s *Supervisor) {
		if moduleID == "" {
			s.defaultModule = config
			return
		}
		s.modules[moduleID] = config
	}
}

// Call describes one supervised invocation.
type Call struct {
	Name       string
	ModuleID   string
	MaxRetries int
	Timeout    time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Metadata   map[string]interface{}
}

// CallOption adjusts a Call.
type CallOption func(*Call)

// WithName names the operation in records, logs and metrics.
func WithName(name string) CallOption {
	return func(c *Call) { c.Name = name }
}

// WithModule attributes the operation to a module.
func WithModule(moduleID string) CallOption {
	return func(c *Call) { c.ModuleID = moduleID }
}

// WithMaxRetries sets the total number of attempts.
func WithMaxRetries(n int) CallOption {
	return func(c *Call) { c.MaxRetries = n }
}

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) CallOption {
	return func(c *Call) { c.Timeout = timeout }
}

// WithBaseDelay sets the backoff base; attempt n waits base*2^n.
func WithBaseDelay(delay time.Duration) CallOption {
	return func(c *Call) { c.BaseDelay = delay }
}

// WithMetadata attaches metadata to a failure record.
func WithMetadata(metadata map[string]interface{}) CallOption {
	return func(c *Call) { c.Metadata = metadata }
}
