// Package metrics exposes Prometheus instruments for checkpoints, sessions
// and supervised operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hitl"

// Metrics groups all instruments.
type Metrics struct {
	checkpointsCreated  *prometheus.CounterVec
	checkpointsResolved *prometheus.CounterVec
	checkpointsPending  *prometheus.GaugeVec
	resolutionLatency   *prometheus.HistogramVec
	storageErrors       *prometheus.CounterVec

	sessionsActive prometheus.Gauge
	sessionWaits   *prometheus.CounterVec

	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	failuresActive *prometheus.GaugeVec
	recoveries     *prometheus.CounterVec

	proposals *prometheus.CounterVec
}

// New registers the instruments with reg; nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		checkpointsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_created_total",
			Help:      "Checkpoints created by module and type",
		}, []string{"module", "type"}),
		checkpointsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_terminal_total",
			Help:      "Checkpoints that reached a terminal status by module and status",
		}, []string{"module", "status"}),
		checkpointsPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoints_pending",
			Help:      "Checkpoints awaiting a decision by module",
		}, []string{"module"}),
		resolutionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_resolution_seconds",
			Help:      "Time from checkpoint creation to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"module", "status"}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Repository and audit store failures by operation",
		}, []string{"operation"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions with a running expiry timer",
		}),
		sessionWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_waits_total",
			Help:      "Session waits by outcome (resolved, timeout, cancelled)",
		}, []string{"outcome"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supervised_attempts_total",
			Help:      "Supervised operation attempts by operation and result",
		}, []string{"operation", "result"}),
		attemptLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "supervised_attempt_seconds",
			Help:      "Supervised operation attempt duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_recorded_total",
			Help:      "Failure records created by module and type",
		}, []string{"module", "type"}),
		failuresActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failures_open",
			Help:      "Failure records not yet resolved by type",
		}, []string{"type"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_actions_total",
			Help:      "Recovery actions by option and result",
		}, []string{"option", "result"}),
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Evaluated proposals by module and outcome (auto_approved, pending, blocked)",
		}, []string{"module", "outcome"}),
	}
}

// CheckpointCreated records a new PENDING checkpoint.
func (m *Metrics) CheckpointCreated(module, checkpointType string) {
	if m == nil {
		return
	}
	m.checkpointsCreated.WithLabelValues(module, checkpointType).Inc()
	m.checkpointsPending.WithLabelValues(module).Inc()
}

// CheckpointTerminated records a transition out of PENDING.
func (m *Metrics) CheckpointTerminated(module, status string, age time.Duration) {
	if m == nil {
		return
	}
	m.checkpointsResolved.WithLabelValues(module, status).Inc()
	m.checkpointsPending.WithLabelValues(module).Dec()
	m.resolutionLatency.WithLabelValues(module, status).Observe(age.Seconds())
}

// StorageError records a persistence failure.
func (m *Metrics) StorageError(operation string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(operation).Inc()
}

// SessionStarted tracks a running session timer.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionStopped releases a session timer.
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SessionWait records how a wait ended.
func (m *Metrics) SessionWait(outcome string) {
	if m == nil {
		return
	}
	m.sessionWaits.WithLabelValues(outcome).Inc()
}

// Attempt records one supervised attempt.
func (m *Metrics) Attempt(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.attempts.WithLabelValues(operation, result).Inc()
	m.attemptLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// FailureRecorded records a new failure record.
func (m *Metrics) FailureRecorded(module, failureType string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(module, failureType).Inc()
	m.failuresActive.WithLabelValues(failureType).Inc()
}

// FailureClosed records a failure leaving the open set.
func (m *Metrics) FailureClosed(failureType string) {
	if m == nil {
		return
	}
	m.failuresActive.WithLabelValues(failureType).Dec()
}

// Recovery records a recovery action outcome.
func (m *Metrics) Recovery(option string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.recoveries.WithLabelValues(option, result).Inc()
}

// Proposal records how a proposal was routed.
func (m *Metrics) Proposal(module, outcome string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(module, outcome).Inc()
}
