// Package recovery supervises fallible operations: each call runs with a
// per-attempt timeout, bounded sequential retries with exponential backoff
// and an optional fallback. Exhausted calls leave a failure record that a
// human or an automatic strategy recovers later.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/internal/idgen"
	"github.com/viant/hitl/internal/keylock"
	"github.com/viant/hitl/metrics"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/messaging"
	"github.com/viant/hitl/tracing"
	"golang.org/x/sync/semaphore"
)

// Operation is a unit of supervised work.
type Operation[T any] func(ctx context.Context) (T, error)

// Supervisor runs operations with recovery and owns their failure records.
type Supervisor struct {
	store         Store
	engine        *checkpoint.Engine
	logger        *slog.Logger
	now           clock.Func
	metrics       *metrics.Metrics
	events        messaging.Queue[event.Event]
	maxConcurrent int
	sem           *semaphore.Weighted
	defaults      Call
	defaultModule ModuleConfig
	modules       map[string]ModuleConfig
	locks         *keylock.Locker

	mu      sync.Mutex
	actions map[string]*actions
	wg      sync.WaitGroup
}

// actions are the closures a failure can be recovered with. They live in
// process only.
type actions struct {
	retry    func(ctx context.Context) error
	fallback func(ctx context.Context) error
}

// New creates a Supervisor. Without WithStore failures are kept in memory.
func New(opts ...Option) *Supervisor {
	ret := &Supervisor{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaults: Call{
			MaxRetries: DefaultMaxRetries,
			Timeout:    DefaultTimeout,
			BaseDelay:  DefaultBaseDelay,
			MaxDelay:   DefaultMaxDelay,
		},
		modules: map[string]ModuleConfig{},
		locks:   keylock.New(),
		actions: map[string]*actions{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.store == nil {
		ret.store = NewMemoryStore()
	}
	if ret.maxConcurrent > 0 {
		ret.sem = semaphore.NewWeighted(int64(ret.maxConcurrent))
	}
	if ret.engine != nil {
		ret.engine.AddListener(ret.observe)
	}
	return ret
}

// ModuleConfig returns the recovery configuration of a module.
func (s *Supervisor) ModuleConfig(moduleID string) ModuleConfig {
	if config, ok := s.modules[moduleID]; ok {
		return config
	}
	return s.defaultModule
}

// Execute runs op under s. When every attempt fails the fallback, if any,
// decides the result; otherwise a failure record is stored and the last
// error is returned.
func Execute[T any](ctx context.Context, s *Supervisor, op Operation[T], fallback Operation[T], opts ...CallOption) (T, error) {
	var zero T
	call := s.call(opts)
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return zero, fmt.Errorf("%s: acquire slot: %w", call.Name, err)
		}
		defer s.sem.Release(1)
	}

	result, attempts, err := attempt(ctx, s, call, op)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return zero, err
	}
	lastErr := err
	if fallback != nil {
		result, fbErr := fallback(ctx)
		if fbErr == nil {
			s.logger.Warn("operation recovered by fallback", "operation", call.Name, "attempts", attempts, "error", lastErr)
			return result, nil
		}
		s.logger.Error("fallback failed", "operation", call.Name, "error", fbErr)
		lastErr = fmt.Errorf("%w (fallback: %v)", lastErr, fbErr)
	}

	record := s.newRecord(call, lastErr, attempts)
	s.register(record.ID, &actions{
		retry: func(ctx context.Context) error {
			_, err := op(ctx)
			return err
		},
		fallback: wrapFallback(fallback),
	})
	if err := s.record(ctx, record); err != nil {
		s.logger.Error("failed to store failure record", "operation", call.Name, "error", err)
	}
	return zero, lastErr
}

// ExecuteWithRecovery is Execute for operations without a result.
func (s *Supervisor) ExecuteWithRecovery(ctx context.Context, op func(ctx context.Context) error, fallback func(ctx context.Context) error, opts ...CallOption) error {
	var fb Operation[struct{}]
	if fallback != nil {
		fb = func(ctx context.Context) (struct{}, error) { return struct{}{}, fallback(ctx) }
	}
	_, err := Execute[struct{}](ctx, s, func(ctx context.Context) (struct{}, error) { return struct{}{}, op(ctx) }, fb, opts...)
	return err
}

// attempt runs op up to call.MaxRetries times, sleeping BaseDelay*2^n
// between attempts.
func attempt[T any](ctx context.Context, s *Supervisor, call Call, op Operation[T]) (T, int, error) {
	var zero T
	var lastErr error
	for n := 0; n < call.MaxRetries; n++ {
		if n > 0 {
			delay := backoff(call, n-1)
			s.logger.Warn("retrying operation", "operation", call.Name, "attempt", n+1, "of", call.MaxRetries, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return zero, n, fmt.Errorf("%s: %w", call.Name, err)
			}
		}
		started := time.Now()
		result, err := runOnce(ctx, call, op, n+1)
		s.metrics.Attempt(call.Name, err, time.Since(started))
		if err == nil {
			if n > 0 {
				s.logger.Info("operation succeeded after retry", "operation", call.Name, "attempts", n+1)
			}
			return result, n + 1, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, n + 1, lastErr
		}
	}
	return zero, call.MaxRetries, lastErr
}

// runOnce races op against the attempt timeout. An operation ignoring its
// context is abandoned when the timeout fires.
func runOnce[T any](ctx context.Context, call Call, op Operation[T], n int) (result T, err error) {
	ctx, span := tracing.StartSpan(ctx, "recovery.attempt", tracing.KindInternal)
	span.WithAttributes(map[string]string{"operation": call.Name, "attempt": fmt.Sprint(n)})
	defer func() { tracing.EndSpan(span, err) }()

	attemptCtx, cancel := context.WithTimeout(ctx, call.Timeout)
	defer cancel()
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s panicked: %v", call.Name, r)}
			}
		}()
		value, err := op(attemptCtx)
		done <- outcome{value: value, err: err}
	}()
	select {
	case out := <-done:
		return out.value, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, &TimeoutError{Operation: call.Name, Timeout: call.Timeout}
	}
}

// TimeoutError reports an attempt exceeding its timeout.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

// Classify maps an error to its failure type.
func Classify(err error) model.FailureType {
	var timeout *TimeoutError
	switch {
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case errors.Is(err, model.ErrStorage):
		return model.FailureMemory
	case errors.Is(err, model.ErrAlreadyResolved), errors.Is(err, model.ErrWaitTimeout):
		return model.FailureHITL
	case strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return model.FailureTimeout
	}
	return model.FailureOperation
}

func backoff(call Call, n int) time.Duration {
	delay := call.BaseDelay << n
	if delay <= 0 || (call.MaxDelay > 0 && delay > call.MaxDelay) {
		delay = call.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wrapFallback[T any](fallback Operation[T]) func(ctx context.Context) error {
	if fallback == nil {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := fallback(ctx)
		return err
	}
}

func (s *Supervisor) call(opts []CallOption) Call {
	ret := s.defaults
	for _, opt := range opts {
		opt(&ret)
	}
	if ret.Name == "" {
		ret.Name = "operation"
	}
	if ret.MaxRetries <= 0 {
		ret.MaxRetries = s.defaults.MaxRetries
	}
	if ret.Timeout <= 0 {
		ret.Timeout = s.defaults.Timeout
	}
	if ret.BaseDelay < 0 {
		ret.BaseDelay = 0
	}
	return ret
}

func (s *Supervisor) newRecord(call Call, err error, attempts int) *model.FailureRecord {
	now := s.now.Now()
	metadata := map[string]interface{}{"attempts": attempts}
	for k, v := range call.Metadata {
		metadata[k] = v
	}
	return &model.FailureRecord{
		ID:            idgen.NewWithPrefix("failure"),
		Type:          Classify(err),
		OperationName: call.Name,
		ModuleID:      call.ModuleID,
		Status:        model.FailureActive,
		Error:         err.Error(),
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Supervisor) register(id string, a *actions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[id] = a
}

func (s *Supervisor) actionsOf(id string) *actions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actions[id]; ok {
		return a
	}
	return &actions{}
}

// record stores a new failure, then applies escalation thresholds and
// automatic recovery of its module.
func (s *Supervisor) record(ctx context.Context, record *model.FailureRecord) error {
	if err := s.store.Save(ctx, record.Clone()); err != nil {
		return model.NewStorageError("save failure", err)
	}
	s.metrics.FailureRecorded(record.ModuleID, string(record.Type))
	s.logger.Error("operation failed, failure recorded", "failure", record.ID, "operation", record.OperationName, "module", record.ModuleID, "type", record.Type, "error", record.Error)
	s.publish(ctx, event.TopicFailureRecorded, record)

	config := s.ModuleConfig(record.ModuleID)
	if threshold := config.EscalationThresholds[record.Type]; threshold > 0 && s.engine != nil {
		open, err := s.List(ctx, Filter{ModuleID: record.ModuleID, Type: record.Type, Status: []model.FailureStatus{model.FailureActive}})
		if err == nil && len(open) >= threshold {
			s.logger.Warn("failure threshold reached, asking for human intervention", "module", record.ModuleID, "type", record.Type, "open", len(open))
			if _, err := s.ExecuteRecoveryAction(ctx, record.ID, OptionHumanIntervention, &RecoveryContext{
				Actor:  model.DecisionMakerSystem,
				Reason: fmt.Sprintf("%d open %s failures in module %s", len(open), record.Type, record.ModuleID),
			}); err != nil {
				s.logger.Error("failed to escalate failure", "failure", record.ID, "error", err)
			}
			return nil
		}
	}
	if config.AutoRecoveryEnabled && s.actionsOf(record.ID).retry != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.autoRecover(context.WithoutCancel(ctx), record.ID, config)
		}()
	}
	return nil
}

// autoRecover retries a failure up to MaxAutoRecoveryAttempts times.
func (s *Supervisor) autoRecover(ctx context.Context, id string, config ModuleConfig) {
	attempts := config.MaxAutoRecoveryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for n := 0; n < attempts; n++ {
		if n > 0 {
			if err := sleep(ctx, backoff(s.defaults, n-1)); err != nil {
				return
			}
		}
		record, err := s.recover(ctx, id, OptionRetry, &RecoveryContext{Actor: model.DecisionMakerSystem, Timeout: config.RecoveryTimeout}, true)
		if err == nil {
			s.logger.Info("failure auto resolved", "failure", id, "attempts", record.RecoveryAttempts)
			return
		}
		if record == nil || !record.Status.IsOpen() {
			return
		}
	}
}

// Wait blocks until background recoveries finish.
func (s *Supervisor) Wait() { s.wg.Wait() }

func (s *Supervisor) publish(ctx context.Context, topic string, record *model.FailureRecord) {
	if s.events == nil {
		return
	}
	evt := event.ForFailure(topic, record)
	evt.ID = idgen.NewWithPrefix("evt")
	evt.CreatedAt = s.now.Now()
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("failed to publish failure event", "failure", record.ID, "topic", topic, "error", err)
	}
}
