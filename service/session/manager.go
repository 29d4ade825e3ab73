package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/viant/hitl/metrics"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
)

// ErrClosed is returned by a manager after Close.
var ErrClosed = errors.New("session: manager closed")

// Manager tracks sessions keyed by checkpoint id.
type Manager struct {
	engine        *checkpoint.Engine
	logger        *slog.Logger
	metrics       *metrics.Metrics
	timeout       time.Duration
	moduleTimeout map[string]time.Duration
	retention     time.Duration

	mu        sync.RWMutex
	sessions  map[string]*entry
	closed    chan struct{}
	closeOnce sync.Once
}

type entry struct {
	done chan struct{}

	mu      sync.Mutex
	session *Session
	timer   *time.Timer
	cleanup *time.Timer
	active  bool
}

// New creates a manager and subscribes it to engine transitions.
func New(engine *checkpoint.Engine, opts ...Option) *Manager {
	ret := &Manager{
		engine:        engine,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:       DefaultTimeout,
		moduleTimeout: map[string]time.Duration{},
		retention:     DefaultRetention,
		sessions:      map[string]*entry{},
		closed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	engine.AddListener(ret.observe)
	return ret
}

// Timeout returns the default session timeout of a module.
func (m *Manager) Timeout(moduleID string) time.Duration {
	if timeout, ok := m.moduleTimeout[moduleID]; ok {
		return timeout
	}
	return m.timeout
}

// Create creates a checkpoint and starts its session. The checkpoint
// expires timeout from now unless spec.ExpiresAt is set; a zero timeout or
// a past deadline expires it on the next timer tick. Spec.Context, when
// present, is attached as a CONTEXT snapshot; if that fails the checkpoint
// is rejected by the system and no session is started.
//
// The expiry timer runs on wall time. An explicit spec.ExpiresAt is
// measured against the engine clock, so it assumes that clock is real.
func (m *Manager) Create(ctx context.Context, spec *checkpoint.Spec, timeout time.Duration) (*Session, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if m.isClosed() {
		return nil, ErrClosed
	}
	if timeout < 0 {
		timeout = m.Timeout(spec.ModuleID)
	}
	cpSpec := *spec
	delay := timeout
	if cpSpec.ExpiresAt.IsZero() {
		cpSpec.ExpiresAt = m.engine.Now().Add(timeout)
	} else {
		delay = cpSpec.ExpiresAt.Sub(m.engine.Now())
	}
	if delay < 0 {
		delay = 0
	}
	cp, err := m.engine.Create(ctx, &cpSpec)
	if err != nil {
		return nil, err
	}
	var snapshots []*model.MemorySnapshot
	if len(spec.Context) > 0 {
		snapshot, err := m.engine.Snapshot(ctx, cp.ID, model.SnapshotContext, spec.Context, 0)
		if err != nil {
			m.abandon(ctx, cp, err)
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	e := &entry{
		done:   make(chan struct{}),
		active: true,
		session: &Session{
			ID:         cp.ID,
			Checkpoint: cp,
			Status:     cp.Status,
			CreatedAt:  cp.CreatedAt,
			TimeoutAt:  cp.ExpiresAt,
			Snapshots:  snapshots,
		},
	}
	id := cp.ID
	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()
	m.metrics.SessionStarted()
	e.mu.Lock()
	if e.session.IsPending() {
		e.timer = time.AfterFunc(delay, func() { m.expire(id) })
	}
	e.mu.Unlock()
	m.logger.Debug("session started", "session", id, "timeoutAt", cp.ExpiresAt)
	return e.snapshot(), nil
}

// abandon rejects a checkpoint whose session could not be started so it
// never shows up as a pending decision.
func (m *Manager) abandon(ctx context.Context, cp *model.Checkpoint, cause error) {
	m.logger.Error("failed to attach session context, rejecting checkpoint", "checkpoint", cp.ID, "error", cause)
	_, err := m.engine.Resolve(context.WithoutCancel(ctx), cp.ID, &checkpoint.Decision{
		Status:     model.StatusRejected,
		Resolution: "Session context could not be recorded",
		Actor:      model.DecisionMakerSystem,
	})
	if err != nil && !errors.Is(err, model.ErrAlreadyResolved) {
		m.logger.Error("failed to reject abandoned checkpoint", "checkpoint", cp.ID, "error", err)
	}
}

// Wait blocks until the session leaves PENDING, timeout elapses or ctx is
// done. A timed out wait returns model.WaitTimeoutError and leaves the
// checkpoint untouched; expiry belongs to the session timer.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-e.done:
		m.metrics.SessionWait("resolved")
		return e.snapshot(), nil
	default:
	}
	if timeout <= 0 {
		m.metrics.SessionWait("timeout")
		return nil, &model.WaitTimeoutError{ID: id, Timeout: timeout}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
		m.metrics.SessionWait("resolved")
		return e.snapshot(), nil
	case <-timer.C:
		m.metrics.SessionWait("timeout")
		return nil, &model.WaitTimeoutError{ID: id, Timeout: timeout}
	case <-ctx.Done():
		m.metrics.SessionWait("cancelled")
		return nil, ctx.Err()
	case <-m.closed:
		return nil, ErrClosed
	}
}

// Resolve applies decision to the session checkpoint and returns the
// caller facing result.
func (m *Manager) Resolve(ctx context.Context, id string, decision *checkpoint.Decision) (*Result, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	cp, err := m.engine.Resolve(ctx, id, decision)
	if err != nil {
		return nil, err
	}
	m.finalize(ctx, e, cp)
	return e.result(), nil
}

// Escalate escalates the session checkpoint.
func (m *Manager) Escalate(ctx context.Context, id string, level model.Level, reason, actor string) (*model.Escalation, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	escalation, err := m.engine.Escalate(ctx, id, level, reason, actor)
	if err != nil {
		return nil, err
	}
	if cp, err := m.engine.Get(ctx, id); err == nil {
		m.finalize(ctx, e, cp)
	}
	return escalation, nil
}

// TakeSnapshot attaches a memory snapshot. Terminal sessions accept
// snapshots too.
func (m *Manager) TakeSnapshot(ctx context.Context, id string, snapshotType model.SnapshotType, content json.RawMessage, importance int) (*model.MemorySnapshot, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	snapshot, err := m.engine.Snapshot(ctx, id, snapshotType, content, importance)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if !containsSnapshot(e.session.Snapshots, snapshot.ID) {
		e.session.Snapshots = append(e.session.Snapshots, snapshot.Clone())
	}
	e.mu.Unlock()
	return snapshot, nil
}

// Get returns a copy of a session.
func (m *Manager) Get(id string) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// Owns reports whether a live session timer covers the checkpoint.
func (m *Manager) Owns(id string) bool {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer != nil
}

// Active lists PENDING sessions, oldest first.
func (m *Manager) Active() []*Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	var ret []*Session
	for _, e := range entries {
		if s := e.snapshot(); s.IsPending() {
			ret = append(ret, s)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.Before(ret[j].CreatedAt) })
	return ret
}

// Close stops every timer and fails pending waits with ErrClosed. Pending
// checkpoints stay PENDING in the repository.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.mu.Lock()
		entries := m.sessions
		m.sessions = map[string]*entry{}
		m.mu.Unlock()
		for _, e := range entries {
			e.mu.Lock()
			m.release(e)
			if e.cleanup != nil {
				e.cleanup.Stop()
			}
			e.mu.Unlock()
		}
	})
	return nil
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &model.NotFoundError{Kind: "session", ID: id}
	}
	return e, nil
}

// observe mirrors engine transitions so a resolution made outside the
// manager still wakes waiters.
func (m *Manager) observe(ctx context.Context, cp *model.Checkpoint) {
	if cp.IsPending() || m.isClosed() {
		return
	}
	m.mu.RLock()
	e, ok := m.sessions[cp.ID]
	m.mu.RUnlock()
	if ok {
		m.finalize(ctx, e, cp)
	}
}

func (m *Manager) expire(id string) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.timer = nil
	pending := e.session.IsPending()
	e.mu.Unlock()
	if !pending {
		return
	}
	ctx := context.Background()
	cp, err := m.engine.Expire(ctx, id)
	switch {
	case err == nil:
		m.logger.Info("session expired", "session", id)
	case errors.Is(err, model.ErrAlreadyResolved):
		// resolved before the session was indexed
		if cp, err = m.engine.Get(ctx, id); err != nil {
			m.logger.Warn("failed to reload resolved session", "session", id, "error", err)
			return
		}
	default:
		m.logger.Error("failed to expire session, leaving it to the sweeper", "session", id, "error", err)
		return
	}
	m.finalize(ctx, e, cp)
}

// finalize records a terminal checkpoint in the mirror once and wakes
// waiters.
func (m *Manager) finalize(ctx context.Context, e *entry, cp *model.Checkpoint) {
	if cp.IsPending() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.IsPending() {
		return
	}
	e.session.Checkpoint = cp.Clone()
	e.session.Status = cp.Status
	e.session.Result = resultOf(cp)
	if trail, err := m.engine.Trail(ctx, cp.ID); err == nil {
		e.session.Snapshots = trail.Snapshots
		e.session.Traces = trail.Traces
		e.session.Escalations = trail.Escalations
	} else {
		m.logger.Warn("failed to load session trail", "session", cp.ID, "error", err)
	}
	m.release(e)
	close(e.done)
	if m.retention > 0 {
		id := cp.ID
		e.cleanup = time.AfterFunc(m.retention, func() { m.forget(id, e) })
	}
}

// release stops the expiry timer; callers hold e.mu.
func (m *Manager) release(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.active {
		e.active = false
		m.metrics.SessionStopped()
	}
}

func (m *Manager) forget(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
}

func (e *entry) snapshot() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

func (e *entry) result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone().Result
}

func containsSnapshot(snapshots []*model.MemorySnapshot, id string) bool {
	for _, s := range snapshots {
		if s.ID == id {
			return true
		}
	}
	return false
}
