// Package checkpoint implements the checkpoint state machine: a checkpoint
// is created PENDING and moves exactly once to a terminal status through
// Resolve, Escalate or Expire. Every transition is committed together with
// one decision trace.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/internal/diff"
	"github.com/viant/hitl/internal/idgen"
	"github.com/viant/hitl/internal/keylock"
	"github.com/viant/hitl/metrics"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/messaging"
	"github.com/viant/hitl/tracing"
)

// ExpiredResolution is the resolution text of an expired checkpoint.
const ExpiredResolution = "Session expired due to timeout"

// Listener observes committed changes. It receives a copy of the record and
// runs synchronously after the per-checkpoint lock is released.
type Listener func(ctx context.Context, checkpoint *model.Checkpoint)

// Engine is the checkpoint state machine.
type Engine struct {
	repo      Repository
	committer Committer
	audit     audit.Store
	locks     *keylock.Locker
	logger    *slog.Logger
	now       clock.Func
	ttl       time.Duration
	moduleTTL map[string]time.Duration
	events    messaging.Queue[event.Event]
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	listeners []Listener
}

// New creates an Engine over repo.
func New(repo Repository, opts ...Option) *Engine {
	ret := &Engine{
		repo:      repo,
		locks:     keylock.New(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ttl:       DefaultTTL,
		moduleTTL: map[string]time.Duration{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.audit == nil {
		if store, ok := repo.(audit.Store); ok {
			ret.audit = store
		} else {
			ret.audit = audit.NewMemory()
		}
	}
	// A committer writes the audit records itself, so it is only trusted
	// when it is also the audit store the engine reads from.
	if committer, ok := repo.(Committer); ok {
		if store, ok := repo.(audit.Store); ok && store == ret.audit {
			ret.committer = committer
		}
	}
	return ret
}

// AddListener registers a listener after construction.
func (e *Engine) AddListener(listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// AuditStore returns the audit trail store.
func (e *Engine) AuditStore() audit.Store { return e.audit }

// Now returns the engine clock time.
func (e *Engine) Now() time.Time { return e.now.Now() }

// TTL returns the checkpoint lifetime of a module.
func (e *Engine) TTL(moduleID string) time.Duration {
	if ttl, ok := e.moduleTTL[moduleID]; ok {
		return ttl
	}
	return e.ttl
}

// Create validates spec and persists a new PENDING checkpoint.
func (e *Engine) Create(ctx context.Context, spec *Spec) (cp *model.Checkpoint, err error) {
	if err = spec.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "checkpoint.create", tracing.KindInternal)
	defer func() { tracing.EndSpan(span, err) }()

	if spec.ParentCheckpointID != "" {
		parent, err := e.Get(ctx, spec.ParentCheckpointID)
		if err != nil {
			return nil, err
		}
		if parent.Status != model.StatusEscalated {
			return nil, &model.ValidationError{Field: "parentCheckpointId", Reason: "parent " + parent.ID + " is " + string(parent.Status) + ", not ESCALATED"}
		}
	}

	now := e.now.Now()
	cp = &model.Checkpoint{
		ID:                 idgen.New(),
		ModuleID:           spec.ModuleID,
		AgentID:            spec.AgentID,
		SessionID:          spec.SessionID,
		Type:               spec.Type,
		Title:              spec.Title,
		Description:        spec.Description,
		OriginalPayload:    append(json.RawMessage(nil), spec.Payload...),
		Metadata:           spec.Metadata,
		Status:             model.StatusPending,
		CreatedAt:          now,
		ExpiresAt:          spec.ExpiresAt,
		TraceID:            span.TraceID(),
		ParentCheckpointID: spec.ParentCheckpointID,
	}
	if cp.ExpiresAt.IsZero() {
		ttl := spec.TTL
		if ttl <= 0 {
			ttl = e.TTL(spec.ModuleID)
		}
		cp.ExpiresAt = now.Add(ttl)
	}
	span.WithAttributes(map[string]string{"checkpoint.id": cp.ID, "checkpoint.type": string(cp.Type), "module.id": cp.ModuleID})

	if err = e.repo.Save(ctx, cp.Clone()); err != nil {
		e.metrics.StorageError("create")
		e.logger.Error("failed to persist checkpoint", "checkpoint", cp.ID, "error", err)
		return nil, model.NewStorageError("save checkpoint", err)
	}
	e.metrics.CheckpointCreated(cp.ModuleID, string(cp.Type))
	e.logger.Info("checkpoint created", "checkpoint", cp.ID, "module", cp.ModuleID, "type", cp.Type, "expiresAt", cp.ExpiresAt)
	e.notify(ctx, cp, "")
	return cp.Clone(), nil
}

// Spawn creates the follow-up checkpoint of an ESCALATED parent. Empty
// module, agent, type and payload are inherited from the parent; the type
// defaults to ESCALATION_REQUIRED.
func (e *Engine) Spawn(ctx context.Context, parentID string, spec *Spec) (*model.Checkpoint, error) {
	parent, err := e.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	child := Spec{}
	if spec != nil {
		child = *spec
	}
	child.ParentCheckpointID = parent.ID
	if child.ModuleID == "" {
		child.ModuleID = parent.ModuleID
	}
	if child.AgentID == "" {
		child.AgentID = parent.AgentID
	}
	if child.Type == "" {
		child.Type = model.CheckpointTypeEscalation
	}
	if child.Title == "" {
		child.Title = parent.Title
	}
	if child.Description == "" {
		child.Description = parent.Description
	}
	if len(child.Payload) == 0 {
		child.Payload = parent.OriginalPayload
	}
	return e.Create(ctx, &child)
}

// Resolve applies a human (or agent) decision to a PENDING checkpoint.
// Resolving to ESCALATED is an escalation at MEDIUM level.
func (e *Engine) Resolve(ctx context.Context, id string, decision *Decision) (*model.Checkpoint, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}
	if decision.Status == model.StatusEscalated {
		if _, err := e.Escalate(ctx, id, model.LevelMedium, decision.Resolution, decision.Actor); err != nil {
			return nil, err
		}
		return e.Get(ctx, id)
	}
	decisionType := decision.DecisionType
	if decisionType == "" {
		decisionType = decisionTypeOf(decision.Actor)
	}
	t, err := e.transition(ctx, "checkpoint.resolve", id, func(cp *model.Checkpoint, now time.Time) (*Transition, error) {
		cp.Status = decision.Status
		cp.Resolution = decision.Resolution
		cp.ResolvedBy = decision.Actor
		cp.ResolvedAt = &now
		trace := e.newTrace(cp, decision.Actor, decisionType, decision.Resolution, now)
		trace.Factors = decision.Factors
		if decision.Status == model.StatusModified {
			cp.ModifiedPayload = append(json.RawMessage(nil), decision.ModifiedPayload...)
			trace.Alternatives = e.modification(cp)
		}
		return &Transition{Checkpoint: cp, Trace: trace}, nil
	})
	if err != nil {
		return nil, err
	}
	return t.Checkpoint.Clone(), nil
}

// Escalate marks a PENDING checkpoint ESCALATED and records an escalation.
// The checkpoint never reopens; use Spawn for the follow-up decision.
func (e *Engine) Escalate(ctx context.Context, id string, level model.Level, reason, actor string) (*model.Escalation, error) {
	if !level.IsValid() {
		return nil, &model.ValidationError{Field: "level", Reason: "unknown level " + string(level)}
	}
	if actor == "" {
		return nil, &model.ValidationError{Field: "actor", Reason: "required"}
	}
	t, err := e.transition(ctx, "checkpoint.escalate", id, func(cp *model.Checkpoint, now time.Time) (*Transition, error) {
		cp.Status = model.StatusEscalated
		cp.Resolution = reason
		cp.ResolvedBy = actor
		cp.ResolvedAt = &now
		escalation := &model.Escalation{
			ID:           idgen.NewWithPrefix("esc"),
			CheckpointID: cp.ID,
			Level:        level,
			Reason:       reason,
			RaisedBy:     actor,
			CreatedAt:    now,
		}
		trace := e.newTrace(cp, actor, decisionTypeOf(actor), reason, now)
		trace.Factors = map[string]interface{}{"escalationId": escalation.ID, "level": string(level)}
		return &Transition{Checkpoint: cp, Trace: trace, Escalation: escalation}, nil
	})
	if err != nil {
		return nil, err
	}
	return t.Escalation.Clone(), nil
}

// Expire moves a PENDING checkpoint to EXPIRED. It is driven by session
// timers and the sweeper, never by callers deciding on a checkpoint.
func (e *Engine) Expire(ctx context.Context, id string) (*model.Checkpoint, error) {
	t, err := e.transition(ctx, "checkpoint.expire", id, func(cp *model.Checkpoint, now time.Time) (*Transition, error) {
		cp.Status = model.StatusExpired
		cp.Resolution = ExpiredResolution
		cp.ResolvedBy = model.DecisionMakerSystem
		cp.ResolvedAt = &now
		trace := e.newTrace(cp, model.DecisionMakerSystem, model.DecisionSystem, ExpiredResolution, now)
		trace.Factors = map[string]interface{}{"expiresAt": cp.ExpiresAt.Format(time.RFC3339Nano)}
		return &Transition{Checkpoint: cp, Trace: trace}, nil
	})
	if err != nil {
		return nil, err
	}
	return t.Checkpoint.Clone(), nil
}

// Get returns a checkpoint in any status.
func (e *Engine) Get(ctx context.Context, id string) (*model.Checkpoint, error) {
	if id == "" {
		return nil, &model.ValidationError{Field: "id", Reason: "required"}
	}
	cp, err := e.repo.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, &model.NotFoundError{Kind: "checkpoint", ID: id}
		}
		e.metrics.StorageError("load")
		return nil, model.NewStorageError("load checkpoint", err)
	}
	if cp == nil {
		return nil, &model.NotFoundError{Kind: "checkpoint", ID: id}
	}
	return cp, nil
}

// GetPending lists PENDING checkpoints, newest first.
func (e *Engine) GetPending(ctx context.Context, filter Filter) ([]*model.Checkpoint, error) {
	filter.Status = []model.Status{model.StatusPending}
	return e.List(ctx, filter)
}

// List lists checkpoints matching filter, newest first.
func (e *Engine) List(ctx context.Context, filter Filter) ([]*model.Checkpoint, error) {
	ret, err := e.repo.List(ctx, filter.parameters()...)
	if err != nil {
		e.metrics.StorageError("list")
		return nil, model.NewStorageError("list checkpoints", err)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret, nil
}

// Chain returns the escalation chain through id, from the root checkpoint
// to the most recent descendant.
func (e *Engine) Chain(ctx context.Context, id string) ([]*model.Checkpoint, error) {
	cp, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{cp.ID: true}
	chain := []*model.Checkpoint{cp}
	for parentID := cp.ParentCheckpointID; parentID != "" && !visited[parentID]; {
		parent, err := e.Get(ctx, parentID)
		if err != nil {
			return nil, err
		}
		visited[parent.ID] = true
		chain = append([]*model.Checkpoint{parent}, chain...)
		parentID = parent.ParentCheckpointID
	}

	all, err := e.List(ctx, Filter{ModuleID: cp.ModuleID})
	if err != nil {
		return nil, err
	}
	children := map[string]*model.Checkpoint{}
	for _, candidate := range all { // newest first, so the first child seen wins
		if candidate.ParentCheckpointID == "" {
			continue
		}
		if _, ok := children[candidate.ParentCheckpointID]; !ok {
			children[candidate.ParentCheckpointID] = candidate
		}
	}
	for leaf := chain[len(chain)-1]; ; {
		child, ok := children[leaf.ID]
		if !ok || visited[child.ID] {
			break
		}
		visited[child.ID] = true
		chain = append(chain, child)
		leaf = child
	}
	return chain, nil
}

// Snapshot appends a memory snapshot to a checkpoint in any status.
func (e *Engine) Snapshot(ctx context.Context, id string, snapshotType model.SnapshotType, content json.RawMessage, importance int) (*model.MemorySnapshot, error) {
	if !snapshotType.IsValid() {
		return nil, &model.ValidationError{Field: "type", Reason: "unknown snapshot type " + string(snapshotType)}
	}
	if len(content) == 0 {
		content = json.RawMessage("null")
	}
	if !json.Valid(content) {
		return nil, &model.ValidationError{Field: "content", Reason: "not valid JSON"}
	}
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	snapshot := &model.MemorySnapshot{
		ID:           idgen.NewWithPrefix("snap"),
		CheckpointID: id,
		Type:         snapshotType,
		Content:      append(json.RawMessage(nil), content...),
		Importance:   importance,
		CreatedAt:    e.now.Now(),
	}
	if err := e.audit.AppendSnapshot(ctx, snapshot); err != nil {
		e.metrics.StorageError("snapshot")
		return nil, model.NewStorageError("append snapshot", err)
	}
	return snapshot.Clone(), nil
}

// Trail returns the audit trail of a checkpoint.
func (e *Engine) Trail(ctx context.Context, id string) (*audit.Trail, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return audit.Load(ctx, e.audit, id)
}

type buildFunc func(cp *model.Checkpoint, now time.Time) (*Transition, error)

// transition runs the compare-and-swap on PENDING under the checkpoint lock.
func (e *Engine) transition(ctx context.Context, op, id string, build buildFunc) (t *Transition, err error) {
	ctx, span := tracing.StartSpan(ctx, op, tracing.KindInternal)
	span.WithAttributes(map[string]string{"checkpoint.id": id})
	defer func() { tracing.EndSpan(span, err) }()

	release := e.locks.Lock(id)
	current, err := e.Get(ctx, id)
	if err != nil {
		release()
		return nil, err
	}
	if !current.IsPending() {
		release()
		return nil, &model.AlreadyResolvedError{ID: id, Status: current.Status}
	}
	if t, err = build(current.Clone(), e.now.Now()); err != nil {
		release()
		return nil, err
	}
	t.Previous = current
	if !model.CanTransition(current.Status, t.Checkpoint.Status) {
		release()
		return nil, &model.AlreadyResolvedError{ID: id, Status: current.Status}
	}
	err = e.commit(ctx, t)
	release()
	if err != nil {
		return nil, err
	}

	cp := t.Checkpoint
	span.WithAttributes(map[string]string{"checkpoint.status": string(cp.Status)})
	e.metrics.CheckpointTerminated(cp.ModuleID, string(cp.Status), cp.ResolvedAt.Sub(cp.CreatedAt))
	e.logger.Info("checkpoint transitioned", "checkpoint", cp.ID, "module", cp.ModuleID, "status", cp.Status, "actor", cp.ResolvedBy)
	e.notify(ctx, cp, cp.ResolvedBy)
	return t, nil
}

// commit stores the new record and its audit entries. Without a committer
// the record is written first, then the trace, then the escalation; a failed
// audit write restores the record and retracts the trace already written.
func (e *Engine) commit(ctx context.Context, t *Transition) error {
	if e.committer != nil {
		err := e.committer.Commit(ctx, t)
		if err == nil || errors.Is(err, model.ErrAlreadyResolved) {
			return err
		}
		e.metrics.StorageError("commit")
		e.logger.Error("failed to commit transition", "checkpoint", t.Checkpoint.ID, "error", err)
		return model.NewStorageError("commit transition", err)
	}

	if err := e.repo.Save(ctx, t.Checkpoint.Clone()); err != nil {
		e.metrics.StorageError("save")
		e.logger.Error("failed to save checkpoint", "checkpoint", t.Checkpoint.ID, "error", err)
		return model.NewStorageError("save checkpoint", err)
	}
	if err := e.audit.AppendTrace(ctx, t.Trace); err != nil {
		e.restore(ctx, t, err)
		return model.NewStorageError("append trace", err)
	}
	if t.Escalation != nil {
		if err := e.audit.AppendEscalation(ctx, t.Escalation); err != nil {
			e.retract(ctx, t.Trace)
			e.restore(ctx, t, err)
			return model.NewStorageError("append escalation", err)
		}
	}
	return nil
}

// retract withdraws the trace of a transition whose escalation could not be
// written.
func (e *Engine) retract(ctx context.Context, trace *model.DecisionTrace) {
	retractor, ok := e.audit.(audit.Retractor)
	if !ok {
		e.logger.Warn("audit store cannot retract traces, keeping orphan trace", "checkpoint", trace.CheckpointID, "trace", trace.ID)
		return
	}
	if err := retractor.RetractTrace(context.WithoutCancel(ctx), trace); err != nil {
		e.logger.Error("failed to retract trace", "checkpoint", trace.CheckpointID, "trace", trace.ID, "error", err)
	}
}

func (e *Engine) restore(ctx context.Context, t *Transition, cause error) {
	e.metrics.StorageError("audit")
	e.logger.Error("failed to write audit record, restoring checkpoint", "checkpoint", t.Checkpoint.ID, "error", cause)
	if err := e.repo.Save(context.WithoutCancel(ctx), t.Previous.Clone()); err != nil {
		e.logger.Error("failed to restore checkpoint", "checkpoint", t.Previous.ID, "status", t.Checkpoint.Status, "error", err)
	}
}

func (e *Engine) newTrace(cp *model.Checkpoint, actor string, decisionType model.DecisionType, reasoning string, now time.Time) *model.DecisionTrace {
	return &model.DecisionTrace{
		ID:            idgen.NewWithPrefix("trace"),
		CheckpointID:  cp.ID,
		DecisionMaker: actor,
		DecisionType:  decisionType,
		Status:        cp.Status,
		Reasoning:     reasoning,
		CreatedAt:     now,
	}
}

func (e *Engine) modification(cp *model.Checkpoint) *model.Alternatives {
	ret := &model.Alternatives{
		Kind:     model.AlternativesModification,
		Original: append(json.RawMessage(nil), cp.OriginalPayload...),
		Modified: append(json.RawMessage(nil), cp.ModifiedPayload...),
	}
	text, stats, err := diff.JSON(cp.OriginalPayload, cp.ModifiedPayload)
	if err != nil {
		e.logger.Warn("failed to diff modified payload", "checkpoint", cp.ID, "error", err)
		return ret
	}
	ret.Diff = text
	ret.Added = stats.Added
	ret.Removed = stats.Removed
	return ret
}

func (e *Engine) notify(ctx context.Context, cp *model.Checkpoint, actor string) {
	e.mu.RLock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, cp.Clone())
	}
	if e.events == nil {
		return
	}
	evt := event.ForCheckpoint(event.TopicForStatus(cp.Status), cp, actor)
	evt.CreatedAt = e.now.Now()
	evt.ID = idgen.NewWithPrefix("evt")
	if err := e.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.Warn("failed to publish checkpoint event", "checkpoint", cp.ID, "topic", evt.Topic, "error", err)
	}
}
