// Package audit keeps the append-only trail of a checkpoint: memory
// snapshots, decision traces and escalations.
package audit

import (
	"context"
	"errors"

	"github.com/viant/hitl/model"
)

// ErrDuplicate is returned when appending a record whose id already exists.
var ErrDuplicate = errors.New("audit: duplicate record")

// Store is the append-only audit trail. Records are never updated, and only
// a rolled back trace is ever deleted (see Retractor); listings are ordered
// by creation time.
type Store interface {
	AppendSnapshot(ctx context.Context, snapshot *model.MemorySnapshot) error
	AppendTrace(ctx context.Context, trace *model.DecisionTrace) error
	AppendEscalation(ctx context.Context, escalation *model.Escalation) error

	Snapshots(ctx context.Context, checkpointID string) ([]*model.MemorySnapshot, error)
	Traces(ctx context.Context, checkpointID string) ([]*model.DecisionTrace, error)
	Escalations(ctx context.Context, checkpointID string) ([]*model.Escalation, error)
}

// Retractor withdraws a decision trace whose transition was rolled back
// before it became visible. Stores without it keep the orphan trace.
type Retractor interface {
	RetractTrace(ctx context.Context, trace *model.DecisionTrace) error
}

// Trail is the full audit history of one checkpoint.
type Trail struct {
	CheckpointID string                  `json:"checkpointId"`
	Snapshots    []*model.MemorySnapshot `json:"snapshots,omitempty"`
	Traces       []*model.DecisionTrace  `json:"traces,omitempty"`
	Escalations  []*model.Escalation     `json:"escalations,omitempty"`
}

// Load reads the whole trail of a checkpoint.
func Load(ctx context.Context, store Store, checkpointID string) (*Trail, error) {
	ret := &Trail{CheckpointID: checkpointID}
	var err error
	if ret.Snapshots, err = store.Snapshots(ctx, checkpointID); err != nil {
		return nil, model.NewStorageError("load snapshots", err)
	}
	if ret.Traces, err = store.Traces(ctx, checkpointID); err != nil {
		return nil, model.NewStorageError("load traces", err)
	}
	if ret.Escalations, err = store.Escalations(ctx, checkpointID); err != nil {
		return nil, model.NewStorageError("load escalations", err)
	}
	return ret, nil
}

// ValidateSnapshot checks the required snapshot fields.
func ValidateSnapshot(s *model.MemorySnapshot) error {
	switch {
	case s == nil:
		return &model.ValidationError{Field: "snapshot", Reason: "required"}
	case s.ID == "":
		return &model.ValidationError{Field: "snapshot.id", Reason: "required"}
	case s.CheckpointID == "":
		return &model.ValidationError{Field: "snapshot.checkpointId", Reason: "required"}
	case !s.Type.IsValid():
		return &model.ValidationError{Field: "snapshot.type", Reason: "unknown type " + string(s.Type)}
	}
	return nil
}

// ValidateTrace checks the required trace fields.
func ValidateTrace(t *model.DecisionTrace) error {
	switch {
	case t == nil:
		return &model.ValidationError{Field: "trace", Reason: "required"}
	case t.ID == "":
		return &model.ValidationError{Field: "trace.id", Reason: "required"}
	case t.CheckpointID == "":
		return &model.ValidationError{Field: "trace.checkpointId", Reason: "required"}
	case t.DecisionMaker == "":
		return &model.ValidationError{Field: "trace.decisionMaker", Reason: "required"}
	}
	switch t.DecisionType {
	case model.DecisionHuman, model.DecisionAgent, model.DecisionSystem:
	default:
		return &model.ValidationError{Field: "trace.decisionType", Reason: "unknown type " + string(t.DecisionType)}
	}
	return nil
}

// ValidateEscalation checks the required escalation fields.
func ValidateEscalation(e *model.Escalation) error {
	switch {
	case e == nil:
		return &model.ValidationError{Field: "escalation", Reason: "required"}
	case e.ID == "":
		return &model.ValidationError{Field: "escalation.id", Reason: "required"}
	case e.CheckpointID == "":
		return &model.ValidationError{Field: "escalation.checkpointId", Reason: "required"}
	case !e.Level.IsValid():
		return &model.ValidationError{Field: "escalation.level", Reason: "unknown level " + string(e.Level)}
	}
	return nil
}
