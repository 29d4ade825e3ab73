package checkpoint

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/viant/hitl/model"
)

// Spec describes a checkpoint to create.
type Spec struct {
	ModuleID           string
	AgentID            string
	SessionID          string
	Type               model.CheckpointType
	Title              string
	Description        string
	Payload            json.RawMessage
	Metadata           map[string]interface{}
	ParentCheckpointID string
	// ExpiresAt overrides the module TTL when set.
	ExpiresAt time.Time
	// TTL overrides the module TTL when positive and ExpiresAt is zero.
	TTL time.Duration
	// Context is attached as a CONTEXT snapshot by the session manager.
	Context json.RawMessage
}

// Validate checks the required fields.
func (s *Spec) Validate() error {
	switch {
	case s == nil:
		return &model.ValidationError{Reason: "checkpoint spec is nil"}
	case !s.Type.IsValid():
		return &model.ValidationError{Field: "type", Reason: "unknown checkpoint type " + string(s.Type)}
	case strings.TrimSpace(s.Title) == "":
		return &model.ValidationError{Field: "title", Reason: "required"}
	case strings.TrimSpace(s.Description) == "":
		return &model.ValidationError{Field: "description", Reason: "required"}
	case len(s.Payload) == 0:
		return &model.ValidationError{Field: "originalPayload", Reason: "required"}
	case !json.Valid(s.Payload):
		return &model.ValidationError{Field: "originalPayload", Reason: "not valid JSON"}
	case len(s.Context) > 0 && !json.Valid(s.Context):
		return &model.ValidationError{Field: "context", Reason: "not valid JSON"}
	}
	return nil
}

// Decision is a resolution request.
type Decision struct {
	Status          model.Status
	Resolution      string
	ModifiedPayload json.RawMessage
	Actor           string
	// DecisionType defaults from Actor: "system" and "agent" map to their
	// types, anyone else is human.
	DecisionType model.DecisionType
	Factors      map[string]interface{}
}

// Validate checks the decision fields.
func (d *Decision) Validate() error {
	switch {
	case d == nil:
		return &model.ValidationError{Reason: "decision is nil"}
	case !d.Status.IsResolution():
		return &model.ValidationError{Field: "status", Reason: "cannot resolve to " + string(d.Status)}
	case strings.TrimSpace(d.Actor) == "":
		return &model.ValidationError{Field: "actor", Reason: "required"}
	case d.Status == model.StatusModified && len(d.ModifiedPayload) == 0:
		return &model.ValidationError{Field: "modifiedPayload", Reason: "required for MODIFIED"}
	case len(d.ModifiedPayload) > 0 && !json.Valid(d.ModifiedPayload):
		return &model.ValidationError{Field: "modifiedPayload", Reason: "not valid JSON"}
	}
	switch d.DecisionType {
	case "", model.DecisionHuman, model.DecisionAgent, model.DecisionSystem:
	default:
		return &model.ValidationError{Field: "decisionType", Reason: "unknown type " + string(d.DecisionType)}
	}
	return nil
}

// Filter narrows checkpoint listings. Empty fields match everything.
type Filter struct {
	ModuleID string
	AgentID  string
	Status   []model.Status
}

func decisionTypeOf(actor string) model.DecisionType {
	switch actor {
	case model.DecisionMakerSystem:
		return model.DecisionSystem
	case model.DecisionMakerAgent:
		return model.DecisionAgent
	}
	return model.DecisionHuman
}
