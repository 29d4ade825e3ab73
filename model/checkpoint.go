package model

import (
	"encoding/json"
	"time"
)

// CheckpointType classifies why a checkpoint needs a decision.
type CheckpointType string

const (
	CheckpointTypeDecision     CheckpointType = "DECISION_REQUIRED"
	CheckpointTypeConfirmation CheckpointType = "CONFIRMATION_REQUIRED"
	CheckpointTypeInformation  CheckpointType = "INFORMATION_REQUIRED"
	CheckpointTypeEscalation   CheckpointType = "ESCALATION_REQUIRED"
	CheckpointTypeValidation   CheckpointType = "VALIDATION_REQUIRED"
	CheckpointTypeAudit        CheckpointType = "AUDIT_REQUIRED"
)

// IsValid reports whether t is one of the known checkpoint types.
func (t CheckpointType) IsValid() bool {
	switch t {
	case CheckpointTypeDecision, CheckpointTypeConfirmation, CheckpointTypeInformation,
		CheckpointTypeEscalation, CheckpointTypeValidation, CheckpointTypeAudit:
		return true
	}
	return false
}

// Checkpoint is a unit of agent work paused pending a decision.
//
// Records are values: stores hand out copies, and the only way to change a
// stored checkpoint is a single resolution performed by the engine.
type Checkpoint struct {
	ID                 string                 `json:"id"`
	ModuleID           string                 `json:"moduleId"`
	AgentID            string                 `json:"agentId,omitempty"`
	SessionID          string                 `json:"sessionId,omitempty"`
	Type               CheckpointType         `json:"type"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	OriginalPayload    json.RawMessage        `json:"originalPayload"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Status             Status                 `json:"status"`
	CreatedAt          time.Time              `json:"createdAt"`
	ExpiresAt          time.Time              `json:"expiresAt"`
	TraceID            string                 `json:"traceId,omitempty"`
	ParentCheckpointID string                 `json:"parentCheckpointId,omitempty"`

	Resolution      string          `json:"resolution,omitempty"`
	ResolvedBy      string          `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	ModifiedPayload json.RawMessage `json:"modifiedPayload,omitempty"`
}

// IsPending reports whether the checkpoint still awaits a decision.
func (c *Checkpoint) IsPending() bool {
	return c != nil && c.Status == StatusPending
}

// IsExpired reports whether the checkpoint deadline passed at now.
func (c *Checkpoint) IsExpired(now time.Time) bool {
	return c != nil && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Clone returns a deep copy so callers can never alias a stored record.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	ret := *c
	ret.OriginalPayload = cloneRaw(c.OriginalPayload)
	ret.ModifiedPayload = cloneRaw(c.ModifiedPayload)
	ret.Metadata = cloneMap(c.Metadata)
	if c.ResolvedAt != nil {
		ts := *c.ResolvedAt
		ret.ResolvedAt = &ts
	}
	return &ret
}

func cloneRaw(src json.RawMessage) json.RawMessage {
	if src == nil {
		return nil
	}
	return append(json.RawMessage(nil), src...)
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	ret := make(map[string]interface{}, len(src))
	for k, v := range src {
		ret[k] = v
	}
	return ret
}
