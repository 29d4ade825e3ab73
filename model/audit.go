package model

import (
	"encoding/json"
	"time"
)

// SnapshotType classifies a memory snapshot.
type SnapshotType string

const (
	SnapshotDecision   SnapshotType = "DECISION"
	SnapshotFeedback   SnapshotType = "FEEDBACK"
	SnapshotContext    SnapshotType = "CONTEXT"
	SnapshotEscalation SnapshotType = "ESCALATION"
	SnapshotAudit      SnapshotType = "AUDIT"
	SnapshotSystem     SnapshotType = "SYSTEM"
)

// IsValid reports whether t is a known snapshot type.
func (t SnapshotType) IsValid() bool {
	switch t {
	case SnapshotDecision, SnapshotFeedback, SnapshotContext, SnapshotEscalation, SnapshotAudit, SnapshotSystem:
		return true
	}
	return false
}

// MemorySnapshot is immutable contextual evidence attached to a checkpoint.
type MemorySnapshot struct {
	ID           string          `json:"id"`
	CheckpointID string          `json:"checkpointId"`
	Type         SnapshotType    `json:"type"`
	Content      json.RawMessage `json:"content"`
	Importance   int             `json:"importance"`
	CreatedAt    time.Time       `json:"createdAt"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
}

// DecisionType tells who made a decision.
type DecisionType string

const (
	DecisionHuman  DecisionType = "human"
	DecisionAgent  DecisionType = "agent"
	DecisionSystem DecisionType = "system"
)

// Well known decision makers used for non-human decisions.
const (
	DecisionMakerSystem = "system"
	DecisionMakerAgent  = "agent"
)

// DecisionTrace is the immutable audit record of one decision event.
type DecisionTrace struct {
	ID            string                 `json:"id"`
	CheckpointID  string                 `json:"checkpointId"`
	DecisionMaker string                 `json:"decisionMaker"`
	DecisionType  DecisionType           `json:"decisionType"`
	Status        Status                 `json:"status,omitempty"`
	Reasoning     string                 `json:"reasoning,omitempty"`
	Factors       map[string]interface{} `json:"factors,omitempty"`
	Alternatives  *Alternatives          `json:"alternatives,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// AlternativesKind discriminates the Alternatives variant.
type AlternativesKind string

const (
	// AlternativesModification pairs the original payload with the
	// human-modified one.
	AlternativesModification AlternativesKind = "modification"
	// AlternativesOptions lists options that were on the table.
	AlternativesOptions AlternativesKind = "options"
)

// Alternatives records what else was considered by a decision.
type Alternatives struct {
	Kind     AlternativesKind  `json:"kind"`
	Original json.RawMessage   `json:"original,omitempty"`
	Modified json.RawMessage   `json:"modified,omitempty"`
	Diff     string            `json:"diff,omitempty"`
	Added    int               `json:"added,omitempty"`
	Removed  int               `json:"removed,omitempty"`
	Options  []json.RawMessage `json:"options,omitempty"`
}

// Level is an ordinal severity shared by escalations, impact and risk.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels; unknown levels rank below LOW.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// IsValid reports whether l is a known level.
func (l Level) IsValid() bool { return l.Rank() > 0 }

// Escalation is a raised-severity marker tied to a checkpoint.
type Escalation struct {
	ID           string                 `json:"id"`
	CheckpointID string                 `json:"checkpointId"`
	Level        Level                  `json:"level"`
	Reason       string                 `json:"reason"`
	RaisedBy     string                 `json:"raisedBy,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *MemorySnapshot) Clone() *MemorySnapshot {
	if s == nil {
		return nil
	}
	ret := *s
	ret.Content = cloneRaw(s.Content)
	if s.ExpiresAt != nil {
		ts := *s.ExpiresAt
		ret.ExpiresAt = &ts
	}
	return &ret
}

// Clone returns a deep copy of the trace.
func (t *DecisionTrace) Clone() *DecisionTrace {
	if t == nil {
		return nil
	}
	ret := *t
	ret.Factors = cloneMap(t.Factors)
	if t.Alternatives != nil {
		alt := *t.Alternatives
		alt.Original = cloneRaw(t.Alternatives.Original)
		alt.Modified = cloneRaw(t.Alternatives.Modified)
		if t.Alternatives.Options != nil {
			alt.Options = make([]json.RawMessage, len(t.Alternatives.Options))
			for i, o := range t.Alternatives.Options {
				alt.Options[i] = cloneRaw(o)
			}
		}
		ret.Alternatives = &alt
	}
	return &ret
}

// Clone returns a deep copy of the escalation.
func (e *Escalation) Clone() *Escalation {
	if e == nil {
		return nil
	}
	ret := *e
	ret.Metadata = cloneMap(e.Metadata)
	return &ret
}
