package model

import "time"

// FailureType classifies a supervised operation failure.
type FailureType string

const (
	FailureTimeout     FailureType = "TIMEOUT"
	FailureOperation   FailureType = "OPERATION_ERROR"
	FailureDecision    FailureType = "DECISION_ERROR"
	FailureIntegration FailureType = "INTEGRATION_ERROR"
	FailureMemory      FailureType = "MEMORY_ERROR"
	FailureHITL        FailureType = "HITL_ERROR"
)

// FailureStatus is the recovery lifecycle of a failure.
type FailureStatus string

const (
	FailureActive       FailureStatus = "ACTIVE"
	FailureAcknowledged FailureStatus = "ACKNOWLEDGED"
	FailureResolved     FailureStatus = "RESOLVED"
	FailureAutoResolved FailureStatus = "AUTO_RESOLVED"
)

// IsOpen reports whether the failure still belongs to the active set.
func (s FailureStatus) IsOpen() bool {
	return s == FailureActive || s == FailureAcknowledged
}

// FailureRecord describes a supervised operation that exhausted its retries.
type FailureRecord struct {
	ID                  string                 `json:"id"`
	Type                FailureType            `json:"type"`
	OperationName       string                 `json:"operationName"`
	ModuleID            string                 `json:"moduleId,omitempty"`
	Status              FailureStatus          `json:"status"`
	Error               string                 `json:"error,omitempty"`
	RecoveryAttempts    int                    `json:"recoveryAttempts"`
	LastRecoveryAttempt *time.Time             `json:"lastRecoveryAttempt,omitempty"`
	CheckpointID        string                 `json:"checkpointId,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

// Clone returns a deep copy of the record.
func (f *FailureRecord) Clone() *FailureRecord {
	if f == nil {
		return nil
	}
	ret := *f
	ret.Metadata = cloneMap(f.Metadata)
	if f.LastRecoveryAttempt != nil {
		ts := *f.LastRecoveryAttempt
		ret.LastRecoveryAttempt = &ts
	}
	return &ret
}
