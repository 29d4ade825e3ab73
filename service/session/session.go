// Package session wraps PENDING checkpoints with time-bounded waits. A
// session owns the expiry timer of its checkpoint and wakes every waiter
// when the checkpoint leaves PENDING, whoever moved it.
package session

import (
	"encoding/json"
	"time"

	"github.com/viant/hitl/model"
)

// Session is the in-process view of a checkpoint being waited on. Its id is
// the checkpoint id.
type Session struct {
	ID          string                  `json:"id"`
	Checkpoint  *model.Checkpoint       `json:"checkpoint"`
	Status      model.Status            `json:"status"`
	CreatedAt   time.Time               `json:"createdAt"`
	TimeoutAt   time.Time               `json:"timeoutAt"`
	Result      *Result                 `json:"result,omitempty"`
	Snapshots   []*model.MemorySnapshot `json:"snapshots,omitempty"`
	Traces      []*model.DecisionTrace  `json:"traces,omitempty"`
	Escalations []*model.Escalation     `json:"escalations,omitempty"`
}

// Result is the outcome handed back to the proposing caller.
type Result struct {
	Status          model.Status    `json:"status"`
	Message         string          `json:"message"`
	ModifiedPayload json.RawMessage `json:"modifiedPayload,omitempty"`
}

// IsPending reports whether the session still awaits a decision.
func (s *Session) IsPending() bool { return s != nil && s.Status == model.StatusPending }

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	ret := *s
	ret.Checkpoint = s.Checkpoint.Clone()
	if s.Result != nil {
		result := *s.Result
		result.ModifiedPayload = append(json.RawMessage(nil), s.Result.ModifiedPayload...)
		ret.Result = &result
	}
	ret.Snapshots = make([]*model.MemorySnapshot, len(s.Snapshots))
	for i, item := range s.Snapshots {
		ret.Snapshots[i] = item.Clone()
	}
	ret.Traces = make([]*model.DecisionTrace, len(s.Traces))
	for i, item := range s.Traces {
		ret.Traces[i] = item.Clone()
	}
	ret.Escalations = make([]*model.Escalation, len(s.Escalations))
	for i, item := range s.Escalations {
		ret.Escalations[i] = item.Clone()
	}
	return &ret
}

// resultOf derives the caller facing result of a terminal checkpoint.
func resultOf(cp *model.Checkpoint) *Result {
	ret := &Result{Status: cp.Status, Message: cp.Resolution}
	if ret.Message == "" {
		ret.Message = defaultMessage(cp.Status)
	}
	if cp.Status == model.StatusModified {
		ret.ModifiedPayload = append(json.RawMessage(nil), cp.ModifiedPayload...)
	}
	return ret
}

func defaultMessage(status model.Status) string {
	switch status {
	case model.StatusApproved:
		return "Action approved"
	case model.StatusRejected:
		return "Action rejected"
	case model.StatusModified:
		return "Action approved with modifications"
	case model.StatusEscalated:
		return "Action escalated"
	case model.StatusExpired:
		return "Session expired due to timeout"
	}
	return string(status)
}
