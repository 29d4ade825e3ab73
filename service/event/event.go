package event

import (
	"time"

	"github.com/viant/hitl/internal/idgen"
	"github.com/viant/hitl/model"
)

// Topics published by the governance services.
const (
	TopicCheckpointCreated   = "checkpoint.created"
	TopicCheckpointResolved  = "checkpoint.resolved"
	TopicCheckpointEscalated = "checkpoint.escalated"
	TopicCheckpointExpired   = "checkpoint.expired"
	TopicFailureRecorded     = "failure.recorded"
	TopicFailureUpdated      = "failure.updated"
)

// Event is the envelope of a governance event.
type Event struct {
	ID           string               `json:"id"`
	Topic        string               `json:"topic"`
	CheckpointID string               `json:"checkpointId,omitempty"`
	ModuleID     string               `json:"moduleId,omitempty"`
	Status       model.Status         `json:"status,omitempty"`
	Actor        string               `json:"actor,omitempty"`
	Checkpoint   *model.Checkpoint    `json:"checkpoint,omitempty"`
	Failure      *model.FailureRecord `json:"failure,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	Headers      map[string]string    `json:"headers,omitempty"`
}

// ForCheckpoint builds a checkpoint transition event.
func ForCheckpoint(topic string, cp *model.Checkpoint, actor string) *Event {
	return &Event{
		Topic:        topic,
		CheckpointID: cp.ID,
		ModuleID:     cp.ModuleID,
		Status:       cp.Status,
		Actor:        actor,
		Checkpoint:   cp.Clone(),
	}
}

// ForFailure builds a failure lifecycle event.
func ForFailure(topic string, f *model.FailureRecord) *Event {
	return &Event{
		Topic:        topic,
		CheckpointID: f.CheckpointID,
		ModuleID:     f.ModuleID,
		Failure:      f.Clone(),
	}
}

// TopicForStatus maps a terminal status to its topic.
func TopicForStatus(status model.Status) string {
	switch status {
	case model.StatusEscalated:
		return TopicCheckpointEscalated
	case model.StatusExpired:
		return TopicCheckpointExpired
	case model.StatusPending:
		return TopicCheckpointCreated
	}
	return TopicCheckpointResolved
}

func (e *Event) init(now time.Time) {
	if e.ID == "" {
		e.ID = idgen.NewWithPrefix("evt")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
}
