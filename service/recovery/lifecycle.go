package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/event"
)

// RecoveryOptionID names a recovery strategy.
type RecoveryOptionID string

const (
	OptionRetry               RecoveryOptionID = "RETRY"
	OptionFallback            RecoveryOptionID = "FALLBACK"
	OptionHumanIntervention   RecoveryOptionID = "HUMAN_INTERVENTION"
	OptionAlternativeApproach RecoveryOptionID = "ALTERNATIVE_APPROACH"
	OptionAbort               RecoveryOptionID = "ABORT"
)

// MetadataFailureID links a HUMAN_INTERVENTION checkpoint to its failure.
const MetadataFailureID = "failureId"

// RecoveryOption is a strategy applicable to a failure.
type RecoveryOption struct {
	ID          RecoveryOptionID `json:"id"`
	Description string           `json:"description"`
	// RequiresOperation is set when the caller must supply the operation.
	RequiresOperation bool `json:"requiresOperation,omitempty"`
}

// RecoveryContext carries the inputs of a recovery action.
type RecoveryContext struct {
	Actor  string
	Reason string
	// Operation replaces the recorded operation for RETRY and FALLBACK and
	// is required by ALTERNATIVE_APPROACH.
	Operation func(ctx context.Context) error
	Timeout   time.Duration
	Level     model.Level
}

// Stats summarises failure records.
type Stats struct {
	Total        int                       `json:"total"`
	Active       int                       `json:"active"`
	Acknowledged int                       `json:"acknowledged"`
	Resolved     int                       `json:"resolved"`
	AutoResolved int                       `json:"autoResolved"`
	ByType       map[model.FailureType]int `json:"byType"`
	ByModule     map[string]int            `json:"byModule"`
}

// Get returns a failure record.
func (s *Supervisor) Get(ctx context.Context, id string) (*model.FailureRecord, error) {
	record, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, &model.NotFoundError{Kind: "failure", ID: id}
		}
		return nil, model.NewStorageError("load failure", err)
	}
	if record == nil {
		return nil, &model.NotFoundError{Kind: "failure", ID: id}
	}
	return record, nil
}

// List returns failure records matching filter in creation order.
func (s *Supervisor) List(ctx context.Context, filter Filter) ([]*model.FailureRecord, error) {
	ret, err := s.store.List(ctx, filter.parameters()...)
	if err != nil {
		return nil, model.NewStorageError("list failures", err)
	}
	return ret, nil
}

// Active returns ACTIVE and ACKNOWLEDGED failures.
func (s *Supervisor) Active(ctx context.Context, moduleID string) ([]*model.FailureRecord, error) {
	return s.List(ctx, Filter{ModuleID: moduleID, Status: []model.FailureStatus{model.FailureActive, model.FailureAcknowledged}})
}

// Acknowledge moves an ACTIVE failure to ACKNOWLEDGED. Any other status is
// returned unchanged, so repeated calls are safe.
func (s *Supervisor) Acknowledge(ctx context.Context, id string) (*model.FailureRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != model.FailureActive {
		return record, nil
	}
	record.Status = model.FailureAcknowledged
	record.UpdatedAt = s.now.Now()
	if err := s.save(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info("failure acknowledged", "failure", id)
	return record, nil
}

// Options lists the strategies applicable to a failure.
func (s *Supervisor) Options(ctx context.Context, id string) ([]*RecoveryOption, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.IsOpen() {
		return nil, nil
	}
	a := s.actionsOf(id)
	ret := []*RecoveryOption{{
		ID:                OptionRetry,
		Description:       "Run " + record.OperationName + " again",
		RequiresOperation: a.retry == nil,
	}}
	if a.fallback != nil {
		ret = append(ret, &RecoveryOption{ID: OptionFallback, Description: "Run the fallback of " + record.OperationName})
	}
	if s.engine != nil && !s.awaitingHuman(ctx, record) {
		ret = append(ret, &RecoveryOption{ID: OptionHumanIntervention, Description: "Ask a human to decide through an escalation checkpoint"})
	}
	ret = append(ret,
		&RecoveryOption{ID: OptionAlternativeApproach, Description: "Run a caller supplied alternative", RequiresOperation: true},
		&RecoveryOption{ID: OptionAbort, Description: "Give up and close the failure"},
	)
	return ret, nil
}

// ExecuteRecoveryAction applies a recovery strategy. Every run counts as a
// recovery attempt; success closes the failure (HUMAN_INTERVENTION leaves
// it ACKNOWLEDGED until the checkpoint is decided) and failure leaves it
// ACTIVE.
func (s *Supervisor) ExecuteRecoveryAction(ctx context.Context, id string, option RecoveryOptionID, rc *RecoveryContext) (*model.FailureRecord, error) {
	return s.recover(ctx, id, option, rc, false)
}

func (s *Supervisor) recover(ctx context.Context, id string, option RecoveryOptionID, rc *RecoveryContext, auto bool) (*model.FailureRecord, error) {
	if rc == nil {
		rc = &RecoveryContext{}
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Status.IsOpen() {
		return record, &model.ValidationError{Field: "failure", Reason: fmt.Sprintf("failure %s is %s", id, record.Status)}
	}

	a := s.actionsOf(id)
	var fn func(ctx context.Context) error
	switch option {
	case OptionRetry:
		fn = a.retry
		if rc.Operation != nil {
			fn = rc.Operation
		}
	case OptionFallback:
		fn = a.fallback
		if rc.Operation != nil {
			fn = rc.Operation
		}
	case OptionAlternativeApproach:
		fn = rc.Operation
	case OptionHumanIntervention:
		if s.engine == nil {
			return record, &model.ValidationError{Field: "option", Reason: "no checkpoint engine configured"}
		}
		if s.awaitingHuman(ctx, record) {
			return record, &model.ValidationError{Field: "option", Reason: "failure already awaits checkpoint " + record.CheckpointID}
		}
	case OptionAbort:
	default:
		return record, &model.ValidationError{Field: "option", Reason: "unknown recovery option " + string(option)}
	}
	if fn == nil && (option == OptionRetry || option == OptionFallback || option == OptionAlternativeApproach) {
		return record, &model.ValidationError{Field: "operation", Reason: string(option) + " needs an operation"}
	}

	now := s.now.Now()
	record.RecoveryAttempts++
	record.LastRecoveryAttempt = &now
	record.UpdatedAt = now

	var runErr error
	switch option {
	case OptionHumanIntervention:
		var cp *model.Checkpoint
		if cp, runErr = s.escalate(ctx, record, rc); runErr == nil {
			record.CheckpointID = cp.ID
			record.Status = model.FailureAcknowledged
		}
	case OptionAbort:
		record.Status = model.FailureResolved
		record.Metadata = withValue(record.Metadata, "resolution", "aborted")
	default:
		timeout := rc.Timeout
		if timeout <= 0 {
			timeout = s.defaults.Timeout
		}
		_, runErr = runOnce(ctx, Call{Name: record.OperationName, Timeout: timeout}, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}, record.RecoveryAttempts)
		if runErr == nil {
			record.Status = model.FailureResolved
			if auto {
				record.Status = model.FailureAutoResolved
			}
		}
	}
	if runErr != nil {
		record.Status = model.FailureActive
		record.Error = runErr.Error()
	}
	s.metrics.Recovery(string(option), runErr)
	if rc.Actor != "" {
		record.Metadata = withValue(record.Metadata, "lastActor", rc.Actor)
	}
	if err := s.save(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info("recovery action applied", "failure", id, "option", option, "status", record.Status, "attempts", record.RecoveryAttempts, "error", runErr)
	return record, runErr
}

func (s *Supervisor) escalate(ctx context.Context, record *model.FailureRecord, rc *RecoveryContext) (*model.Checkpoint, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	description := fmt.Sprintf("%s failed with %s: %s", record.OperationName, record.Type, record.Error)
	if rc.Reason != "" {
		description += "; " + rc.Reason
	}
	return s.engine.Create(ctx, &checkpoint.Spec{
		ModuleID:    record.ModuleID,
		Type:        model.CheckpointTypeEscalation,
		Title:       "Recover failed operation " + record.OperationName,
		Description: description,
		Payload:     payload,
		Metadata: map[string]interface{}{
			MetadataFailureID: record.ID,
			"failureType":     string(record.Type),
		},
	})
}

// awaitingHuman reports whether the failure's checkpoint is still PENDING.
func (s *Supervisor) awaitingHuman(ctx context.Context, record *model.FailureRecord) bool {
	if record.CheckpointID == "" || s.engine == nil {
		return false
	}
	cp, err := s.engine.Get(ctx, record.CheckpointID)
	return err == nil && cp.IsPending()
}

// observe applies checkpoint decisions to the failures they were raised
// for. A checkpoint spawned from an escalated one takes over the link.
func (s *Supervisor) observe(ctx context.Context, cp *model.Checkpoint) {
	id, _ := cp.Metadata[MetadataFailureID].(string)
	if id == "" {
		if cp.ParentCheckpointID == "" {
			return
		}
		linked, err := s.store.List(ctx, dao.NewParameter(dao.ParamCheckpointID, cp.ParentCheckpointID))
		if err != nil || len(linked) == 0 {
			return
		}
		id = linked[0].ID
	} else if cp.IsPending() {
		// the creating recovery action links it
		return
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	record, err := s.Get(ctx, id)
	if err != nil || !record.Status.IsOpen() {
		return
	}
	switch cp.Status {
	case model.StatusPending:
		record.CheckpointID = cp.ID
	case model.StatusApproved, model.StatusModified:
		if record.CheckpointID != cp.ID {
			return
		}
		record.Status = model.FailureResolved
		record.Metadata = withValue(record.Metadata, "resolvedBy", cp.ResolvedBy)
	case model.StatusRejected, model.StatusExpired:
		if record.CheckpointID != cp.ID {
			return
		}
		record.Status = model.FailureActive
	default:
		return
	}
	record.UpdatedAt = s.now.Now()
	if err := s.save(ctx, record); err != nil {
		s.logger.Error("failed to apply checkpoint decision to failure", "failure", id, "checkpoint", cp.ID, "error", err)
		return
	}
	s.logger.Info("checkpoint decision applied to failure", "failure", id, "checkpoint", cp.ID, "checkpointStatus", cp.Status, "status", record.Status)
}

// save stores an updated record and releases its actions once closed.
func (s *Supervisor) save(ctx context.Context, record *model.FailureRecord) error {
	if err := s.store.Save(ctx, record.Clone()); err != nil {
		return model.NewStorageError("save failure", err)
	}
	if !record.Status.IsOpen() {
		s.metrics.FailureClosed(string(record.Type))
		s.mu.Lock()
		delete(s.actions, record.ID)
		s.mu.Unlock()
	}
	s.publish(ctx, event.TopicFailureUpdated, record)
	return nil
}

// Stats counts failure records by status, type and module.
func (s *Supervisor) Stats(ctx context.Context) (*Stats, error) {
	records, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	ret := &Stats{ByType: map[model.FailureType]int{}, ByModule: map[string]int{}}
	for _, record := range records {
		ret.Total++
		ret.ByType[record.Type]++
		ret.ByModule[record.ModuleID]++
		switch record.Status {
		case model.FailureActive:
			ret.Active++
		case model.FailureAcknowledged:
			ret.Acknowledged++
		case model.FailureResolved:
			ret.Resolved++
		case model.FailureAutoResolved:
			ret.AutoResolved++
		}
	}
	return ret, nil
}

func withValue(metadata map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata[key] = value
	return metadata
}
