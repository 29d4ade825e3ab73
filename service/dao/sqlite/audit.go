package sqlite

import (
	"context"
	"encoding/json"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
)

const (
	kindSnapshot   = "snapshot"
	kindTrace      = "trace"
	kindEscalation = "escalation"
)

func appendRecord(ctx context.Context, q querier, kind, checkpointID, id string, createdAt int64, record interface{}) error {
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `INSERT INTO audit_records(kind, checkpoint_id, id, created_at, body) VALUES (?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`, kind, checkpointID, id, createdAt, string(body))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return audit.ErrDuplicate
	}
	return nil
}

// AppendSnapshot appends a memory snapshot.
func (s *CheckpointStore) AppendSnapshot(ctx context.Context, snapshot *model.MemorySnapshot) error {
	if err := audit.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	return appendRecord(ctx, s.db, kindSnapshot, snapshot.CheckpointID, snapshot.ID, snapshot.CreatedAt.UnixNano(), snapshot)
}

// AppendTrace appends a decision trace.
func (s *CheckpointStore) AppendTrace(ctx context.Context, trace *model.DecisionTrace) error {
	if err := audit.ValidateTrace(trace); err != nil {
		return err
	}
	return appendRecord(ctx, s.db, kindTrace, trace.CheckpointID, trace.ID, trace.CreatedAt.UnixNano(), trace)
}

// AppendEscalation appends an escalation.
func (s *CheckpointStore) AppendEscalation(ctx context.Context, escalation *model.Escalation) error {
	if err := audit.ValidateEscalation(escalation); err != nil {
		return err
	}
	return appendRecord(ctx, s.db, kindEscalation, escalation.CheckpointID, escalation.ID, escalation.CreatedAt.UnixNano(), escalation)
}

// RetractTrace removes a trace written for a rolled back transition.
func (s *CheckpointStore) RetractTrace(ctx context.Context, trace *model.DecisionTrace) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE kind = ? AND checkpoint_id = ? AND id = ?`, kindTrace, trace.CheckpointID, trace.ID)
	return err
}

// Snapshots lists the snapshots of a checkpoint.
func (s *CheckpointStore) Snapshots(ctx context.Context, checkpointID string) ([]*model.MemorySnapshot, error) {
	return listRecords[model.MemorySnapshot](ctx, s, kindSnapshot, checkpointID)
}

// Traces lists the decision traces of a checkpoint.
func (s *CheckpointStore) Traces(ctx context.Context, checkpointID string) ([]*model.DecisionTrace, error) {
	return listRecords[model.DecisionTrace](ctx, s, kindTrace, checkpointID)
}

// Escalations lists the escalations of a checkpoint.
func (s *CheckpointStore) Escalations(ctx context.Context, checkpointID string) ([]*model.Escalation, error) {
	return listRecords[model.Escalation](ctx, s, kindEscalation, checkpointID)
}

func listRecords[T any](ctx context.Context, s *CheckpointStore, kind, checkpointID string) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM audit_records WHERE kind = ? AND checkpoint_id = ? ORDER BY created_at, rowid`, kind, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		record := new(T)
		if err := json.Unmarshal([]byte(body), record); err != nil {
			return nil, err
		}
		ret = append(ret, record)
	}
	return ret, rows.Err()
}
