package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
)

// CheckpointStore persists checkpoints and their audit trail.
type CheckpointStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ checkpoint.Repository                 = (*CheckpointStore)(nil)
	_ checkpoint.Committer                  = (*CheckpointStore)(nil)
	_ audit.Store                           = (*CheckpointStore)(nil)
	_ dao.Service[string, model.Checkpoint] = (*CheckpointStore)(nil)
)

const upsertCheckpoint = `INSERT INTO checkpoints(id, module_id, agent_id, status, type, created_at, body)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body`

// Save inserts or replaces a checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	if cp == nil {
		return dao.ErrNilEntity
	}
	if cp.ID == "" {
		return dao.ErrInvalidID
	}
	return saveCheckpoint(ctx, s.db, cp)
}

func saveCheckpoint(ctx context.Context, q querier, cp *model.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, upsertCheckpoint, cp.ID, cp.ModuleID, cp.AgentID, string(cp.Status), string(cp.Type), cp.CreatedAt.UnixNano(), string(body))
	return err
}

// Load returns the checkpoint or dao.ErrNotFound.
func (s *CheckpointStore) Load(ctx context.Context, id string) (*model.Checkpoint, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM checkpoints WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ret := &model.Checkpoint{}
	if err := json.Unmarshal([]byte(body), ret); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return ret, nil
}

// Delete removes a checkpoint. The engine never deletes; it exists for
// maintenance tooling.
func (s *CheckpointStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List returns checkpoints matching parameters in creation order. A status
// parameter is pushed down to the query, the rest is matched in memory.
func (s *CheckpointStore) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Checkpoint, error) {
	query := `SELECT body FROM checkpoints`
	var args []any
	if param, ok := dao.Lookup(dao.ParamStatus, parameters); ok {
		if clause, values := inClause("status", param.Value); clause != "" {
			query += " WHERE " + clause
			args = values
		}
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []*model.Checkpoint
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		cp := &model.Checkpoint{}
		if err := json.Unmarshal([]byte(body), cp); err != nil {
			return nil, err
		}
		if criteria.Match(checkpoint.Fields(cp), parameters) {
			ret = append(ret, cp)
		}
	}
	return ret, rows.Err()
}

// Commit applies a transition: the checkpoint moves only when it is still
// PENDING, and its trace and escalation are written in the same transaction.
func (s *CheckpointStore) Commit(ctx context.Context, t *checkpoint.Transition) (err error) {
	if t == nil || t.Checkpoint == nil {
		return dao.ErrNilEntity
	}
	if t.Trace != nil {
		if err := audit.ValidateTrace(t.Trace); err != nil {
			return err
		}
	}
	if t.Escalation != nil {
		if err := audit.ValidateEscalation(t.Escalation); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("failed to roll back transition", "checkpoint", t.Checkpoint.ID, "error", rbErr)
			}
		}
	}()

	body, err := json.Marshal(t.Checkpoint)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE checkpoints SET status = ?, body = ? WHERE id = ? AND status = ?`,
		string(t.Checkpoint.Status), string(body), t.Checkpoint.ID, string(model.StatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		switch scanErr := tx.QueryRowContext(ctx, `SELECT status FROM checkpoints WHERE id = ?`, t.Checkpoint.ID).Scan(&status); {
		case errors.Is(scanErr, sql.ErrNoRows):
			return &model.NotFoundError{Kind: "checkpoint", ID: t.Checkpoint.ID}
		case scanErr != nil:
			return scanErr
		}
		return &model.AlreadyResolvedError{ID: t.Checkpoint.ID, Status: model.Status(status)}
	}
	if t.Trace != nil {
		if err = appendRecord(ctx, tx, kindTrace, t.Trace.CheckpointID, t.Trace.ID, t.Trace.CreatedAt.UnixNano(), t.Trace); err != nil {
			return err
		}
	}
	if t.Escalation != nil {
		if err = appendRecord(ctx, tx, kindEscalation, t.Escalation.CheckpointID, t.Escalation.ID, t.Escalation.CreatedAt.UnixNano(), t.Escalation); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// inClause renders "column IN (?, ...)" for a string or []string value.
func inClause(column string, value interface{}) (string, []any) {
	var values []string
	switch v := value.(type) {
	case string:
		if v != "" {
			values = []string{v}
		}
	case []string:
		values = v
	}
	if len(values) == 0 {
		return "", nil
	}
	args := make([]any, len(values))
	marks := make([]byte, 0, 2*len(values))
	for i, v := range values {
		if i > 0 {
			marks = append(marks, ',')
		}
		marks = append(marks, '?')
		args[i] = v
	}
	return column + " IN (" + string(marks) + ")", args
}
