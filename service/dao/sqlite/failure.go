package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
	"github.com/viant/hitl/service/recovery"
)

// FailureStore persists supervised failure records.
type FailureStore struct {
	db *sql.DB
}

var (
	_ dao.Service[string, model.FailureRecord] = (*FailureStore)(nil)
	_ recovery.Store                           = (*FailureStore)(nil)
)

// Save inserts or replaces a failure record.
func (s *FailureStore) Save(ctx context.Context, record *model.FailureRecord) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO failures(id, status, module_id, type, created_at, body) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body`,
		record.ID, string(record.Status), record.ModuleID, string(record.Type), record.CreatedAt.UnixNano(), string(body))
	return err
}

// Load returns the record or dao.ErrNotFound.
func (s *FailureStore) Load(ctx context.Context, id string) (*model.FailureRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM failures WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ret := &model.FailureRecord{}
	if err := json.Unmarshal([]byte(body), ret); err != nil {
		return nil, fmt.Errorf("decode failure %s: %w", id, err)
	}
	return ret, nil
}

// Delete removes a record.
func (s *FailureStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failures WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List returns matching records in creation order.
func (s *FailureStore) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.FailureRecord, error) {
	query := `SELECT body FROM failures`
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
	var ret []*model.FailureRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		record := &model.FailureRecord{}
		if err := json.Unmarshal([]byte(body), record); err != nil {
			return nil, err
		}
		if criteria.Match(recovery.Fields(record), parameters) {
			ret = append(ret, record)
		}
	}
	return ret, rows.Err()
}
