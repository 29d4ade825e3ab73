package recovery

import (
	"context"
	"log/slog"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
	"github.com/viant/hitl/service/dao/fs"
	"github.com/viant/hitl/service/dao/store"
)

// Store persists failure records. Records are never deleted; Load reports
// unknown ids with dao.ErrNotFound.
type Store interface {
	Save(ctx context.Context, record *model.FailureRecord) error
	Load(ctx context.Context, id string) (*model.FailureRecord, error)
	List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.FailureRecord, error)
}

// Fields exposes the filterable attributes of a failure record.
func Fields(f *model.FailureRecord) criteria.Fields {
	return func(name string) (string, bool) {
		switch name {
		case dao.ParamStatus:
			return string(f.Status), true
		case dao.ParamModuleID:
			return f.ModuleID, true
		case dao.ParamType:
			return string(f.Type), true
		case dao.ParamCheckpointID:
			return f.CheckpointID, true
		}
		return "", false
	}
}

func matchFailure(f *model.FailureRecord, parameters []*dao.Parameter) bool {
	return criteria.Match(Fields(f), parameters)
}

func failureKey(f *model.FailureRecord) string { return f.ID }

// NewMemoryStore creates an in-memory failure store.
func NewMemoryStore() *store.MemoryStore[string, model.FailureRecord] {
	return store.NewMemoryStore[string, model.FailureRecord](failureKey,
		store.WithClone[string, model.FailureRecord]((*model.FailureRecord).Clone),
		store.WithFilter[string, model.FailureRecord](matchFailure),
	)
}

// NewFSStore creates a store keeping one JSON file per failure under baseURL.
func NewFSStore(ctx context.Context, baseURL string, logger *slog.Logger) (*fs.Store[model.FailureRecord], error) {
	opts := []fs.Option[model.FailureRecord]{fs.WithFilter[model.FailureRecord](matchFailure)}
	if logger != nil {
		opts = append(opts, fs.WithLogger[model.FailureRecord](logger))
	}
	return fs.New[model.FailureRecord](ctx, baseURL, failureKey, opts...)
}

// Filter selects failure records.
type Filter struct {
	ModuleID string
	Type     model.FailureType
	Status   []model.FailureStatus
}

func (f *Filter) parameters() []*dao.Parameter {
	var ret []*dao.Parameter
	if f == nil {
		return ret
	}
	if f.ModuleID != "" {
		ret = append(ret, dao.NewParameter(dao.ParamModuleID, f.ModuleID))
	}
	if f.Type != "" {
		ret = append(ret, dao.NewParameter(dao.ParamType, string(f.Type)))
	}
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, s := range f.Status {
			statuses[i] = string(s)
		}
		ret = append(ret, &dao.Parameter{Name: dao.ParamStatus, Value: statuses})
	}
	return ret
}
