package checkpoint

import (
	"context"
	"log/slog"

	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
	"github.com/viant/hitl/service/dao/fs"
	"github.com/viant/hitl/service/dao/store"
)

// Repository persists checkpoints. Any dao.Service[string, model.Checkpoint]
// satisfies it; checkpoints are never deleted so Delete is not required.
// Load must report unknown ids with dao.ErrNotFound.
type Repository interface {
	Save(ctx context.Context, checkpoint *model.Checkpoint) error
	Load(ctx context.Context, id string) (*model.Checkpoint, error)
	List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Checkpoint, error)
}

// Transition is one committed change of a checkpoint together with the
// audit records describing it.
type Transition struct {
	Previous   *model.Checkpoint
	Checkpoint *model.Checkpoint
	Trace      *model.DecisionTrace
	Escalation *model.Escalation
}

// Committer is implemented by repositories that can store a transition
// atomically. Commit must fail with an error matching
// model.ErrAlreadyResolved when the stored checkpoint is no longer PENDING.
type Committer interface {
	Commit(ctx context.Context, transition *Transition) error
}

// Fields exposes the filterable attributes of a checkpoint.
func Fields(cp *model.Checkpoint) criteria.Fields {
	return func(name string) (string, bool) {
		switch name {
		case dao.ParamModuleID:
			return cp.ModuleID, true
		case dao.ParamAgentID:
			return cp.AgentID, true
		case dao.ParamStatus:
			return string(cp.Status), true
		case dao.ParamType:
			return string(cp.Type), true
		}
		return "", false
	}
}

func matchCheckpoint(cp *model.Checkpoint, parameters []*dao.Parameter) bool {
	return criteria.Match(Fields(cp), parameters)
}

func checkpointKey(cp *model.Checkpoint) string { return cp.ID }

// NewMemoryRepository creates an in-memory repository.
func NewMemoryRepository() *store.MemoryStore[string, model.Checkpoint] {
	return store.NewMemoryStore[string, model.Checkpoint](checkpointKey,
		store.WithClone[string, model.Checkpoint]((*model.Checkpoint).Clone),
		store.WithFilter[string, model.Checkpoint](matchCheckpoint),
	)
}

// NewFSRepository creates a repository keeping one JSON file per checkpoint
// under baseURL.
func NewFSRepository(ctx context.Context, baseURL string, logger *slog.Logger) (*fs.Store[model.Checkpoint], error) {
	opts := []fs.Option[model.Checkpoint]{fs.WithFilter[model.Checkpoint](matchCheckpoint)}
	if logger != nil {
		opts = append(opts, fs.WithLogger[model.Checkpoint](logger))
	}
	return fs.New[model.Checkpoint](ctx, baseURL, checkpointKey, opts...)
}

func (f *Filter) parameters() []*dao.Parameter {
	var ret []*dao.Parameter
	if f == nil {
		return ret
	}
	if f.ModuleID != "" {
		ret = append(ret, dao.NewParameter(dao.ParamModuleID, f.ModuleID))
	}
	if f.AgentID != "" {
		ret = append(ret, dao.NewParameter(dao.ParamAgentID, f.AgentID))
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
