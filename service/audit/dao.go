package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/viant/afs/url"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
	"github.com/viant/hitl/service/dao/fs"
	"github.com/viant/hitl/service/dao/store"
)

// DAOStore implements Store on top of three generic DAOs. Record keys are
// "<checkpointID>/<recordID>" so file backed DAOs group a trail in one folder.
type DAOStore struct {
	mu          sync.Mutex
	snapshots   dao.Service[string, model.MemorySnapshot]
	traces      dao.Service[string, model.DecisionTrace]
	escalations dao.Service[string, model.Escalation]
}

var (
	_ Store     = (*DAOStore)(nil)
	_ Retractor = (*DAOStore)(nil)
)

// NewDAOStore wraps existing DAOs.
func NewDAOStore(snapshots dao.Service[string, model.MemorySnapshot], traces dao.Service[string, model.DecisionTrace], escalations dao.Service[string, model.Escalation]) *DAOStore {
	return &DAOStore{snapshots: snapshots, traces: traces, escalations: escalations}
}

// NewMemory creates an in-memory audit store.
func NewMemory() *DAOStore {
	return NewDAOStore(
		store.NewMemoryStore[string, model.MemorySnapshot](snapshotKey,
			store.WithClone[string, model.MemorySnapshot]((*model.MemorySnapshot).Clone),
			store.WithFilter[string, model.MemorySnapshot](func(s *model.MemorySnapshot, p []*dao.Parameter) bool {
				return criteria.Match(checkpointField(s.CheckpointID), p)
			})),
		store.NewMemoryStore[string, model.DecisionTrace](traceKey,
			store.WithClone[string, model.DecisionTrace]((*model.DecisionTrace).Clone),
			store.WithFilter[string, model.DecisionTrace](func(t *model.DecisionTrace, p []*dao.Parameter) bool {
				return criteria.Match(checkpointField(t.CheckpointID), p)
			})),
		store.NewMemoryStore[string, model.Escalation](escalationKey,
			store.WithClone[string, model.Escalation]((*model.Escalation).Clone),
			store.WithFilter[string, model.Escalation](func(e *model.Escalation, p []*dao.Parameter) bool {
				return criteria.Match(checkpointField(e.CheckpointID), p)
			})),
	)
}

// NewFS creates a file backed audit store under baseURL.
func NewFS(ctx context.Context, baseURL string, logger *slog.Logger) (*DAOStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	snapshots, err := fs.New[model.MemorySnapshot](ctx, url.Join(baseURL, "snapshots"), snapshotKey,
		fs.WithLogger[model.MemorySnapshot](logger),
		fs.WithFilter[model.MemorySnapshot](func(s *model.MemorySnapshot, p []*dao.Parameter) bool {
			return criteria.Match(checkpointField(s.CheckpointID), p)
		}))
	if err != nil {
		return nil, err
	}
	traces, err := fs.New[model.DecisionTrace](ctx, url.Join(baseURL, "traces"), traceKey,
		fs.WithLogger[model.DecisionTrace](logger),
		fs.WithFilter[model.DecisionTrace](func(t *model.DecisionTrace, p []*dao.Parameter) bool {
			return criteria.Match(checkpointField(t.CheckpointID), p)
		}))
	if err != nil {
		return nil, err
	}
	escalations, err := fs.New[model.Escalation](ctx, url.Join(baseURL, "escalations"), escalationKey,
		fs.WithLogger[model.Escalation](logger),
		fs.WithFilter[model.Escalation](func(e *model.Escalation, p []*dao.Parameter) bool {
			return criteria.Match(checkpointField(e.CheckpointID), p)
		}))
	if err != nil {
		return nil, err
	}
	return NewDAOStore(snapshots, traces, escalations), nil
}

// AppendSnapshot adds a snapshot to the trail.
func (s *DAOStore) AppendSnapshot(ctx context.Context, snapshot *model.MemorySnapshot) error {
	if err := ValidateSnapshot(snapshot); err != nil {
		return err
	}
	return appendRecord(ctx, &s.mu, s.snapshots, snapshotKey(snapshot), snapshot)
}

// AppendTrace adds a decision trace to the trail.
func (s *DAOStore) AppendTrace(ctx context.Context, trace *model.DecisionTrace) error {
	if err := ValidateTrace(trace); err != nil {
		return err
	}
	return appendRecord(ctx, &s.mu, s.traces, traceKey(trace), trace)
}

// AppendEscalation adds an escalation to the trail.
func (s *DAOStore) AppendEscalation(ctx context.Context, escalation *model.Escalation) error {
	if err := ValidateEscalation(escalation); err != nil {
		return err
	}
	return appendRecord(ctx, &s.mu, s.escalations, escalationKey(escalation), escalation)
}

// RetractTrace removes a trace written for a rolled back transition.
func (s *DAOStore) RetractTrace(ctx context.Context, trace *model.DecisionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.traces.Delete(ctx, traceKey(trace))
	if errors.Is(err, dao.ErrNotFound) {
		return nil
	}
	return err
}

// Snapshots lists the snapshots of a checkpoint.
func (s *DAOStore) Snapshots(ctx context.Context, checkpointID string) ([]*model.MemorySnapshot, error) {
	ret, err := s.snapshots.List(ctx, dao.NewParameter(dao.ParamCheckpointID, checkpointID))
	if err != nil {
		return nil, err
	}
	sortByTime(ret, func(v *model.MemorySnapshot) time.Time { return v.CreatedAt })
	return ret, nil
}

// Traces lists the decision traces of a checkpoint.
func (s *DAOStore) Traces(ctx context.Context, checkpointID string) ([]*model.DecisionTrace, error) {
	ret, err := s.traces.List(ctx, dao.NewParameter(dao.ParamCheckpointID, checkpointID))
	if err != nil {
		return nil, err
	}
	sortByTime(ret, func(v *model.DecisionTrace) time.Time { return v.CreatedAt })
	return ret, nil
}

// Escalations lists the escalations of a checkpoint.
func (s *DAOStore) Escalations(ctx context.Context, checkpointID string) ([]*model.Escalation, error) {
	ret, err := s.escalations.List(ctx, dao.NewParameter(dao.ParamCheckpointID, checkpointID))
	if err != nil {
		return nil, err
	}
	sortByTime(ret, func(v *model.Escalation) time.Time { return v.CreatedAt })
	return ret, nil
}

func appendRecord[T any](ctx context.Context, mu *sync.Mutex, service dao.Service[string, T], key string, record *T) error {
	mu.Lock()
	defer mu.Unlock()
	_, err := service.Load(ctx, key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	case !errors.Is(err, dao.ErrNotFound):
		return err
	}
	return service.Save(ctx, record)
}

func sortByTime[T any](records []*T, at func(*T) time.Time) {
	sort.SliceStable(records, func(i, j int) bool {
		return at(records[i]).Before(at(records[j]))
	})
}

func checkpointField(checkpointID string) criteria.Fields {
	return func(name string) (string, bool) {
		if name == dao.ParamCheckpointID {
			return checkpointID, true
		}
		return "", false
	}
}

func snapshotKey(s *model.MemorySnapshot) string { return recordKey(s.CheckpointID, s.ID) }

func traceKey(t *model.DecisionTrace) string { return recordKey(t.CheckpointID, t.ID) }

func escalationKey(e *model.Escalation) string { return recordKey(e.CheckpointID, e.ID) }

func recordKey(checkpointID, id string) string {
	if checkpointID == "" || id == "" {
		return ""
	}
	return checkpointID + "/" + id
}
