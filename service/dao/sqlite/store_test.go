package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit/audittest"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/dao"
	"golang.org/x/sync/errgroup"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "hitl.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCheckpointStore_Audit(t *testing.T) {
	audittest.Run(t, openTestDB(t).Checkpoints())
}

func TestCheckpointStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Checkpoints()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, item := range []struct {
		id     string
		module string
		status model.Status
	}{
		{"cp1", "hr", model.StatusPending},
		{"cp2", "billing", model.StatusPending},
		{"cp3", "hr", model.StatusApproved},
	} {
		require.NoError(t, store.Save(ctx, &model.Checkpoint{
			ID: item.id, ModuleID: item.module, Status: item.status, Type: model.CheckpointTypeDecision,
			Title: "t", Description: "d", OriginalPayload: json.RawMessage(`{"n":1}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second), ExpiresAt: base.Add(time.Hour),
		}))
	}

	cp, err := store.Load(ctx, "cp2")
	require.NoError(t, err)
	assert.Equal(t, "billing", cp.ModuleID)
	assert.JSONEq(t, `{"n":1}`, string(cp.OriginalPayload))

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	pending, err := store.List(ctx, dao.NewParameter(dao.ParamStatus, string(model.StatusPending)))
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "cp1", pending[0].ID)

	hrPending, err := store.List(ctx, dao.NewParameter(dao.ParamStatus, string(model.StatusPending)), dao.NewParameter(dao.ParamModuleID, "hr"))
	require.NoError(t, err)
	require.Len(t, hrPending, 1)
	assert.Equal(t, "cp1", hrPending[0].ID)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.Delete(ctx, "cp3"))
	assert.ErrorIs(t, store.Delete(ctx, "cp3"), dao.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, store.Save(ctx, &model.Checkpoint{}), dao.ErrInvalidID)
}

func TestCheckpointStore_EngineCommit(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Checkpoints()
	engine := checkpoint.New(store)
	assert.Same(t, store, engine.AuditStore())

	cp, err := engine.Create(ctx, &checkpoint.Spec{
		ModuleID: "hr", Type: model.CheckpointTypeConfirmation, Title: "Delete user",
		Description: "remove user 42", Payload: json.RawMessage(`{"userId":42}`),
	})
	require.NoError(t, err)

	g := errgroup.Group{}
	results := make(chan error, 6)
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			_, err := engine.Resolve(ctx, cp.ID, &checkpoint.Decision{Status: model.StatusApproved, Actor: "alice", Resolution: "ok"})
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)
	succeeded, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, model.ErrAlreadyResolved):
			conflicts++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 5, conflicts)

	traces, err := store.Traces(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "alice", traces[0].DecisionMaker)

	loaded, err := engine.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, loaded.Status)
}

func TestCheckpointStore_CommitUnknown(t *testing.T) {
	store := openTestDB(t).Checkpoints()
	err := store.Commit(context.Background(), &checkpoint.Transition{
		Checkpoint: &model.Checkpoint{ID: "ghost", Status: model.StatusApproved},
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFailureStore(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Failures()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, &model.FailureRecord{ID: "f1", Type: model.FailureTimeout, OperationName: "sync", ModuleID: "hr", Status: model.FailureActive, CreatedAt: now}))
	require.NoError(t, store.Save(ctx, &model.FailureRecord{ID: "f2", Type: model.FailureOperation, OperationName: "sync", ModuleID: "hr", Status: model.FailureResolved, CreatedAt: now.Add(time.Second)}))

	record, err := store.Load(ctx, "f1")
	require.NoError(t, err)
	record.Status = model.FailureAcknowledged
	require.NoError(t, store.Save(ctx, record))

	open, err := store.List(ctx, &dao.Parameter{Name: dao.ParamStatus, Value: []string{string(model.FailureActive), string(model.FailureAcknowledged)}})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.FailureAcknowledged, open[0].Status)

	timeouts, err := store.List(ctx, dao.NewParameter(dao.ParamType, string(model.FailureTimeout)))
	require.NoError(t, err)
	require.Len(t, timeouts, 1)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	assert.Error(t, err)
}
