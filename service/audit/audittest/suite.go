// Package audittest exercises an audit.Store implementation against the
// append-only trail contract.
package audittest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
)

// Run checks ordering, isolation between checkpoints, duplicate rejection,
// validation and, for stores implementing audit.Retractor, trace retraction.
func Run(t *testing.T, store audit.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, id := range []string{"t3", "t1", "t2"} {
		require.NoError(t, store.AppendTrace(ctx, &model.DecisionTrace{
			ID:            id,
			CheckpointID:  "cp1",
			DecisionMaker: "alice",
			DecisionType:  model.DecisionHuman,
			Status:        model.StatusApproved,
			Reasoning:     "ok",
			Factors:       map[string]interface{}{"score": float64(i)},
			CreatedAt:     base.Add(time.Duration(3-i) * time.Second),
		}))
	}
	require.NoError(t, store.AppendTrace(ctx, &model.DecisionTrace{
		ID: "other", CheckpointID: "cp2", DecisionMaker: model.DecisionMakerSystem, DecisionType: model.DecisionSystem, CreatedAt: base,
	}))

	traces, err := store.Traces(ctx, "cp1")
	require.NoError(t, err)
	require.Len(t, traces, 3)
	assert.Equal(t, []string{"t2", "t1", "t3"}, []string{traces[0].ID, traces[1].ID, traces[2].ID})
	assert.Equal(t, "alice", traces[0].DecisionMaker)
	assert.True(t, traces[0].CreatedAt.Equal(base.Add(time.Second)))

	err = store.AppendTrace(ctx, &model.DecisionTrace{ID: "t1", CheckpointID: "cp1", DecisionMaker: "bob", DecisionType: model.DecisionHuman, CreatedAt: base})
	assert.ErrorIs(t, err, audit.ErrDuplicate)
	err = store.AppendTrace(ctx, &model.DecisionTrace{ID: "bad", CheckpointID: "cp1", DecisionMaker: "bob", DecisionType: "robot"})
	assert.ErrorIs(t, err, model.ErrValidation)

	require.NoError(t, store.AppendSnapshot(ctx, &model.MemorySnapshot{
		ID: "s1", CheckpointID: "cp1", Type: model.SnapshotContext, Content: json.RawMessage(`{"k":"v"}`), Importance: 2, CreatedAt: base,
	}))
	assert.ErrorIs(t, store.AppendSnapshot(ctx, &model.MemorySnapshot{ID: "s2", CheckpointID: "cp1", Type: "BOGUS"}), model.ErrValidation)
	snapshots, err := store.Snapshots(ctx, "cp1")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.JSONEq(t, `{"k":"v"}`, string(snapshots[0].Content))
	assert.Equal(t, 2, snapshots[0].Importance)

	require.NoError(t, store.AppendEscalation(ctx, &model.Escalation{
		ID: "e1", CheckpointID: "cp1", Level: model.LevelHigh, Reason: "needs lead", CreatedAt: base,
	}))
	escalations, err := store.Escalations(ctx, "cp1")
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, model.LevelHigh, escalations[0].Level)

	empty, err := store.Traces(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	trail, err := audit.Load(ctx, store, "cp1")
	require.NoError(t, err)
	assert.Len(t, trail.Traces, 3)
	assert.Len(t, trail.Snapshots, 1)
	assert.Len(t, trail.Escalations, 1)

	retractor, ok := store.(audit.Retractor)
	if !ok {
		return
	}
	require.NoError(t, retractor.RetractTrace(ctx, traces[1]))
	traces, err = store.Traces(ctx, "cp1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, []string{traces[0].ID, traces[1].ID})
	require.NoError(t, store.AppendTrace(ctx, &model.DecisionTrace{
		ID: "t1", CheckpointID: "cp1", DecisionMaker: "alice", DecisionType: model.DecisionHuman, CreatedAt: base.Add(2 * time.Second),
	}))
	traces, err = store.Traces(ctx, "cp1")
	require.NoError(t, err)
	assert.Len(t, traces, 3)
}
