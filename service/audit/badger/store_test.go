package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit/audittest"
)

func TestStore_InMemory(t *testing.T) {
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()
	audittest.Run(t, store)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.AppendTrace(ctx, &model.DecisionTrace{
		ID: "t1", CheckpointID: "cp", DecisionMaker: "alice", DecisionType: model.DecisionHuman, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()
	traces, err := reopened.Traces(ctx, "cp")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "alice", traces[0].DecisionMaker)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
