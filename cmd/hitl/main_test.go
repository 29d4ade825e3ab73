package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/recovery"
)

func init() {
	color.NoColor = true
}

// seed creates a store with one pending checkpoint and one failure.
func seed(t *testing.T) (string, *model.Checkpoint) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hitl.db")
	config := hitl.DefaultConfig()
	config.Storage = hitl.StorageConfig{Driver: hitl.DriverSQLite, URL: path}
	srv, err := hitl.New(ctx, config)
	require.NoError(t, err)
	cp, err := srv.Engine().Create(ctx, &checkpoint.Spec{
		ModuleID:    "billing",
		AgentID:     "agent-7",
		Type:        model.CheckpointTypeConfirmation,
		Title:       "Refund order 42",
		Description: "Agent wants to refund a disputed order",
		Payload:     json.RawMessage(`{"order":42,"amount":100}`),
	})
	require.NoError(t, err)
	_ = srv.Supervisor().ExecuteWithRecovery(ctx, func(ctx context.Context) error {
		return assert.AnError
	}, nil, recovery.WithName("ledger-sync"), recovery.WithModule("billing"), recovery.WithMaxRetries(1))
	require.NoError(t, srv.Close())
	return path, cp
}

func run(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--driver", "sqlite", "--url", path}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI(t *testing.T) {
	path, cp := seed(t)

	out, err := run(t, path, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, cp.ID)
	assert.Contains(t, out, "Refund order 42")
	assert.Contains(t, out, "Total: 1 pending")

	out, err = run(t, path, "show", cp.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, `{"order":42,"amount":100}`)

	out, err = run(t, path, "resolve", cp.ID, "--status", "modified", "--payload", `{"order":42,"amount":50}`, "--actor", "alice", "--reason", "partial refund")
	require.NoError(t, err)
	assert.Contains(t, out, "MODIFIED by alice")

	_, err = run(t, path, "resolve", cp.ID, "--actor", "bob")
	assert.ErrorIs(t, err, model.ErrAlreadyResolved)

	out, err = run(t, path, "trail", cp.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "alice (human)")
	assert.Contains(t, out, "partial refund")
	assert.Contains(t, out, `+  "amount": 50`)

	out, err = run(t, path, "--json", "pending")
	require.NoError(t, err)
	var pending []*model.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	assert.Empty(t, pending)

	out, err = run(t, path, "failures")
	require.NoError(t, err)
	assert.Contains(t, out, "ledger-sync")
	assert.Contains(t, out, "ACTIVE")
}

func TestCLI_Escalate(t *testing.T) {
	path, cp := seed(t)

	out, err := run(t, path, "escalate", cp.ID, "--level", "high", "--reason", "amount over limit", "--actor", "alice", "--spawn")
	require.NoError(t, err)
	assert.Contains(t, out, "escalated (HIGH)")
	assert.Contains(t, out, "Follow-up checkpoint:")

	out, err = run(t, path, "show", cp.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "ESCALATED")
	assert.Contains(t, out, "Escalation chain:")

	out, err = run(t, path, "--json", "pending", "--module", "billing")
	require.NoError(t, err)
	var pending []*model.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, cp.ID, pending[0].ParentCheckpointID)
	assert.Equal(t, model.CheckpointTypeEscalation, pending[0].Type)
}

func TestCLI_Errors(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "x.db"), "show", "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"pending"})
	assert.Error(t, cmd.ExecuteContext(context.Background()), "a persistent store is required")
}
