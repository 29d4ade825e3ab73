package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/messaging/memory"
	"golang.org/x/sync/errgroup"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func newSpec(module string) *Spec {
	return &Spec{
		ModuleID:    module,
		AgentID:     "agent-1",
		Type:        model.CheckpointTypeConfirmation,
		Title:       "Delete user",
		Description: "Agent wants to delete user 42",
		Payload:     json.RawMessage(`{"userId":42,"hard":false}`),
	}
}

func TestEngine_Create(t *testing.T) {
	clk := newClock()
	engine := New(NewMemoryRepository(), WithClock(clk.Now), WithModuleTTL("billing", time.Minute))
	ctx := context.Background()

	testCases := []struct {
		description string
		spec        *Spec
		expectErr   error
		expectTTL   time.Duration
	}{
		{description: "default ttl", spec: newSpec("hr"), expectTTL: DefaultTTL},
		{description: "module ttl", spec: newSpec("billing"), expectTTL: time.Minute},
		{description: "spec ttl", spec: func() *Spec { s := newSpec("hr"); s.TTL = time.Second; return s }(), expectTTL: time.Second},
		{description: "missing title", spec: func() *Spec { s := newSpec("hr"); s.Title = ""; return s }(), expectErr: model.ErrValidation},
		{description: "missing description", spec: func() *Spec { s := newSpec("hr"); s.Description = " "; return s }(), expectErr: model.ErrValidation},
		{description: "bad type", spec: func() *Spec { s := newSpec("hr"); s.Type = "WHATEVER"; return s }(), expectErr: model.ErrValidation},
		{description: "missing payload", spec: func() *Spec { s := newSpec("hr"); s.Payload = nil; return s }(), expectErr: model.ErrValidation},
		{description: "invalid payload", spec: func() *Spec { s := newSpec("hr"); s.Payload = []byte("{"); return s }(), expectErr: model.ErrValidation},
	}
	for _, tc := range testCases {
		cp, err := engine.Create(ctx, tc.spec)
		if tc.expectErr != nil {
			assert.ErrorIs(t, err, tc.expectErr, tc.description)
			continue
		}
		require.NoError(t, err, tc.description)
		assert.NotEmpty(t, cp.ID, tc.description)
		assert.Equal(t, model.StatusPending, cp.Status, tc.description)
		assert.Equal(t, clk.Now(), cp.CreatedAt, tc.description)
		assert.Equal(t, clk.Now().Add(tc.expectTTL), cp.ExpiresAt, tc.description)

		stored, err := engine.Get(ctx, cp.ID)
		require.NoError(t, err, tc.description)
		assert.Equal(t, cp, stored, tc.description)
	}
}

func TestEngine_ResolveWritesOneTrace(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())

	testCases := []struct {
		description string
		decision    *Decision
	}{
		{"approve", &Decision{Status: model.StatusApproved, Resolution: "looks fine", Actor: "alice"}},
		{"reject", &Decision{Status: model.StatusRejected, Resolution: "no", Actor: "bob"}},
		{"modify", &Decision{Status: model.StatusModified, Resolution: "soft delete", Actor: "carol", ModifiedPayload: json.RawMessage(`{"userId":42,"hard":true}`)}},
		{"agent", &Decision{Status: model.StatusApproved, Actor: model.DecisionMakerAgent}},
	}
	for _, tc := range testCases {
		cp, err := engine.Create(ctx, newSpec("hr"))
		require.NoError(t, err)

		resolved, err := engine.Resolve(ctx, cp.ID, tc.decision)
		require.NoError(t, err, tc.description)
		assert.Equal(t, tc.decision.Status, resolved.Status, tc.description)
		assert.Equal(t, tc.decision.Resolution, resolved.Resolution, tc.description)
		assert.Equal(t, tc.decision.Actor, resolved.ResolvedBy, tc.description)
		require.NotNil(t, resolved.ResolvedAt, tc.description)

		trail, err := engine.Trail(ctx, cp.ID)
		require.NoError(t, err, tc.description)
		require.Len(t, trail.Traces, 1, tc.description)
		trace := trail.Traces[0]
		assert.Equal(t, tc.decision.Actor, trace.DecisionMaker, tc.description)
		assert.Equal(t, tc.decision.Status, trace.Status, tc.description)
		if tc.decision.Actor == model.DecisionMakerAgent {
			assert.Equal(t, model.DecisionAgent, trace.DecisionType, tc.description)
		} else {
			assert.Equal(t, model.DecisionHuman, trace.DecisionType, tc.description)
		}
		if tc.decision.Status == model.StatusModified {
			assert.JSONEq(t, string(tc.decision.ModifiedPayload), string(resolved.ModifiedPayload))
			require.NotNil(t, trace.Alternatives)
			assert.Equal(t, model.AlternativesModification, trace.Alternatives.Kind)
			assert.Equal(t, 1, trace.Alternatives.Added)
			assert.Equal(t, 1, trace.Alternatives.Removed)
			assert.Contains(t, trace.Alternatives.Diff, `+  "hard": true`)
		}

		_, err = engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusApproved, Actor: "dave"})
		assert.ErrorIs(t, err, model.ErrAlreadyResolved, tc.description)
		trail, _ = engine.Trail(ctx, cp.ID)
		assert.Len(t, trail.Traces, 1, tc.description)
	}
}

func TestEngine_ResolveErrors(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, "missing", &Decision{Status: model.StatusApproved, Actor: "a"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	var notFound *model.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	_, err = engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusExpired, Actor: "a"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusModified, Actor: "a"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusApproved})
	assert.ErrorIs(t, err, model.ErrValidation)

	stored, err := engine.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestEngine_EscalateAndSpawn(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)

	_, err = engine.Spawn(ctx, cp.ID, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	escalation, err := engine.Escalate(ctx, cp.ID, model.LevelHigh, "needs a manager", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.LevelHigh, escalation.Level)
	assert.Equal(t, cp.ID, escalation.CheckpointID)

	_, err = engine.Escalate(ctx, cp.ID, model.LevelHigh, "again", "alice")
	assert.ErrorIs(t, err, model.ErrAlreadyResolved)
	_, err = engine.Escalate(ctx, cp.ID, "SEVERE", "bad level", "alice")
	assert.ErrorIs(t, err, model.ErrValidation)

	stored, err := engine.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, stored.Status)

	trail, err := engine.Trail(ctx, cp.ID)
	require.NoError(t, err)
	assert.Len(t, trail.Escalations, 1)
	assert.Len(t, trail.Traces, 1)

	child, err := engine.Spawn(ctx, cp.ID, &Spec{Title: "Manager review"})
	require.NoError(t, err)
	assert.Equal(t, cp.ID, child.ParentCheckpointID)
	assert.Equal(t, model.CheckpointTypeEscalation, child.Type)
	assert.Equal(t, "hr", child.ModuleID)
	assert.Equal(t, "Manager review", child.Title)
	assert.JSONEq(t, string(cp.OriginalPayload), string(child.OriginalPayload))
	assert.NotEqual(t, cp.ID, child.ID)

	_, err = engine.Escalate(ctx, child.ID, model.LevelCritical, "needs director", "bob")
	require.NoError(t, err)
	grandchild, err := engine.Spawn(ctx, child.ID, nil)
	require.NoError(t, err)

	chain, err := engine.Chain(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, []string{cp.ID, child.ID, grandchild.ID}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
}

func TestEngine_ResolveAsEscalated(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)

	resolved, err := engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusEscalated, Resolution: "not mine", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusEscalated, resolved.Status)
	trail, err := engine.Trail(ctx, cp.ID)
	require.NoError(t, err)
	assert.Len(t, trail.Traces, 1)
	require.Len(t, trail.Escalations, 1)
	assert.Equal(t, model.LevelMedium, trail.Escalations[0].Level)
}

func TestEngine_Expire(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)

	expired, err := engine.Expire(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, expired.Status)
	assert.Equal(t, ExpiredResolution, expired.Resolution)

	trail, err := engine.Trail(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, trail.Traces, 1)
	assert.Equal(t, model.DecisionSystem, trail.Traces[0].DecisionType)
	assert.Equal(t, model.DecisionMakerSystem, trail.Traces[0].DecisionMaker)

	_, err = engine.Expire(ctx, cp.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyResolved)
}

func TestEngine_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())
	for i := 0; i < 20; i++ {
		cp, err := engine.Create(ctx, newSpec("hr"))
		require.NoError(t, err)

		var successes, conflicts int32
		record := func(err error) error {
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, model.ErrAlreadyResolved):
				atomic.AddInt32(&conflicts, 1)
			default:
				return err
			}
			return nil
		}
		var group errgroup.Group
		for j := 0; j < 3; j++ {
			group.Go(func() error {
				_, err := engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusApproved, Actor: "alice"})
				return record(err)
			})
			group.Go(func() error {
				_, err := engine.Escalate(ctx, cp.ID, model.LevelHigh, "race", "bob")
				return record(err)
			})
			group.Go(func() error {
				_, err := engine.Expire(ctx, cp.ID)
				return record(err)
			})
		}
		require.NoError(t, group.Wait())
		assert.EqualValues(t, 1, successes)
		assert.EqualValues(t, 8, conflicts)

		trail, err := engine.Trail(ctx, cp.ID)
		require.NoError(t, err)
		assert.Len(t, trail.Traces, 1)
	}
}

func TestEngine_GetPendingOrder(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	engine := New(NewMemoryRepository(), WithClock(clk.Now))
	var ids []string
	for _, module := range []string{"hr", "billing", "hr"} {
		cp, err := engine.Create(ctx, newSpec(module))
		require.NoError(t, err)
		ids = append(ids, cp.ID)
		clk.Advance(time.Second)
	}
	other := newSpec("hr")
	other.AgentID = "agent-2"
	cp, err := engine.Create(ctx, other)
	require.NoError(t, err)
	ids = append(ids, cp.ID)
	_, err = engine.Resolve(ctx, ids[0], &Decision{Status: model.StatusApproved, Actor: "alice"})
	require.NoError(t, err)

	pending, err := engine.GetPending(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3], ids[2], ids[1]}, checkpointIDs(pending))

	pending, err = engine.GetPending(ctx, Filter{ModuleID: "hr"})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[3], ids[2]}, checkpointIDs(pending))

	pending, err = engine.GetPending(ctx, Filter{ModuleID: "hr", AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, checkpointIDs(pending))
}

type failingAudit struct {
	*audit.DAOStore
	failTraces      bool
	failEscalations bool
}

func (f *failingAudit) AppendTrace(ctx context.Context, trace *model.DecisionTrace) error {
	if f.failTraces {
		return errors.New("disk full")
	}
	return f.DAOStore.AppendTrace(ctx, trace)
}

func (f *failingAudit) AppendEscalation(ctx context.Context, escalation *model.Escalation) error {
	if f.failEscalations {
		return errors.New("disk full")
	}
	return f.DAOStore.AppendEscalation(ctx, escalation)
}

func TestEngine_AuditFailureRestoresCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := &failingAudit{DAOStore: audit.NewMemory(), failTraces: true}
	engine := New(NewMemoryRepository(), WithAuditStore(store))
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusApproved, Actor: "alice"})
	assert.ErrorIs(t, err, model.ErrStorage)

	stored, err := engine.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Nil(t, stored.ResolvedAt)

	store.failTraces = false
	resolved, err := engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusApproved, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, resolved.Status)
}

func TestEngine_EscalateAuditFailure(t *testing.T) {
	testCases := []struct {
		description string
		store       *failingAudit
	}{
		{description: "trace write fails", store: &failingAudit{DAOStore: audit.NewMemory(), failTraces: true}},
		{description: "escalation write fails", store: &failingAudit{DAOStore: audit.NewMemory(), failEscalations: true}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			ctx := context.Background()
			engine := New(NewMemoryRepository(), WithAuditStore(testCase.store))
			cp, err := engine.Create(ctx, newSpec("hr"))
			require.NoError(t, err)

			_, err = engine.Escalate(ctx, cp.ID, model.LevelHigh, "needs finance", "alice")
			assert.ErrorIs(t, err, model.ErrStorage)

			stored, err := engine.Get(ctx, cp.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusPending, stored.Status)
			trail, err := engine.Trail(ctx, cp.ID)
			require.NoError(t, err)
			assert.Empty(t, trail.Escalations)
			assert.Empty(t, trail.Traces)

			testCase.store.failTraces = false
			testCase.store.failEscalations = false
			_, err = engine.Escalate(ctx, cp.ID, model.LevelHigh, "needs finance", "alice")
			require.NoError(t, err)
			trail, err = engine.Trail(ctx, cp.ID)
			require.NoError(t, err)
			assert.Len(t, trail.Escalations, 1)
			assert.Len(t, trail.Traces, 1)
		})
	}
}

type failingRepository struct {
	Repository
}

func (f *failingRepository) Save(context.Context, *model.Checkpoint) error {
	return errors.New("connection reset")
}

func TestEngine_RepositoryFailure(t *testing.T) {
	engine := New(&failingRepository{Repository: NewMemoryRepository()})
	_, err := engine.Create(context.Background(), newSpec("hr"))
	assert.ErrorIs(t, err, model.ErrStorage)
}

func TestEngine_ListenersAndEvents(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue[event.Event](memory.DefaultConfig())
	var seen []model.Status
	engine := New(NewMemoryRepository(),
		WithEventQueue(queue),
		WithListener(func(_ context.Context, cp *model.Checkpoint) { seen = append(seen, cp.Status) }),
	)
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)
	_, err = engine.Resolve(ctx, cp.ID, &Decision{Status: model.StatusRejected, Actor: "alice"})
	require.NoError(t, err)

	assert.Equal(t, []model.Status{model.StatusPending, model.StatusRejected}, seen)
	require.Equal(t, 2, queue.Size())
	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.TopicCheckpointCreated, msg.T().Topic)
	msg, err = queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.TopicCheckpointResolved, msg.T().Topic)
	assert.Equal(t, "alice", msg.T().Actor)
}

func TestEngine_Snapshot(t *testing.T) {
	ctx := context.Background()
	engine := New(NewMemoryRepository())
	cp, err := engine.Create(ctx, newSpec("hr"))
	require.NoError(t, err)
	_, err = engine.Expire(ctx, cp.ID)
	require.NoError(t, err)

	snapshot, err := engine.Snapshot(ctx, cp.ID, model.SnapshotFeedback, json.RawMessage(`"late note"`), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot.Importance)

	_, err = engine.Snapshot(ctx, "missing", model.SnapshotFeedback, nil, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = engine.Snapshot(ctx, cp.ID, "BOGUS", nil, 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func checkpointIDs(checkpoints []*model.Checkpoint) []string {
	ret := make([]string, len(checkpoints))
	for i, cp := range checkpoints {
		ret[i] = cp.ID
	}
	return ret
}
