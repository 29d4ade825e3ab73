package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/messaging/memory"
	"golang.org/x/sync/errgroup"
)

var errBoom = errors.New("boom")

func TestExecute_AlwaysFailing(t *testing.T) {
	ctx := context.Background()
	supervisor := New()
	var calls int32
	_, err := Execute[int](ctx, supervisor, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errBoom
	}, nil, WithName("sync-users"), WithModule("hr"), WithMaxRetries(3), WithBaseDelay(time.Millisecond))

	assert.ErrorIs(t, err, errBoom)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	records, err := supervisor.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, model.FailureOperation, record.Type)
	assert.Equal(t, model.FailureActive, record.Status)
	assert.Equal(t, "sync-users", record.OperationName)
	assert.Equal(t, "hr", record.ModuleID)
	assert.Zero(t, record.RecoveryAttempts)
	assert.EqualValues(t, 3, record.Metadata["attempts"])
}

func TestExecute(t *testing.T) {
	testCases := []struct {
		description   string
		failures      int
		fallback      Operation[string]
		expect        string
		expectErr     bool
		expectRecords int
		expectCalls   int32
	}{
		{description: "first attempt", failures: 0, expect: "ok", expectCalls: 1},
		{description: "second attempt", failures: 1, expect: "ok", expectCalls: 2},
		{description: "fallback", failures: 5, fallback: func(context.Context) (string, error) { return "cached", nil }, expect: "cached", expectCalls: 3},
		{description: "failing fallback", failures: 5, fallback: func(context.Context) (string, error) { return "", errors.New("no cache") }, expectErr: true, expectRecords: 1, expectCalls: 3},
	}
	for _, tc := range testCases {
		ctx := context.Background()
		supervisor := New(WithDefaults(3, time.Second, time.Millisecond))
		var calls int32
		got, err := Execute[string](ctx, supervisor, func(ctx context.Context) (string, error) {
			if int(atomic.AddInt32(&calls, 1)) <= tc.failures {
				return "", errBoom
			}
			return "ok", nil
		}, tc.fallback, WithName(tc.description))
		if tc.expectErr {
			assert.ErrorIs(t, err, errBoom, tc.description)
		} else {
			require.NoError(t, err, tc.description)
			assert.Equal(t, tc.expect, got, tc.description)
		}
		assert.Equal(t, tc.expectCalls, atomic.LoadInt32(&calls), tc.description)
		records, err := supervisor.List(ctx, Filter{})
		require.NoError(t, err, tc.description)
		assert.Len(t, records, tc.expectRecords, tc.description)
	}
}

func TestExecute_Timeout(t *testing.T) {
	ctx := context.Background()
	supervisor := New()
	err := supervisor.ExecuteWithRecovery(ctx, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}, nil, WithName("slow"), WithMaxRetries(2), WithTimeout(10*time.Millisecond), WithBaseDelay(time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	records, err := supervisor.List(ctx, Filter{Type: model.FailureTimeout})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExecute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	supervisor := New()
	err := supervisor.ExecuteWithRecovery(ctx, func(context.Context) error {
		cancel()
		return errBoom
	}, nil, WithMaxRetries(3), WithBaseDelay(time.Second))
	assert.Error(t, err)
	records, err := supervisor.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExecute_MaxConcurrent(t *testing.T) {
	ctx := context.Background()
	supervisor := New(WithMaxConcurrent(2))
	var running, peak int32
	g := errgroup.Group{}
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			return supervisor.ExecuteWithRecovery(ctx, func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			}, nil)
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		err    error
		expect model.FailureType
	}{
		{err: &TimeoutError{Operation: "x", Timeout: time.Second}, expect: model.FailureTimeout},
		{err: fmt.Errorf("call: %w", context.DeadlineExceeded), expect: model.FailureTimeout},
		{err: errors.New("upstream timeout"), expect: model.FailureTimeout},
		{err: model.NewStorageError("save", errBoom), expect: model.FailureMemory},
		{err: &model.AlreadyResolvedError{ID: "cp"}, expect: model.FailureHITL},
		{err: errBoom, expect: model.FailureOperation},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expect, Classify(tc.err), tc.err.Error())
	}
}

func newFailure(t *testing.T, supervisor *Supervisor, op func(context.Context) error, fallback func(context.Context) error) *model.FailureRecord {
	t.Helper()
	ctx := context.Background()
	err := supervisor.ExecuteWithRecovery(ctx, op, fallback, WithName("export"), WithModule("billing"), WithMaxRetries(1))
	require.Error(t, err)
	records, err := supervisor.List(ctx, Filter{ModuleID: "billing"})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	return records[len(records)-1]
}

func TestSupervisor_AcknowledgeIdempotent(t *testing.T) {
	ctx := context.Background()
	supervisor := New()
	record := newFailure(t, supervisor, func(context.Context) error { return errBoom }, nil)

	first, err := supervisor.Acknowledge(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureAcknowledged, first.Status)
	second, err := supervisor.Acknowledge(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureAcknowledged, second.Status)

	_, err = supervisor.Acknowledge(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSupervisor_RecoveryActions(t *testing.T) {
	ctx := context.Background()
	supervisor := New()
	var healthy atomic.Bool
	record := newFailure(t, supervisor, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errBoom
	}, func(context.Context) error { return errors.New("no fallback data") })

	options, err := supervisor.Options(ctx, record.ID)
	require.NoError(t, err)
	ids := make([]RecoveryOptionID, len(options))
	for i, o := range options {
		ids[i] = o.ID
	}
	assert.Equal(t, []RecoveryOptionID{OptionRetry, OptionFallback, OptionAlternativeApproach, OptionAbort}, ids)

	updated, err := supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionRetry, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, model.FailureActive, updated.Status)
	assert.Equal(t, 1, updated.RecoveryAttempts)
	assert.NotNil(t, updated.LastRecoveryAttempt)

	_, err = supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionAlternativeApproach, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	healthy.Store(true)
	updated, err = supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionRetry, &RecoveryContext{Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, model.FailureResolved, updated.Status)
	assert.Equal(t, 2, updated.RecoveryAttempts)

	active, err := supervisor.Active(ctx, "billing")
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionRetry, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSupervisor_Abort(t *testing.T) {
	ctx := context.Background()
	supervisor := New()
	record := newFailure(t, supervisor, func(context.Context) error { return errBoom }, nil)
	updated, err := supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionAbort, &RecoveryContext{Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, model.FailureResolved, updated.Status)
	assert.Equal(t, "aborted", updated.Metadata["resolution"])
}

func TestSupervisor_HumanIntervention(t *testing.T) {
	testCases := []struct {
		description string
		decision    model.Status
		expect      model.FailureStatus
	}{
		{description: "approved", decision: model.StatusApproved, expect: model.FailureResolved},
		{description: "rejected", decision: model.StatusRejected, expect: model.FailureActive},
	}
	for _, tc := range testCases {
		ctx := context.Background()
		engine := checkpoint.New(checkpoint.NewMemoryRepository())
		supervisor := New(WithEngine(engine))
		record := newFailure(t, supervisor, func(context.Context) error { return errBoom }, nil)

		updated, err := supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionHumanIntervention, &RecoveryContext{Actor: "ops", Reason: "data looks odd"})
		require.NoError(t, err, tc.description)
		assert.Equal(t, model.FailureAcknowledged, updated.Status, tc.description)
		require.NotEmpty(t, updated.CheckpointID, tc.description)

		cp, err := engine.Get(ctx, updated.CheckpointID)
		require.NoError(t, err, tc.description)
		assert.Equal(t, model.CheckpointTypeEscalation, cp.Type, tc.description)
		assert.Equal(t, record.ID, cp.Metadata[MetadataFailureID], tc.description)

		_, err = supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionHumanIntervention, nil)
		assert.ErrorIs(t, err, model.ErrValidation, tc.description)

		_, err = engine.Resolve(ctx, cp.ID, &checkpoint.Decision{Status: tc.decision, Actor: "lead"})
		require.NoError(t, err, tc.description)
		got, err := supervisor.Get(ctx, record.ID)
		require.NoError(t, err, tc.description)
		assert.Equal(t, tc.expect, got.Status, tc.description)
	}
}

func TestSupervisor_HumanInterventionFollowsSpawn(t *testing.T) {
	ctx := context.Background()
	engine := checkpoint.New(checkpoint.NewMemoryRepository())
	supervisor := New(WithEngine(engine))
	record := newFailure(t, supervisor, func(context.Context) error { return errBoom }, nil)
	updated, err := supervisor.ExecuteRecoveryAction(ctx, record.ID, OptionHumanIntervention, nil)
	require.NoError(t, err)

	_, err = engine.Escalate(ctx, updated.CheckpointID, model.LevelHigh, "needs director", "lead")
	require.NoError(t, err)
	child, err := engine.Spawn(ctx, updated.CheckpointID, nil)
	require.NoError(t, err)

	got, err := supervisor.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, got.CheckpointID)
	assert.Equal(t, model.FailureAcknowledged, got.Status)

	_, err = engine.Resolve(ctx, child.ID, &checkpoint.Decision{Status: model.StatusApproved, Actor: "director"})
	require.NoError(t, err)
	got, err = supervisor.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureResolved, got.Status)
}

func TestSupervisor_EscalationThreshold(t *testing.T) {
	ctx := context.Background()
	engine := checkpoint.New(checkpoint.NewMemoryRepository())
	supervisor := New(WithEngine(engine), WithModuleConfig("billing", ModuleConfig{
		EscalationThresholds: map[model.FailureType]int{model.FailureOperation: 2},
	}))
	first := newFailure(t, supervisor, func(context.Context) error { return errBoom }, nil)
	assert.Equal(t, model.FailureActive, first.Status)
	pending, err := engine.GetPending(ctx, checkpoint.Filter{ModuleID: "billing"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	second := newFailure(t, supervisor, func(context.Context) error { return errBoom }, nil)
	got, err := supervisor.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FailureAcknowledged, got.Status)
	pending, err = engine.GetPending(ctx, checkpoint.Filter{ModuleID: "billing"})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSupervisor_AutoRecovery(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue[event.Event](memory.DefaultConfig())
	supervisor := New(WithEventQueue(queue), WithDefaults(1, time.Second, time.Millisecond), WithModuleConfig("", ModuleConfig{
		AutoRecoveryEnabled:     true,
		MaxAutoRecoveryAttempts: 3,
		RecoveryTimeout:         time.Second,
	}))
	var calls int32
	err := supervisor.ExecuteWithRecovery(ctx, func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errBoom
		}
		return nil
	}, nil, WithName("flaky"))
	require.ErrorIs(t, err, errBoom)
	supervisor.Wait()

	stats, err := supervisor.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.AutoResolved)
	assert.Equal(t, 1, stats.ByType[model.FailureOperation])

	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, event.TopicFailureRecorded, msg.T().Topic)
}
