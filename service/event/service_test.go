package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/messaging/memory"
)

func TestService_FanOut(t *testing.T) {
	bus := New()
	defer bus.Close()

	var mu sync.Mutex
	var first, second []string
	bus.Subscribe(func(e *Event) {
		mu.Lock()
		first = append(first, e.Topic)
		mu.Unlock()
	})
	unsubscribe := bus.Subscribe(func(e *Event) {
		mu.Lock()
		second = append(second, e.Topic)
		mu.Unlock()
	})

	cp := &model.Checkpoint{ID: "cp1", ModuleID: "billing", Status: model.StatusApproved}
	require.NoError(t, bus.Publish(context.Background(), ForCheckpoint(TopicForStatus(cp.Status), cp, "alice")))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 1 && len(second) == 1
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), &Event{Topic: TopicCheckpointExpired}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{TopicCheckpointResolved, TopicCheckpointExpired}, first)
	assert.Len(t, second, 1)
	mu.Unlock()
}

func TestPublisher_Stamps(t *testing.T) {
	bus := New(WithClock(func() time.Time { return time.Unix(100, 0) }))
	defer bus.Close()
	received := make(chan *Event, 1)
	bus.Subscribe(func(e *Event) { received <- e })

	require.NoError(t, bus.Publish(context.Background(), &Event{Topic: TopicFailureRecorded}))
	select {
	case e := <-received:
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, int64(100), e.CreatedAt.Unix())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTopicForStatus(t *testing.T) {
	assert.Equal(t, TopicCheckpointEscalated, TopicForStatus(model.StatusEscalated))
	assert.Equal(t, TopicCheckpointExpired, TopicForStatus(model.StatusExpired))
	assert.Equal(t, TopicCheckpointResolved, TopicForStatus(model.StatusRejected))
	assert.Equal(t, TopicCheckpointCreated, TopicForStatus(model.StatusPending))
}

func TestService_PanickingSubscriberDeadLetters(t *testing.T) {
	config := memory.DefaultConfig()
	config.MaxRedeliveries = 2
	config.RedeliveryDelay = time.Millisecond
	bus := New(WithQueueConfig(config))
	defer bus.Close()

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(func(e *Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	bus.Subscribe(func(e *Event) { panic("boom") })

	require.NoError(t, bus.Publish(context.Background(), &Event{Topic: TopicFailureRecorded}))
	assert.Eventually(t, func() bool { return len(bus.DeadLetters()) == 1 }, time.Second, 5*time.Millisecond)

	dead := bus.DeadLetters()[0]
	assert.Equal(t, TopicFailureRecorded, dead.Payload.Topic)
	assert.Equal(t, 3, dead.Attempts)
	assert.ErrorContains(t, dead.Err, "boom")
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}
