package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/service/messaging"
)

type transition struct {
	CheckpointID string
	Status       string
}

func TestQueue_PublishConsume(t *testing.T) {
	queue := NewQueue[transition](DefaultConfig())
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &transition{CheckpointID: "cp1", Status: "APPROVED"}))
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cp1", message.T().CheckpointID)
	assert.Equal(t, 0, queue.Size())

	assert.NoError(t, message.Ack())
	assert.ErrorIs(t, message.Ack(), messaging.ErrSettled)
	assert.ErrorIs(t, message.Nack(nil), messaging.ErrSettled)
}

func TestQueue_NackRedeliversThenDeadLetters(t *testing.T) {
	config := DefaultConfig()
	config.MaxRedeliveries = 1
	config.RedeliveryDelay = 5 * time.Millisecond
	queue := NewQueue[transition](config)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, queue.Publish(ctx, &transition{CheckpointID: "cp1"}))
	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, message.Nack(errors.New("first")))

	redelivered, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cp1", redelivered.T().CheckpointID)
	require.NoError(t, redelivered.Nack(errors.New("second")))

	assert.Eventually(t, func() bool { return len(queue.DeadLetters()) == 1 }, time.Second, 5*time.Millisecond)
	dead := queue.DeadLetters()[0]
	assert.Equal(t, "cp1", dead.Payload.CheckpointID)
	assert.Equal(t, 2, dead.Attempts)
	assert.EqualError(t, dead.Err, "second")
	assert.Equal(t, 0, queue.Size())
}

func TestQueue_NonBlocking(t *testing.T) {
	config := DefaultConfig()
	config.Buffer = 1
	config.NonBlocking = true
	queue := NewQueue[transition](config)
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &transition{CheckpointID: "1"}))
	assert.ErrorIs(t, queue.Publish(ctx, &transition{CheckpointID: "2"}), messaging.ErrQueueFull)
}

func TestQueue_Close(t *testing.T) {
	queue := NewQueue[transition](DefaultConfig())
	done := make(chan error, 1)
	go func() {
		_, err := queue.Consume(context.Background())
		done <- err
	}()
	require.NoError(t, queue.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, messaging.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer was not released")
	}
	assert.ErrorIs(t, queue.Publish(context.Background(), &transition{}), messaging.ErrQueueClosed)
}
