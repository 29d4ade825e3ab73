// Package messaging defines the queue abstraction carrying governance
// events (checkpoint transitions, recorded failures) from the services that
// produce them to the bus that dispatches them.
package messaging

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by a non blocking publish on a full queue.
	ErrQueueFull = errors.New("messaging: queue full")
	// ErrQueueClosed is returned by publish and consume on a closed queue.
	ErrQueueClosed = errors.New("messaging: queue closed")
	// ErrSettled is returned when a delivery is acknowledged twice.
	ErrSettled = errors.New("messaging: delivery already settled")
)

// Queue is a typed at-least-once queue.
type Queue[T any] interface {
	Publish(ctx context.Context, t *T) error

	Consume(ctx context.Context) (Message[T], error)
}

// Message is one delivery of a payload. Exactly one of Ack or Nack settles
// it; a nacked delivery may be redelivered.
type Message[T any] interface {
	T() *T

	Ack() error

	Nack(err error) error
}
