package event

import (
	"context"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/service/messaging"
)

// Publisher stamps and publishes events to a queue.
type Publisher struct {
	queue messaging.Queue[Event]
	now   clock.Func
}

// NewPublisher creates a publisher over queue.
func NewPublisher(queue messaging.Queue[Event]) *Publisher {
	return &Publisher{queue: queue}
}

// Publish assigns an id and timestamp when missing and enqueues the event.
func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	event.init(p.now.Now())
	return p.queue.Publish(ctx, event)
}

// Consume returns the next delivery; the caller settles it.
func (p *Publisher) Consume(ctx context.Context) (messaging.Message[Event], error) {
	return p.queue.Consume(ctx)
}
