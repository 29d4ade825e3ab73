package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/viant/hitl/service/messaging"
)

// Handler processes one event; an error nacks the delivery.
type Handler func(*Event) error

// Listener consumes events in a goroutine and hands them to a handler.
type Listener struct {
	publisher *Publisher
	handler   Handler
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewListener creates a listener; call Start to begin consuming.
func NewListener(publisher *Publisher, handler Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Listener{publisher: publisher, handler: handler, logger: logger}
}

// Start launches the consume loop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		for {
			msg, err := l.publisher.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, messaging.ErrQueueClosed) {
					return
				}
				l.logger.Warn("event consume failed", "error", err)
				continue
			}
			if msg != nil {
				l.deliver(msg)
			}
		}
	}()
}

func (l *Listener) deliver(msg messaging.Message[Event]) {
	event := msg.T()
	if err := l.handle(event); err != nil {
		l.logger.Warn("event handler failed", "topic", event.Topic, "event", event.ID, "error", err)
		_ = msg.Nack(err)
		return
	}
	_ = msg.Ack()
}

func (l *Listener) handle(event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler(event)
}

// Stop ends the consume loop and waits for it to exit.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}
