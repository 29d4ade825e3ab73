// Package event fans governance events out to in-process subscribers.
package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/service/messaging"
	"github.com/viant/hitl/service/messaging/memory"
)

// Service is an in-process event bus: publishers write to one queue and a
// single listener dispatches every event to all subscribers in order. A
// subscriber that panics causes the event to be redelivered to every
// subscriber; once redeliveries run out the event is kept in DeadLetters.
type Service struct {
	queue       *memory.Queue[Event]
	publisher   *Publisher
	listener    *Listener
	queueConfig memory.Config
	logger      *slog.Logger
	now         clock.Func

	mux         sync.RWMutex
	subscribers map[int]func(*Event)
	nextID      int
}

// New creates and starts the bus.
func New(opts ...Option) *Service {
	ret := &Service{
		queueConfig: memory.DefaultConfig(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		subscribers: map[int]func(*Event){},
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.queue = memory.NewQueue[Event](ret.queueConfig)
	ret.publisher = NewPublisher(ret.queue)
	ret.publisher.now = ret.now
	ret.listener = NewListener(ret.publisher, ret.dispatch, ret.logger)
	ret.listener.Start(context.Background())
	return ret
}

// Queue exposes the bus queue, e.g. for the checkpoint engine.
func (s *Service) Queue() messaging.Queue[Event] { return s.queue }

// Publish publishes an event.
func (s *Service) Publish(ctx context.Context, event *Event) error {
	return s.publisher.Publish(ctx, event)
}

// Subscribe registers a handler and returns its unsubscribe function.
func (s *Service) Subscribe(handler func(*Event)) func() {
	s.mux.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = handler
	s.mux.Unlock()
	return func() {
		s.mux.Lock()
		delete(s.subscribers, id)
		s.mux.Unlock()
	}
}

// Close stops dispatching.
func (s *Service) Close() error {
	_ = s.queue.Close()
	s.listener.Stop()
	return nil
}

// DeadLetters returns events no subscriber round could process.
func (s *Service) DeadLetters() []memory.DeadLetter[Event] {
	return s.queue.DeadLetters()
}

func (s *Service) dispatch(event *Event) error {
	s.mux.RLock()
	handlers := make([]func(*Event), 0, len(s.subscribers))
	for i := 0; i < s.nextID; i++ {
		if h, ok := s.subscribers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	s.mux.RUnlock()
	var errs []error
	for _, h := range handlers {
		if err := safeCall(h, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeCall(h func(*Event), event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic on %s: %v", event.Topic, r)
		}
	}()
	h(event)
	return nil
}
