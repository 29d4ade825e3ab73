// Package memory is an in-process messaging.Queue backed by a buffered
// channel. Nacked deliveries are redelivered after a delay and parked in a
// dead letter list once their attempts run out.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/viant/hitl/internal/idgen"
	"github.com/viant/hitl/service/messaging"
)

// Config configures a Queue.
type Config struct {
	// Buffer is the channel capacity.
	Buffer int
	// MaxRedeliveries bounds how often a nacked payload comes back.
	MaxRedeliveries int
	RedeliveryDelay time.Duration
	// DeadLetter keeps payloads whose redeliveries ran out.
	DeadLetter bool
	// NonBlocking makes Publish fail with messaging.ErrQueueFull instead of
	// waiting when the buffer is full.
	NonBlocking bool
}

// DefaultConfig returns the configuration used by the event bus.
func DefaultConfig() Config {
	return Config{
		Buffer:          256,
		MaxRedeliveries: 3,
		RedeliveryDelay: 100 * time.Millisecond,
		DeadLetter:      true,
	}
}

// DeadLetter is a payload that failed every delivery.
type DeadLetter[T any] struct {
	ID       string
	Payload  T
	Attempts int
	Err      error
}

type delivery[T any] struct {
	id       string
	payload  T
	attempts int
	queue    *Queue[T]

	once    sync.Once
	settled bool
}

func (d *delivery[T]) T() *T { return &d.payload }

func (d *delivery[T]) Ack() error {
	return d.settle(func() {})
}

// Nack schedules a redelivery or dead-letters the payload.
func (d *delivery[T]) Nack(cause error) error {
	return d.settle(func() { d.queue.retry(d, cause) })
}

func (d *delivery[T]) settle(fn func()) error {
	err := messaging.ErrSettled
	d.once.Do(func() {
		err = nil
		fn()
	})
	return err
}

// Queue is an in-memory messaging.Queue.
type Queue[T any] struct {
	config    Config
	items     chan *delivery[T]
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	dead []DeadLetter[T]
}

var _ messaging.Queue[struct{}] = (*Queue[struct{}])(nil)

// NewQueue creates a queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	return &Queue[T]{
		config: config,
		items:  make(chan *delivery[T], config.Buffer),
		closed: make(chan struct{}),
	}
}

// Publish enqueues a copy of t.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.push(ctx, &delivery[T]{id: idgen.NewWithPrefix("msg"), payload: *t, queue: q}, q.config.NonBlocking)
}

func (q *Queue[T]) push(ctx context.Context, d *delivery[T], nonBlocking bool) error {
	select {
	case <-q.closed:
		return messaging.ErrQueueClosed
	default:
	}
	if nonBlocking {
		select {
		case q.items <- d:
			return nil
		default:
			return messaging.ErrQueueFull
		}
	}
	select {
	case q.items <- d:
		return nil
	case <-q.closed:
		return messaging.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume blocks for the next delivery.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case d := <-q.items:
		return d, nil
	case <-q.closed:
		return nil, messaging.ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue[T]) retry(d *delivery[T], cause error) {
	attempts := d.attempts + 1
	if attempts <= q.config.MaxRedeliveries {
		next := &delivery[T]{id: d.id, payload: d.payload, attempts: attempts, queue: q}
		time.AfterFunc(q.config.RedeliveryDelay, func() {
			_ = q.push(context.Background(), next, true)
		})
		return
	}
	if !q.config.DeadLetter {
		return
	}
	q.mu.Lock()
	q.dead = append(q.dead, DeadLetter[T]{ID: d.id, Payload: d.payload, Attempts: attempts, Err: cause})
	q.mu.Unlock()
}

// Close releases blocked publishers and consumers with
// messaging.ErrQueueClosed.
func (q *Queue[T]) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// Size returns the number of queued deliveries.
func (q *Queue[T]) Size() int { return len(q.items) }

// DeadLetters returns a copy of the dead letter list.
func (q *Queue[T]) DeadLetters() []DeadLetter[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter[T](nil), q.dead...)
}
