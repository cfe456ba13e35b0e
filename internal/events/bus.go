package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/pkg/logger"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

var (
	// ErrBusFull is returned when the queue cannot accept another event.
	ErrBusFull = errors.New("events: queue is full")
	// ErrBusClosed is returned when publishing after Close.
	ErrBusClosed = errors.New("events: bus is closed")
)

const (
	defaultWorkers   = 1
	defaultQueueSize = 256
)

// Handler processes a single event. Errors are logged by the bus and never retried.
type Handler func(ctx context.Context, evt Event) error

// Publisher is the write side of the bus used by services.
type Publisher interface {
	Publish(evt Event) error
}

// Option customises a Bus.
type Option func(*Bus)

// WithWorkers sets the number of dispatch goroutines.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithQueueSize sets the buffered queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithLogger overrides the bus logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// Bus is an in-process publish/subscribe queue. Publish never runs handlers on the caller's
// goroutine; dedicated workers started by Start drain the queue.
type Bus struct {
	workers   int
	queueSize int
	log       *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	queue    chan Event
	closed   bool
	started  bool
	wg       sync.WaitGroup
}

// NewBus constructs a Bus. Call Start before events are expected to be handled.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		log:       logger.WithModule("events"),
		handlers:  make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan Event, b.queueSize)
	return b
}

// Subscribe registers h for events of eventType.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// On registers a handler typed to a concrete event.
func On[E Event](b *Bus, h func(ctx context.Context, evt E) error) {
	var zero E
	b.Subscribe(zero.EventType(), func(ctx context.Context, evt Event) error {
		typed, ok := evt.(E)
		if !ok {
			return fmt.Errorf("events: unexpected payload %T for %s", evt, zero.EventType())
		}
		return h(ctx, typed)
	})
}

// Publish enqueues evt without blocking.
func (b *Bus) Publish(evt Event) error {
	if evt == nil {
		return errors.New("events: nil event")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.queue <- evt:
		metrics.EventsPublished.WithLabelValues(evt.EventType(), "queued").Inc()
		return nil
	default:
		metrics.EventsPublished.WithLabelValues(evt.EventType(), "dropped").Inc()
		return ErrBusFull
	}
}

// Start launches the worker goroutines. Handlers receive ctx.
func (b *Bus) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.run(ctx)
	}
	b.log.Info("event bus started", zap.Int("workers", b.workers), zap.Int("queue_size", b.queueSize))
}

// Close stops accepting events, lets the workers drain the queue and waits for them.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.mu.Unlock()

	if !started {
		if pending := len(b.queue); pending > 0 {
			b.log.Warn("event bus closed before start", zap.Int("discarded", pending))
		}
		return
	}
	b.wg.Wait()
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for evt := range b.queue {
		b.dispatch(ctx, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.EventType()]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.invoke(ctx, h, evt); err != nil {
			metrics.EventsPublished.WithLabelValues(evt.EventType(), "failed").Inc()
			b.log.Error("event handler failed", zap.String("type", evt.EventType()), zap.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(evt.EventType(), "handled").Inc()
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
