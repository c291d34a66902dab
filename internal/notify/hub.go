package notify

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-subscriber buffer used when none is configured.
const DefaultQueueSize = 64

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Publisher is anything envelopes can be pushed into.
//
// Publish must not block on consumers. It returns how many subscribers
// accepted the envelope.
type Publisher[T any] interface {
	Publish(env Envelope[T]) int
}

// Queue is one subscriber's view of a Hub.
//
// The subscriber drains C() at its own pace. When the buffer is full further
// envelopes are dropped and counted. C() is closed once the queue has been
// unsubscribed or the hub closed.
type Queue[T any] struct {
	ch      chan Envelope[T]
	dropped atomic.Uint64
}

// C returns the receive side of the queue.
func (q *Queue[T]) C() <-chan Envelope[T] {
	return q.ch
}

// Dropped returns how many envelopes this queue missed because it was full.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// offer attempts a non-blocking send. Callers hold the hub read lock.
func (q *Queue[T]) offer(env Envelope[T]) bool {
	select {
	case q.ch <- env:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Option configures a Hub.
type Option func(*options)

type options struct {
	queueSize int
	logger    Logger
}

// WithQueueSize sets the default buffer size of queues created by Subscribe.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithLogger sets the logger used for subscription lifecycle messages.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Hub fans envelopes out to a dynamic set of subscriber queues.
//
// Publish sends to every queue while holding the read lock; sends never
// block, so the lock is only held for the length of the loop. Unsubscribe
// closes a queue under the write lock, which guarantees that no send is in
// flight on that channel.
type Hub[T any] struct {
	name      string
	queueSize int
	logger    Logger

	mu     sync.RWMutex
	queues map[*Queue[T]]struct{}
	closed bool
}

// NewHub creates a hub. The name is only used in log messages.
func NewHub[T any](name string, opts ...Option) *Hub[T] {
	o := options{queueSize: DefaultQueueSize, logger: noopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub[T]{
		name:      name,
		queueSize: o.queueSize,
		logger:    o.logger,
		queues:    make(map[*Queue[T]]struct{}),
	}
}

// Name returns the hub name.
func (h *Hub[T]) Name() string {
	return h.name
}

// Subscribe registers a new queue with the hub's default buffer size.
func (h *Hub[T]) Subscribe() *Queue[T] {
	return h.SubscribeBuffered(h.queueSize)
}

// SubscribeBuffered registers a new queue holding up to n pending envelopes.
//
// A queue created after a publish never sees that envelope. Subscribing to a
// closed hub returns an already-closed queue.
func (h *Hub[T]) SubscribeBuffered(n int) *Queue[T] {
	if n <= 0 {
		n = h.queueSize
	}
	q := &Queue[T]{ch: make(chan Envelope[T], n)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(q.ch)
		return q
	}
	h.queues[q] = struct{}{}
	count := len(h.queues)
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "hub", h.name, "subscribers", count)
	return q
}

// Unsubscribe detaches a queue and closes its channel. It is idempotent and
// ignores queues that belong to another hub.
func (h *Hub[T]) Unsubscribe(q *Queue[T]) {
	if q == nil {
		return
	}

	h.mu.Lock()
	_, ok := h.queues[q]
	if ok {
		delete(h.queues, q)
		close(q.ch)
	}
	count := len(h.queues)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("subscriber removed", "hub", h.name, "subscribers", count)
	}
}

// Publish delivers env to every registered queue and returns the number of
// queues that accepted it. Full queues are skipped.
func (h *Hub[T]) Publish(env Envelope[T]) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for q := range h.queues {
		if q.offer(env) {
			delivered++
		}
	}
	return delivered
}

// Emit wraps payload in a timestamped envelope and publishes it.
func (h *Hub[T]) Emit(kind Kind, payload T) int {
	return h.Publish(NewEnvelope(kind, payload))
}

// SubscriberCount returns the number of registered queues.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues)
}

// Close detaches and closes every queue. Later publishes deliver nothing and
// later subscriptions are closed immediately.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for q := range h.queues {
		close(q.ch)
		delete(h.queues, q)
	}
}

// Watch returns a lazy sequence of envelopes published from the moment
// iteration starts. The subscription is released when ctx is done, when the
// consumer stops iterating, or when the hub is closed.
func (h *Hub[T]) Watch(ctx context.Context) iter.Seq[Envelope[T]] {
	return func(yield func(Envelope[T]) bool) {
		q := h.Subscribe()
		defer h.Unsubscribe(q)
		Drain(ctx, q, yield)
	}
}

// Drain yields envelopes from q until ctx is done, q is closed or yield
// returns false.
func Drain[T any](ctx context.Context, q *Queue[T], yield func(Envelope[T]) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-q.C():
			if !ok || !yield(env) {
				return
			}
		}
	}
}
