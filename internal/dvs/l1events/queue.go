package l1events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eternallovelin/dvs-tracking/internal/timeutil"
)

var (
	// ErrQueueFull is returned by TryEnqueue when the ring is full. The
	// event is rejected and counted in Dropped.
	ErrQueueFull = errors.New("event queue full")
	// ErrQueueClosed is returned by TryEnqueue after Close.
	ErrQueueClosed = errors.New("event queue closed")
)

// EventQueue is a bounded single-producer/single-consumer ring buffer.
//
// Exactly one goroutine may call TryEnqueue and Close; exactly one other
// goroutine may call TryDequeue and Wait. Available, Dropped and Closed are
// safe from anywhere.
//
// Overflow policy is reject-newest: when the ring is full the incoming event
// is discarded and counted. The producer never moves the consumer index.
type EventQueue struct {
	buf  []Event
	mask uint64

	head atomic.Uint64 // next slot to read, written only by the consumer
	_    [56]byte
	tail atomic.Uint64 // next slot to write, written only by the producer
	_    [56]byte

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	closed   atomic.Bool

	// notify holds at most one pending wake-up for a parked consumer.
	notify chan struct{}
	clock  timeutil.Clock
}

// QueueOption configures an EventQueue.
type QueueOption func(*EventQueue)

// WithClock sets the clock used to bound Wait. Defaults to the real clock.
func WithClock(c timeutil.Clock) QueueOption {
	return func(q *EventQueue) {
		if c != nil {
			q.clock = c
		}
	}
}

// NewEventQueue creates a queue holding up to capacity events. capacity must
// be a positive power of two.
func NewEventQueue(capacity int, opts ...QueueOption) (*EventQueue, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("queue capacity must be a positive power of two, got %d", capacity)
	}
	q := &EventQueue{
		buf:    make([]Event, capacity),
		mask:   uint64(capacity - 1),
		notify: make(chan struct{}, 1),
		clock:  timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Capacity returns the maximum number of buffered events.
func (q *EventQueue) Capacity() int { return len(q.buf) }

// TryEnqueue appends e without blocking. It returns ErrQueueFull when the
// ring is full and ErrQueueClosed after Close.
func (q *EventQueue) TryEnqueue(e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	t := q.tail.Load()
	if t-q.head.Load() >= uint64(len(q.buf)) {
		q.dropped.Add(1)
		return ErrQueueFull
	}
	q.buf[t&q.mask] = e
	q.tail.Store(t + 1)
	q.enqueued.Add(1)
	q.wake()
	return nil
}

// TryDequeue removes the oldest event. ok is false when the queue is empty.
func (q *EventQueue) TryDequeue() (e Event, ok bool) {
	h := q.head.Load()
	if h == q.tail.Load() {
		return Event{}, false
	}
	e = q.buf[h&q.mask]
	q.head.Store(h + 1)
	return e, true
}

// Available returns the number of events ready to dequeue.
func (q *EventQueue) Available() int {
	return int(q.tail.Load() - q.head.Load())
}

// Wait parks the consumer until an event is available, the queue is closed,
// ctx is done, or timeout elapses. It reports whether events are available.
func (q *EventQueue) Wait(ctx context.Context, timeout time.Duration) bool {
	if q.Available() > 0 {
		return true
	}
	if q.closed.Load() {
		return false
	}

	timer := q.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.notify:
	case <-ctx.Done():
	case <-timer.C():
	}
	return q.Available() > 0
}

// Close marks the end of the stream. Buffered events remain readable.
func (q *EventQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.wake()
	}
}

// Closed reports whether Close has been called.
func (q *EventQueue) Closed() bool { return q.closed.Load() }

// Drained reports whether the queue is closed and empty.
func (q *EventQueue) Drained() bool {
	return q.closed.Load() && q.Available() == 0
}

// Dropped returns the number of events rejected because the ring was full.
func (q *EventQueue) Dropped() uint64 { return q.dropped.Load() }

// Enqueued returns the number of events accepted.
func (q *EventQueue) Enqueued() uint64 { return q.enqueued.Load() }

func (q *EventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
