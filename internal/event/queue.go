package event

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once a closed queue has been drained.
var ErrQueueClosed = errors.New("event: queue closed")

// Queue is a goroutine-safe FIFO. A capacity of zero means unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	notify   chan struct{} // buffered(1), poked on push, on close and by a Pop leaving items behind
}

// NewQueue creates a queue holding at most capacity items (0 = unbounded).
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends v. It returns false without blocking when the queue is full
// or closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed || (q.capacity > 0 && len(q.items) >= q.capacity) {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.poke()
	return true
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true
}

// Pop blocks until an item is available, the queue is closed and drained,
// or ctx is cancelled. Any number of goroutines may wait in Pop: the single
// wakeup token is passed on while items remain.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			if q.Len() > 0 {
				q.poke()
			}
			return v, nil
		}

		q.mu.Lock()
		closed := q.closed && len(q.items) == 0
		q.mu.Unlock()

		var zero T
		if closed {
			q.poke() // wake any other waiter
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.poke()
}

func (q *Queue[T]) poke() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pump pops items from q and passes them to fn until q is closed and
// drained or ctx is cancelled. It is meant to run in its own goroutine.
func Pump[T any](ctx context.Context, q *Queue[T], fn func(T)) {
	for {
		v, err := q.Pop(ctx)
		if err != nil {
			return
		}
		fn(v)
	}
}
