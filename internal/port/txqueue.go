package port

import (
	"context"
	"sync"

	"github.com/1ureka/seacomm/internal/transport"
)

// txFrame is one framed write.
type txFrame struct {
	data []byte
	peer transport.Peer
	ack  bool
}

// txQueue is a port's outbound queue. Acknowledgements are popped before
// any queued data; each class is FIFO. Only data frames count against the
// capacity.
type txQueue struct {
	mu       sync.Mutex
	acks     []txFrame
	data     []txFrame
	capacity int
	closed   bool
	notify   chan struct{}
}

func newTxQueue(capacity int) *txQueue {
	return &txQueue{capacity: capacity, notify: make(chan struct{}, 1)}
}

func (q *txQueue) push(f txFrame) error {
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return ErrNotOpen
	case f.ack:
		q.acks = append(q.acks, f)
	case len(q.data) >= q.capacity:
		q.mu.Unlock()
		return ErrTxQueueFull
	default:
		q.data = append(q.data, f)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// free returns how many data frames can still be queued.
func (q *txQueue) free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - len(q.data)
}

func (q *txQueue) tryPop() (txFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.acks) > 0 {
		f := q.acks[0]
		q.acks[0] = txFrame{}
		q.acks = q.acks[1:]
		return f, true
	}
	if len(q.data) > 0 {
		f := q.data[0]
		q.data[0] = txFrame{}
		q.data = q.data[1:]
		return f, true
	}
	return txFrame{}, false
}

// pop blocks until a frame is available or ctx ends.
func (q *txQueue) pop(ctx context.Context) (txFrame, error) {
	for {
		if f, ok := q.tryPop(); ok {
			return f, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return txFrame{}, ctx.Err()
		}
	}
}

// close rejects further pushes and returns how many frames were dropped.
func (q *txQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.acks) + len(q.data)
	q.acks, q.data = nil, nil
	q.closed = true
	return n
}
