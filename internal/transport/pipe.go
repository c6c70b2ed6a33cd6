package transport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/1ureka/seacomm/internal/event"
)

// Pipe is one end of an in-memory transport pair. It stands in for a
// device link in tests and loopback setups; writes on one end become reads
// on the other, preserving write boundaries.
type Pipe struct {
	name string
	in   *event.Queue[[]byte]
	out  *event.Queue[[]byte]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	pending []byte
	baud    atomic.Int64 // last baud rate requested by a writer
}

var _ Transport = (*Pipe)(nil)

// NewPipe returns two connected ends named a and b. Each end reports the
// other's name as the peer address of what it reads.
func NewPipe(a, b string) (*Pipe, *Pipe) {
	ab := event.NewQueue[[]byte](0)
	ba := event.NewQueue[[]byte](0)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())

	pa := &Pipe{name: b, in: ba, out: ab, ctx: ctxA, cancel: cancelA}
	pb := &Pipe{name: a, in: ab, out: ba, ctx: ctxB, cancel: cancelB}
	return pa, pb
}

func (*Pipe) Kind() Kind { return KindPipe }

// BaudRate returns the last non-zero baud rate passed to Write.
func (p *Pipe) BaudRate() int { return int(p.baud.Load()) }

func (p *Pipe) Read(b []byte) (int, Peer, error) {
	for len(p.pending) == 0 {
		msg, err := p.in.Pop(p.ctx)
		switch {
		case p.ctx.Err() != nil:
			return 0, Peer{}, ErrClosed
		case err != nil:
			return 0, Peer{}, io.EOF
		}
		p.pending = msg
	}

	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, Peer{Addr: p.name, BaudRate: p.BaudRate()}, nil
}

func (p *Pipe) Write(b []byte, to Peer) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	if to.BaudRate != 0 {
		p.baud.Store(int64(to.BaudRate))
	}
	if len(b) == 0 {
		return nil
	}
	if !p.out.Push(bytes.Clone(b)) {
		return ErrClosed
	}
	return nil
}

// Close shuts this end. The other end reads io.EOF once it has drained
// what was already written.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.out.Close()
		p.in.Close()
	})
	return nil
}
