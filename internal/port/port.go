// Package port runs open transports. Each Port owns four goroutines: a
// reader that pulls bytes off the transport, a session that owns the
// codecs, the protocol engine and any probes, a writer that drains the
// transmit queue, and a dispatcher that runs listener callbacks. Nothing is
// shared between ports except the Signals listeners subscribe to.
package port

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/event"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// Tuning constants.
const (
	rxBufferSize  = 64 // chunks between reader and session
	cmdBufferSize = 16
)

// chunk is one read from the transport.
type chunk struct {
	data []byte
	peer transport.Peer
}

// Port is one open transport endpoint.
type Port struct {
	// Identity
	id   uuid.UUID
	name string
	kind transport.Kind

	tr          transport.Transport
	opts        Options
	defaultPeer transport.Peer

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup // reader, session, writer

	stateMu sync.Mutex
	state   atomic.Uint32

	// Communication
	rx   chan chunk
	cmds chan func(*session)
	txq  *txQueue

	// Listener side
	events       Events
	dispatch     *event.Queue[func()]
	dispatchDone chan struct{}
	inDispatch   atomic.Bool
	owned        event.Group

	stats counters
}

// newPort wires a port around tr and starts its goroutines.
func newPort(name string, tr transport.Transport, opts Options, po PortOptions) (*Port, error) {
	kinds := po.Codecs
	if len(kinds) == 0 {
		kinds = []codec.Kind{codec.KindStuffing}
	}

	s := &session{
		engine: protocol.NewEngine(opts.Protocol),
		routes: make(map[uint16]transport.Peer),
	}
	for _, k := range kinds {
		if err := s.attachCodec(k, opts.MaxFrame); err != nil {
			return nil, fmt.Errorf("%w: %v", transport.ErrConfiguration, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		id:           uuid.New(),
		name:         name,
		kind:         tr.Kind(),
		tr:           tr,
		opts:         opts,
		defaultPeer:  po.DefaultPeer,
		ctx:          ctx,
		cancel:       cancel,
		rx:           make(chan chunk, rxBufferSize),
		cmds:         make(chan func(*session), cmdBufferSize),
		txq:          newTxQueue(opts.TxQueueSize),
		dispatch:     event.NewQueue[func()](opts.DispatchQueueSize),
		dispatchDone: make(chan struct{}),
	}
	s.p = p

	go p.dispatchLoop()

	p.wg.Add(3)
	go p.readLoop()
	go p.writeLoop()
	go p.sessionLoop(s)

	util.LogDebug("[%s] port open (%s, codecs %v)", name, p.kind, kinds)
	return p, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (p *Port) ID() uuid.UUID        { return p.id }
func (p *Port) Name() string         { return p.name }
func (p *Port) Kind() transport.Kind { return p.kind }
func (p *Port) State() State         { return State(p.state.Load()) }

// Events returns the port's Signals.
func (p *Port) Events() *Events { return &p.events }

// Stats returns a snapshot of the port's counters.
func (p *Port) Stats() Stats { return p.stats.snapshot() }

// Transport returns the underlying transport.
func (p *Port) Transport() transport.Transport { return p.tr }

func (p *Port) String() string { return p.name }

// Done is closed once the port is closed and its final event has been
// delivered.
func (p *Port) Done() <-chan struct{} { return p.dispatchDone }

// Own ties c to the port's lifetime: Close releases it.
func (p *Port) Own(c *event.Connection) *event.Connection {
	return p.owned.Add(c)
}

// Meta describes a route through this port.
func (p *Port) Meta(from transport.Peer, kind codec.Kind) ConnectionMeta {
	return ConnectionMeta{
		PortID:   p.id,
		PortName: p.name,
		PortKind: p.kind,
		Codec:    kind,
		Addr:     from.Addr,
		BaudRate: from.BaudRate,
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// do runs fn on the session goroutine and waits for its result.
func (p *Port) do(ctx context.Context, fn func(*session) error) error {
	if p.State() != StateOpen {
		return ErrNotOpen
	}

	done := make(chan error, 1)
	cmd := func(s *session) { done <- fn(s) }

	select {
	case p.cmds <- cmd:
	case <-p.ctx.Done():
		return ErrNotOpen
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-p.ctx.Done():
		return ErrNotOpen
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send builds a packet for deviceID and queues it. It returns the sequence
// number of the first (or only) fragment, which DeliveryFailed events
// refer to when ack is set and the device never answers.
func (p *Port) Send(ctx context.Context, deviceID uint16, typ uint8, payload []byte, ack bool) (uint16, error) {
	var seq uint16
	err := p.do(ctx, func(s *session) error {
		var err error
		seq, err = s.sendPacket(deviceID, typ, payload, ack, s.route(deviceID))
		return err
	})
	return seq, err
}

// SendSentence frames body as an NMEA sentence and queues it to peer (the
// zero Peer selects the port default).
func (p *Port) SendSentence(ctx context.Context, body []byte, peer transport.Peer) error {
	return p.do(ctx, func(s *session) error {
		return s.SendSentence(body, peer)
	})
}

// WriteRaw queues bytes without any framing.
func (p *Port) WriteRaw(ctx context.Context, data []byte, peer transport.Peer) error {
	return p.do(ctx, func(s *session) error {
		return p.txq.push(txFrame{data: bytes.Clone(data), peer: p.resolvePeer(peer)})
	})
}

// Forget drops the receive history of a device, for example after the
// device was power cycled and restarted its sequence numbers.
func (p *Port) Forget(ctx context.Context, deviceID uint16) error {
	return p.do(ctx, func(s *session) error {
		s.engine.Forget(deviceID)
		delete(s.routes, deviceID)
		return nil
	})
}

// AttachProbe starts pr on this port.
func (p *Port) AttachProbe(ctx context.Context, pr Probe) error {
	return p.do(ctx, func(s *session) error {
		return s.attachProbe(pr)
	})
}

// DetachProbe stops the named probe. It reports whether one was running.
func (p *Port) DetachProbe(ctx context.Context, name string) (bool, error) {
	var found bool
	err := p.do(ctx, func(s *session) error {
		found = s.detachProbe(name, true)
		return nil
	})
	return found, err
}

func (p *Port) resolvePeer(peer transport.Peer) transport.Peer {
	if peer == (transport.Peer{}) {
		return p.defaultPeer
	}
	return peer
}

// ---------------------------------------------------------------------------
// State and dispatch
// ---------------------------------------------------------------------------

// setState records a transition and queues its event. Closed is terminal.
func (p *Port) setState(s State, cause error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	cur := State(p.state.Load())
	if cur == s || cur == StateClosed {
		return
	}
	p.state.Store(uint32(s))

	switch s {
	case StateError:
		util.LogError("[%s] port error: %v", p.name, cause)
	default:
		util.LogDebug("[%s] port %s", p.name, s)
	}

	ev := StateEvent{Port: p, State: s, Err: cause}
	p.emit(func() { p.events.StateChanged.Emit(ev) })
}

// fail moves an open port into the error state after a transport failure.
// The port keeps its goroutines that are still alive until Close.
func (p *Port) fail(err error) {
	if p.ctx.Err() != nil {
		return
	}
	p.setState(StateError, err)
}

// emit queues fn for the dispatcher. A full queue drops the call and
// counts it, so slow listeners never stall I/O.
func (p *Port) emit(fn func()) {
	if !p.dispatch.Push(fn) {
		if p.stats.droppedEvents.Add(1) == 1 {
			util.LogWarning("[%s] event queue full, dropping events", p.name)
		}
	}
}

func (p *Port) dispatchLoop() {
	defer close(p.dispatchDone)
	event.Pump(context.Background(), p.dispatch, func(fn func()) {
		p.inDispatch.Store(true)
		defer p.inDispatch.Store(false)
		fn()
	})
}

// ---------------------------------------------------------------------------
// I/O loops
// ---------------------------------------------------------------------------

func (p *Port) readLoop() {
	defer p.wg.Done()

	buf := make([]byte, p.opts.ReadBufferSize)
	for {
		n, peer, err := p.tr.Read(buf)
		if n > 0 {
			select {
			case p.rx <- chunk{data: bytes.Clone(buf[:n]), peer: peer}:
			case <-p.ctx.Done():
				return
			}
		}
		if err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Port) writeLoop() {
	defer p.wg.Done()

	for {
		f, err := p.txq.pop(p.ctx)
		if err != nil {
			return
		}

		if err := p.tr.Write(f.data, f.peer); err != nil {
			p.fail(err)
			return
		}
		if len(f.data) == 0 {
			continue
		}

		p.stats.bytesSent.Add(uint64(len(f.data)))
		ev := BytesEvent{Port: p, Peer: f.peer, Data: f.data}
		p.emit(func() { p.events.BytesSent.Emit(ev) })
	}
}

func (p *Port) sessionLoop(s *session) {
	defer p.wg.Done()

	tick := time.NewTicker(p.opts.TickInterval)
	defer tick.Stop()

	var statsC <-chan time.Time
	if p.opts.StatsInterval > 0 {
		st := time.NewTicker(p.opts.StatsInterval)
		defer st.Stop()
		statsC = st.C
	}

	for {
		select {
		case c := <-p.rx:
			s.onChunk(c, time.Now())

		case cmd := <-p.cmds:
			cmd(s)

		case now := <-tick.C:
			s.onTick(now)

		case <-statsC:
			ev := StatsEvent{Port: p, Stats: p.Stats()}
			p.emit(func() { p.events.Stats.Emit(ev) })

		case <-p.ctx.Done():
			s.shutdown()
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

// Close stops the port: pending retries, partial packets and probes are
// cancelled, the transport is closed, and a final StateClosed event is
// queued. No reads or writes happen after Close returns.
//
// Close waits for queued events to be delivered unless one of the port's
// listeners is running at the time, since that listener may be the caller.
// Use Done to wait for delivery in that case.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.tr.Close()
		p.wg.Wait()

		dropped := p.txq.close()
		if dropped > 0 {
			util.LogDebug("[%s] dropped %d queued frames on close", p.name, dropped)
		}

		p.setState(StateClosed, nil)
		p.dispatch.Close()
		if !p.inDispatch.Load() {
			<-p.dispatchDone
		}

		p.owned.Release()
	})
	return err
}
