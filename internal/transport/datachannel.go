package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/seacomm/internal/event"
	"github.com/1ureka/seacomm/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause writing when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume writing when bufferedAmount drops below this
	inboxSize     = 1024       // buffered inbound messages before dropping
)

// DataChannel wraps a PeerConnection + DataChannel pair that carries one
// device link relayed by a port bridge.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal  chan struct{}
	drainSignal chan struct{}
	inbox       *event.Queue[[]byte]
	pending     []byte // rest of a partially read message, reader-owned

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

var _ Transport = (*DataChannel)(nil)

// NewDataChannel creates the PeerConnection and the pre-negotiated link
// channel. The caller performs signaling via the exposed methods
// (CreateOffer / CreateAnswer / ...) and waits on Ready before use.
func NewDataChannel(ctx context.Context) (*DataChannel, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}

	dc, err := newLinkChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &DataChannel{
		pc:          pc,
		dc:          dc,
		openSignal:  make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
		inbox:       event.NewQueue[[]byte](inboxSize),
		ctx:         tCtx,
		cancel:      tCancel,
		pcState:     webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close cancels the transport context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		t.inbox.Close()
		tCancel()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !t.inbox.Push(msg.Data) {
			util.LogWarning("DataChannel inbox full, dropped %d bytes", len(msg.Data))
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case t.drainSignal <- struct{}{}:
		default:
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (t *DataChannel) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the link is shut down
// (DataChannel closed or parent context cancelled).
func (t *DataChannel) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *DataChannel) Close() error {
	t.cancel()
	t.inbox.Close()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *DataChannel) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *DataChannel) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *DataChannel) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *DataChannel) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *DataChannel) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *DataChannel) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *DataChannel) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

func (*DataChannel) Kind() Kind { return KindDataChannel }

func (t *DataChannel) Read(p []byte) (int, Peer, error) {
	for len(t.pending) == 0 {
		msg, err := t.inbox.Pop(t.ctx)
		if err != nil {
			return 0, Peer{}, ErrClosed
		}
		t.pending = msg
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, Peer{}, nil
}

// Write waits for the channel to open, then sends p with backpressure on
// the SCTP buffer. The port's writer goroutine is the only caller.
func (t *DataChannel) Write(p []byte, _ Peer) error {
	if len(p) == 0 {
		return nil
	}

	select {
	case <-t.openSignal:
	case <-t.ctx.Done():
		return ErrClosed
	}

	if t.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-t.drainSignal:
		case <-t.ctx.Done():
			return ErrClosed
		}
	}

	if err := t.dc.Send(p); err != nil {
		return errors.Join(ErrTransport, err)
	}
	return nil
}
