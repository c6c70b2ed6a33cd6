// Package bridge relays bytes between two transports without interpreting
// them. The port bridge command uses it to expose a local serial or UDP
// link to a remote host over a DataChannel.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

const bufferSize = 16 * 1024

// Bridge pumps bytes in both directions until either transport fails or
// the bridge is closed.
type Bridge struct {
	name   string
	local  transport.Transport
	remote transport.Transport

	// localPeer receives remote bytes; when zero, they go to whoever last
	// spoke on the local side.
	localPeer transport.Peer
	lastPeer  atomic.Pointer[transport.Peer]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	errOnce sync.Once
	err     error

	up   atomic.Uint64 // local -> remote
	down atomic.Uint64 // remote -> local
}

// New creates a bridge. It owns both transports: Close closes them.
func New(name string, local, remote transport.Transport, localPeer transport.Peer) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		name:      name,
		local:     local,
		remote:    remote,
		localPeer: localPeer,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run relays until ctx ends or one side fails. It returns the failure
// that stopped the bridge, or nil when ctx or Close stopped it.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.Close)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.pump(b.local, b.remote, &b.up, true)
	}()
	go func() {
		defer wg.Done()
		b.pump(b.remote, b.local, &b.down, false)
	}()
	wg.Wait()

	return b.err
}

// pump copies src to dst. It uses a blocking Read; Close unblocks it by
// closing both transports.
func (b *Bridge) pump(src, dst transport.Transport, counter *atomic.Uint64, fromLocal bool) {
	defer b.Close()

	buf := make([]byte, bufferSize)
	for {
		n, peer, err := src.Read(buf)
		if n > 0 {
			to := transport.Peer{}
			if fromLocal {
				b.lastPeer.Store(&peer)
			} else {
				to = b.replyPeer()
			}

			if werr := dst.Write(buf[:n], to); werr != nil {
				b.fail(werr)
				return
			}
			counter.Add(uint64(n))
		}

		if err != nil {
			b.fail(err)
			return
		}
	}
}

func (b *Bridge) replyPeer() transport.Peer {
	if b.localPeer != (transport.Peer{}) {
		return b.localPeer
	}
	if p := b.lastPeer.Load(); p != nil {
		return *p
	}
	return transport.Peer{}
}

// fail records the first error that was not caused by shutting down.
func (b *Bridge) fail(err error) {
	if b.ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
		return
	}
	b.errOnce.Do(func() {
		b.err = err
		if errors.Is(err, io.EOF) {
			util.LogInfo("[%s] peer closed the link", b.name)
			return
		}
		util.LogError("[%s] bridge stopped: %v", b.name, err)
	})
}

// Traffic reports bytes relayed so far. Sent is local to remote.
func (b *Bridge) Traffic() util.Traffic {
	return util.Traffic{Name: b.name, BytesSent: b.up.Load(), BytesRecv: b.down.Load()}
}

// Close stops the bridge and closes both transports. Safe to call more
// than once and from any goroutine.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		errs := errors.Join(b.local.Close(), b.remote.Close())
		if errs != nil {
			util.LogDebug("[%s] closing transports: %v", b.name, errs)
		}
		util.LogDebug("[%s] bridge cleanup complete", b.name)
	})
}
