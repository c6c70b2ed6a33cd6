package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// maxPINAttempts is how many wrong PINs a bridge accepts before it stops
// listening. A 4-digit PIN must not be guessable by brute force.
const maxPINAttempts = 5

var (
	ErrBadPIN          = errors.New("signaling rejected the PIN")
	ErrTooManyAttempts = errors.New("too many wrong PIN attempts")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// server is the bridge-side WebSocket endpoint. It hands out exactly one
// connection: the first client presenting the right PIN.
type server struct {
	pin  string
	http *http.Server

	failures atomic.Int32
	claimed  atomic.Bool

	connCh   chan *websocket.Conn
	lockedCh chan struct{}
}

func newServer(pin string) *server {
	s := &server{
		pin:      pin,
		connCh:   make(chan *websocket.Conn, 1),
		lockedCh: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// start listens on addr (":0" picks a free port) and returns the bound
// address.
func (s *server) start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start signaling server: %w", err)
	}
	go func() {
		_ = s.http.Serve(listener)
	}()
	return listener.Addr(), nil
}

func (s *server) checkPIN(got string) bool {
	if s.pin == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.pin)) == 1
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.failures.Load() >= maxPINAttempts {
		http.Error(w, "Locked", http.StatusForbidden)
		return
	}
	if !s.checkPIN(r.URL.Query().Get("pin")) {
		if s.failures.Add(1) == maxPINAttempts {
			close(s.lockedCh)
		}
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}
	if !s.claimed.CompareAndSwap(false, true) {
		http.Error(w, "Bridge already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.claimed.Store(false)
		return
	}
	s.connCh <- conn
}

// waitForClient blocks until a client connects, the PIN is locked out or
// ctx is cancelled.
func (s *server) waitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-s.lockedCh:
		return nil, ErrTooManyAttempts
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops accepting connections. A connection already handed out is
// not affected.
func (s *server) close() {
	_ = s.http.Close()
}

var dialer = websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// connect dials a bridge's signaling URL. A rejected PIN is reported as
// ErrBadPIN.
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrBadPIN
			case http.StatusForbidden:
				return nil, ErrTooManyAttempts
			}
		}
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return conn, nil
}

// GeneratePIN returns a random numeric PIN of the given length.
func GeneratePIN(length int) string {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%0*d", length, n)
}
