package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a transport over a WebSocket connection. Each Write is sent
// as one binary message; Read returns message bytes in order, splitting a
// message across calls when p is too small.
type WebSocket struct {
	conn *websocket.Conn
	url  string

	wmu     sync.Mutex // gorilla allows one concurrent writer
	pending []byte     // rest of a partially read message, reader-owned
}

var _ Transport = (*WebSocket)(nil)

// DialWebSocket connects to url.
func DialWebSocket(ctx context.Context, url string) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %v", ErrTransport, url, err)
	}
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection, for example one accepted by
// an http.Handler.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn, url: conn.RemoteAddr().String()}
}

func (*WebSocket) Kind() Kind { return KindWebSocket }

func (w *WebSocket) Read(p []byte) (int, Peer, error) {
	for len(w.pending) == 0 {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			return 0, Peer{}, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		w.pending = msg
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, Peer{Addr: w.url}, nil
}

func (w *WebSocket) Write(p []byte, _ Peer) error {
	if len(p) == 0 {
		return nil
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.wmu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.wmu.Unlock()
	return w.conn.Close()
}
