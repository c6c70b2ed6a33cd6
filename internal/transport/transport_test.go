package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"serial ok", Config{Name: "s", Kind: KindSerial, Device: "/dev/ttyUSB0", BaudRate: 9600}, true},
		{"serial without device", Config{Name: "s", Kind: KindSerial}, false},
		{"missing name", Config{Kind: KindSerial, Device: "/dev/ttyUSB0"}, false},
		{"udp listen only", Config{Name: "u", Kind: KindNet, Network: "udp", Listen: ":33005"}, true},
		{"udp nothing", Config{Name: "u", Kind: KindNet, Network: "udp"}, false},
		{"tcp without address", Config{Name: "t", Kind: KindNet, Network: "tcp"}, false},
		{"unknown network", Config{Name: "n", Kind: KindNet, Network: "sctp", Address: "x:1"}, false},
		{"websocket ok", Config{Name: "w", Kind: KindWebSocket, Address: "ws://host/link"}, true},
		{"datachannel without url", Config{Name: "d", Kind: KindDataChannel}, false},
		{"pipe via config", Config{Name: "p", Kind: KindPipe}, false},
		{"unknown kind", Config{Name: "x", Kind: Kind(99)}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("UDP")
	require.NoError(t, err)
	require.Equal(t, KindNet, k)

	_, err = ParseKind("bluetooth")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestPipeCarriesWritesAndPeer(t *testing.T) {
	host, device := NewPipe("host", "device")
	defer host.Close()
	defer device.Close()

	require.NoError(t, host.Write([]byte("hello"), Peer{BaudRate: 9600}))
	require.Equal(t, 9600, host.BaudRate())

	buf := make([]byte, 3)
	n, peer, err := device.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hel", string(buf[:n]))
	require.Equal(t, "host", peer.Addr)

	n, _, err = device.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "lo", string(buf[:n]))

	require.NoError(t, device.Write([]byte("x"), Peer{}))
	n, peer, err = host.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "x", string(buf[:n]))
	require.Equal(t, "device", peer.Addr)
	require.Equal(t, 9600, peer.BaudRate)
}

func TestPipeCloseUnblocksReaders(t *testing.T) {
	host, device := NewPipe("host", "device")

	errs := make(chan error, 2)
	go func() {
		_, _, err := host.Read(make([]byte, 8))
		errs <- err
	}()
	go func() {
		_, _, err := device.Read(make([]byte, 8))
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, host.Close())

	for range 2 {
		select {
		case err := <-errs:
			require.True(t, errors.Is(err, ErrClosed) || errors.Is(err, io.EOF), "unexpected error %v", err)
		case <-time.After(time.Second):
			t.Fatal("reader was not unblocked by Close")
		}
	}

	require.ErrorIs(t, host.Write([]byte("late"), Peer{}), ErrClosed)
}

func TestNetUDPRoundTrip(t *testing.T) {
	ctx := context.Background()

	a, err := DialNet(ctx, "udp", "", "127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := DialNet(ctx, "udp", a.LocalAddr().String(), "127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Write([]byte("probe"), Peer{}))

	buf := make([]byte, 64)
	n, peer, err := a.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "probe", string(buf[:n]))
	require.Equal(t, b.LocalAddr().String(), peer.Addr)

	// Reply to the address the datagram came from.
	require.NoError(t, a.Write([]byte("reply"), peer))
	n, _, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "reply", string(buf[:n]))

	require.ErrorIs(t, a.Write([]byte("nowhere"), Peer{}), ErrNoPeer)
}

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo:"), msg...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Write([]byte{0x7E, 0x01, 0x7E}, Peer{}))

	buf := make([]byte, 64)
	n, _, err := ws.Read(buf)
	require.NoError(t, err)
	require.Equal(t, append([]byte("echo:"), 0x7E, 0x01, 0x7E), buf[:n])
}

func TestDefaultPeer(t *testing.T) {
	require.Equal(t, Peer{BaudRate: 4800}, Config{Kind: KindSerial, BaudRate: 4800}.DefaultPeer())
	require.Equal(t, Peer{Addr: "10.0.0.2:33005"}, Config{Kind: KindNet, Address: "10.0.0.2:33005"}.DefaultPeer())
	require.Equal(t, "9600 baud", Peer{BaudRate: 9600}.String())
}
