package signaling

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/seacomm/internal/transport"
)

func TestGeneratePIN(t *testing.T) {
	pin := GeneratePIN(6)
	require.Len(t, pin, 6)
	for _, c := range pin {
		require.True(t, c >= '0' && c <= '9', "non-digit %q in PIN", c)
	}
}

func TestAcceptRejectsWrongPIN(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		_, err := Accept(ctx, "127.0.0.1:0", "1234", func(a net.Addr) { addrCh <- a })
		errCh <- err
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("signaling server did not start")
	}

	_, err := connect(ctx, fmt.Sprintf("ws://%s/ws?pin=0000", addr))
	require.ErrorIs(t, err, ErrBadPIN)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after cancel")
	}
}

func TestAcceptLocksAfterRepeatedWrongPINs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		_, err := Accept(ctx, "127.0.0.1:0", "4321", func(a net.Addr) { addrCh <- a })
		errCh <- err
	}()
	addr := <-addrCh

	for i := range maxPINAttempts {
		_, err := connect(ctx, fmt.Sprintf("ws://%s/ws?pin=%04d", addr, i))
		require.ErrorIs(t, err, ErrBadPIN)
	}

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTooManyAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept kept waiting after the lockout")
	}

	// The right PIN no longer helps once the server has stopped.
	_, err := connect(ctx, fmt.Sprintf("ws://%s/ws?pin=4321", addr))
	require.Error(t, err)
}

func TestDialWrapsTransportError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	go func() {
		_, _ = Accept(ctx, "127.0.0.1:0", "1111", func(a net.Addr) { addrCh <- a })
	}()
	addr := <-addrCh

	_, err := Dial(ctx, fmt.Sprintf("ws://%s/ws?pin=2222", addr))
	require.ErrorIs(t, err, transport.ErrTransport)
	require.ErrorIs(t, err, ErrBadPIN)
}
