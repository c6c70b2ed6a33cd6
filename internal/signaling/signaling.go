package signaling

import (
	"context"
	"fmt"
	"net"

	"github.com/gorilla/websocket"

	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// Accept runs the bridge side of the handshake:
//  1. Start a WS server on listenAddr
//  2. Report the bound address through announce
//  3. Wait for the SDK to connect with the right PIN
//  4. Send the offer and exchange ICE candidates
//  5. Return once the DataChannel is open, closing the WS server
func Accept(ctx context.Context, listenAddr, pin string, announce func(net.Addr)) (*transport.DataChannel, error) {
	srv := newServer(pin)
	addr, err := srv.start(listenAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	if announce != nil {
		announce(addr)
	}

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("signaling client connected from %s", wsConn.RemoteAddr())

	return negotiate(ctx, wsConn, true)
}

// Dial runs the SDK side of the handshake against a bridge at wsURL and
// returns the open DataChannel transport.
func Dial(ctx context.Context, wsURL string) (*transport.DataChannel, error) {
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	defer wsConn.Close()
	util.LogDebug("signaling connected: %s", wsURL)

	dc, err := negotiate(ctx, wsConn, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrTransport, err)
	}
	return dc, nil
}

// negotiate performs the SDP/ICE exchange over wsConn. The offering side
// sends the offer first; the other side answers from the receiver loop.
func negotiate(ctx context.Context, wsConn *websocket.Conn, offer bool) (*transport.DataChannel, error) {
	dc, err := transport.NewDataChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	s := &sender{dc: dc, conn: wsConn}
	r := &receiver{dc: dc, conn: wsConn, sender: s}
	s.trickle()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when wsConn is closed by the caller
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			dc.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-dc.Ready():
		util.LogDebug("DataChannel established, closing signaling")
		return dc, nil

	case err := <-errCh:
		dc.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		dc.Close()
		return nil, ctx.Err()
	}
}
