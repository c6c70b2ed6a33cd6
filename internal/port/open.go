package port

import (
	"context"
	"fmt"
	"net/url"

	"github.com/1ureka/seacomm/internal/signaling"
	"github.com/1ureka/seacomm/internal/transport"
)

// Open creates the transport described by cfg. cfg must already be valid.
func Open(ctx context.Context, cfg transport.Config) (transport.Transport, error) {
	switch cfg.Kind {
	case transport.KindSerial:
		s, err := transport.OpenSerial(cfg.Device, cfg.BaudRate)
		if err != nil {
			return nil, err
		}
		return s, nil

	case transport.KindNet:
		n, err := transport.DialNet(ctx, cfg.Network, cfg.Address, cfg.Listen)
		if err != nil {
			return nil, err
		}
		return n, nil

	case transport.KindWebSocket:
		ws, err := transport.DialWebSocket(ctx, cfg.Address)
		if err != nil {
			return nil, err
		}
		return ws, nil

	case transport.KindDataChannel:
		wsURL, err := signalingURL(cfg.Address, cfg.PIN)
		if err != nil {
			return nil, err
		}
		dc, err := signaling.Dial(ctx, wsURL)
		if err != nil {
			return nil, err
		}
		return dc, nil

	case transport.KindPipe:
		return nil, fmt.Errorf("%w: pipes cannot be opened from a config", transport.ErrConfiguration)

	default:
		return nil, fmt.Errorf("%w: unknown transport kind %d", transport.ErrConfiguration, cfg.Kind)
	}
}

// signalingURL normalizes a bridge address into its signaling endpoint,
// e.g. "10.0.0.5:8080" + "1234" -> "ws://10.0.0.5:8080/ws?pin=1234".
func signalingURL(raw, pin string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if u, err = url.Parse("ws://" + raw); err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: invalid signaling address %q", transport.ErrConfiguration, raw)
		}
	}
	switch u.Scheme {
	case "ws", "wss":
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	if pin != "" {
		u.RawQuery = url.Values{"pin": {pin}}.Encode()
	}
	return u.String(), nil
}
