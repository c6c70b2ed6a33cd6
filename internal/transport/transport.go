// Package transport provides the byte-stream endpoints a port runs on. The
// set of kinds is closed: serial lines, UDP/TCP sockets, WebSocket links,
// WebRTC DataChannels and in-memory pipes.
package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the supported transports.
type Kind uint8

const (
	KindSerial Kind = iota
	KindNet
	KindWebSocket
	KindDataChannel
	KindPipe
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindNet:
		return "net"
	case KindWebSocket:
		return "websocket"
	case KindDataChannel:
		return "datachannel"
	case KindPipe:
		return "pipe"
	default:
		return fmt.Sprintf("transport(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "serial", "uart":
		return KindSerial, nil
	case "net", "udp", "tcp":
		return KindNet, nil
	case "websocket", "ws":
		return KindWebSocket, nil
	case "datachannel", "webrtc":
		return KindDataChannel, nil
	case "pipe":
		return KindPipe, nil
	default:
		return 0, fmt.Errorf("%w: unknown transport kind %q", ErrConfiguration, name)
	}
}

var (
	// ErrTransport is the category of I/O failures on an open transport.
	ErrTransport = errors.New("transport error")
	ErrClosed    = fmt.Errorf("%w: closed", ErrTransport)
	ErrNoPeer    = fmt.Errorf("%w: no destination address", ErrTransport)

	// ErrConfiguration marks invalid open parameters. Opening fails before
	// any resource is allocated.
	ErrConfiguration = errors.New("configuration error")
)

// Peer identifies where bytes came from or should go to on a transport
// that reaches more than one place: a remote address for datagram sockets,
// a line rate for serial ports. The zero Peer means the default.
type Peer struct {
	Addr     string
	BaudRate int
}

func (p Peer) String() string {
	switch {
	case p.Addr != "" && p.BaudRate != 0:
		return fmt.Sprintf("%s@%d", p.Addr, p.BaudRate)
	case p.Addr != "":
		return p.Addr
	case p.BaudRate != 0:
		return fmt.Sprintf("%d baud", p.BaudRate)
	default:
		return "default"
	}
}

// Transport is one open byte-stream endpoint. Read and Write may be called
// concurrently with each other, but each by a single goroutine. Close
// unblocks a pending Read.
type Transport interface {
	Kind() Kind

	// Read blocks until bytes arrive and reports where they came from.
	Read(p []byte) (int, Peer, error)

	// Write sends p to the given peer. A serial transport applies
	// to.BaudRate before writing; an empty p only applies the peer settings.
	Write(p []byte, to Peer) error

	Close() error
}

// Config describes a transport to open.
type Config struct {
	Name     string
	Kind     Kind
	Device   string // serial device path
	BaudRate int    // serial line rate
	Network  string // "udp" or "tcp"
	Address  string // remote host:port, or URL for websocket and datachannel signaling
	Listen   string // local bind address for udp
	PIN      string // datachannel signaling PIN
}

// Validate checks the fields the kind needs. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: port name is required", ErrConfiguration)
	}

	switch c.Kind {
	case KindSerial:
		if c.Device == "" {
			return fmt.Errorf("%w: %s: serial device is required", ErrConfiguration, c.Name)
		}
		if c.BaudRate < 0 {
			return fmt.Errorf("%w: %s: invalid baud rate %d", ErrConfiguration, c.Name, c.BaudRate)
		}
	case KindNet:
		switch c.Network {
		case "udp", "udp4", "udp6":
			if c.Address == "" && c.Listen == "" {
				return fmt.Errorf("%w: %s: udp needs an address or a listen address", ErrConfiguration, c.Name)
			}
		case "tcp", "tcp4", "tcp6":
			if c.Address == "" {
				return fmt.Errorf("%w: %s: tcp needs an address", ErrConfiguration, c.Name)
			}
		default:
			return fmt.Errorf("%w: %s: unsupported network %q", ErrConfiguration, c.Name, c.Network)
		}
	case KindWebSocket, KindDataChannel:
		if c.Address == "" {
			return fmt.Errorf("%w: %s: url is required", ErrConfiguration, c.Name)
		}
	case KindPipe:
		return fmt.Errorf("%w: %s: pipes are created in pairs with NewPipe", ErrConfiguration, c.Name)
	default:
		return fmt.Errorf("%w: %s: unknown transport kind %d", ErrConfiguration, c.Name, c.Kind)
	}
	return nil
}

// DefaultPeer returns the peer writes go to when no device-specific route
// is known.
func (c Config) DefaultPeer() Peer {
	switch c.Kind {
	case KindSerial:
		return Peer{BaudRate: c.BaudRate}
	case KindNet:
		return Peer{Addr: c.Address}
	default:
		return Peer{}
	}
}
