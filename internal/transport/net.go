package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Net is a transport over a UDP socket or a TCP connection. A UDP socket
// can talk to many devices: reads report the sender, writes go to the
// requested address or to the configured remote.
type Net struct {
	network string

	udp    *net.UDPConn
	remote *net.UDPAddr

	tcp net.Conn

	mu       sync.Mutex // guards resolved
	resolved map[string]*net.UDPAddr
}

var _ Transport = (*Net)(nil)

// DialNet opens a UDP socket bound to listen (":0" when empty) or connects
// a TCP stream to address.
func DialNet(ctx context.Context, network, address, listen string) (*Net, error) {
	switch network {
	case "udp", "udp4", "udp6":
		if listen == "" {
			listen = ":0"
		}
		laddr, err := net.ResolveUDPAddr(network, listen)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving %s: %v", ErrConfiguration, listen, err)
		}

		var remote *net.UDPAddr
		if address != "" {
			if remote, err = net.ResolveUDPAddr(network, address); err != nil {
				return nil, fmt.Errorf("%w: resolving %s: %v", ErrConfiguration, address, err)
			}
		}

		conn, err := net.ListenUDP(network, laddr)
		if err != nil {
			return nil, fmt.Errorf("%w: listening on %s: %v", ErrTransport, listen, err)
		}
		return &Net{network: network, udp: conn, remote: remote, resolved: make(map[string]*net.UDPAddr)}, nil

	case "tcp", "tcp4", "tcp6":
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, fmt.Errorf("%w: connecting to %s: %v", ErrTransport, address, err)
		}
		return &Net{network: network, tcp: conn}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported network %q", ErrConfiguration, network)
	}
}

func (*Net) Kind() Kind { return KindNet }

// LocalAddr returns the bound local address.
func (n *Net) LocalAddr() net.Addr {
	if n.udp != nil {
		return n.udp.LocalAddr()
	}
	return n.tcp.LocalAddr()
}

func (n *Net) Read(p []byte) (int, Peer, error) {
	if n.udp != nil {
		c, from, err := n.udp.ReadFromUDP(p)
		if err != nil {
			return c, Peer{}, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return c, Peer{Addr: from.String()}, nil
	}

	c, err := n.tcp.Read(p)
	if err != nil {
		return c, Peer{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return c, Peer{Addr: n.tcp.RemoteAddr().String()}, nil
}

func (n *Net) Write(p []byte, to Peer) error {
	if len(p) == 0 {
		return nil
	}

	if n.tcp != nil {
		if _, err := n.tcp.Write(p); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return nil
	}

	dst := n.remote
	if to.Addr != "" {
		addr, err := n.resolve(to.Addr)
		if err != nil {
			return err
		}
		dst = addr
	}
	if dst == nil {
		return ErrNoPeer
	}

	if _, err := n.udp.WriteToUDP(p, dst); err != nil {
		return fmt.Errorf("%w: sending to %s: %v", ErrTransport, dst, err)
	}
	return nil
}

func (n *Net) resolve(addr string) (*net.UDPAddr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if a, ok := n.resolved[addr]; ok {
		return a, nil
	}
	a, err := net.ResolveUDPAddr(n.network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrTransport, addr, err)
	}
	n.resolved[addr] = a
	return a, nil
}

func (n *Net) Close() error {
	if n.udp != nil {
		return n.udp.Close()
	}
	return n.tcp.Close()
}
