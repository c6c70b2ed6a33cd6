package transport

import (
	"fmt"
	"sync/atomic"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when a serial config leaves the rate unset.
const DefaultBaudRate = 115200

// Serial is a transport over a local serial line.
type Serial struct {
	device string
	port   serial.Port
	baud   atomic.Int64
}

var _ Transport = (*Serial)(nil)

// OpenSerial opens device at baud (8N1).
func OpenSerial(device string, baud int) (*Serial, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrTransport, device, err)
	}

	s := &Serial{device: device, port: port}
	s.baud.Store(int64(baud))
	return s, nil
}

// ListSerialPorts returns the serial devices present on this machine.
func ListSerialPorts() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: listing serial ports: %v", ErrTransport, err)
	}
	return names, nil
}

func (*Serial) Kind() Kind { return KindSerial }

// BaudRate returns the current line rate.
func (s *Serial) BaudRate() int { return int(s.baud.Load()) }

func (s *Serial) Read(p []byte) (int, Peer, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, Peer{}, fmt.Errorf("%w: reading %s: %v", ErrTransport, s.device, err)
	}
	return n, Peer{BaudRate: s.BaudRate()}, nil
}

func (s *Serial) Write(p []byte, to Peer) error {
	if to.BaudRate != 0 && to.BaudRate != s.BaudRate() {
		if err := s.port.SetMode(&serial.Mode{
			BaudRate: to.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}); err != nil {
			return fmt.Errorf("%w: %s: switching to %d baud: %v", ErrTransport, s.device, to.BaudRate, err)
		}
		s.baud.Store(int64(to.BaudRate))
	}

	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrTransport, s.device, err)
		}
		p = p[n:]
	}
	return nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}
