package port

import (
	"github.com/1ureka/seacomm/internal/event"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
)

// BytesEvent carries raw bytes read from or written to a port.
type BytesEvent struct {
	Port *Port
	Peer transport.Peer
	Data []byte
}

// PacketEvent carries one decoded packet. Header and Payload are shared
// with every listener and must not be modified.
type PacketEvent struct {
	Port    *Port
	Peer    transport.Peer
	Header  protocol.Header
	Payload []byte
}

// SentenceEvent carries one NMEA sentence body. Err is set when the
// sentence failed validation.
type SentenceEvent struct {
	Port     *Port
	Peer     transport.Peer
	Sentence string
	Err      error
}

// StateEvent reports a state transition. Err is the cause of StateError.
type StateEvent struct {
	Port  *Port
	State State
	Err   error
}

// DeliveryFailedEvent reports a packet whose acknowledgement never came.
type DeliveryFailedEvent struct {
	Port     *Port
	DeviceID uint16
	Type     uint8
	Sequence uint16
	Retries  int
}

// DeliveredEvent reports a packet the destination acknowledged. Retries is
// how many resends it took.
type DeliveredEvent struct {
	Port     *Port
	DeviceID uint16
	Type     uint8
	Sequence uint16
	Retries  int
}

// ErrorEvent reports a non-fatal framing or protocol error.
type ErrorEvent struct {
	Port *Port
	Err  error
}

// StatsEvent is the periodic counter snapshot.
type StatsEvent struct {
	Port  *Port
	Stats Stats
}

// Events holds a port's Signals. Listeners run on the port's dispatcher
// goroutine, never on its I/O goroutines.
type Events struct {
	BytesReceived  event.Signal[BytesEvent]
	BytesSent      event.Signal[BytesEvent]
	PacketDecoded  event.Signal[PacketEvent]
	Sentences      event.Signal[SentenceEvent]
	StateChanged   event.Signal[StateEvent]
	Delivered      event.Signal[DeliveredEvent]
	DeliveryFailed event.Signal[DeliveryFailedEvent]
	Errors         event.Signal[ErrorEvent]
	Stats          event.Signal[StatsEvent]
}
