package port

import (
	"time"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
)

// Probe is a component that runs inside a port's session goroutine, such
// as a discovery strategy. Every method is called from that goroutine, so a
// probe needs no locking for its own state and must not block.
type Probe interface {
	// Name identifies the probe; a port runs at most one probe per name.
	Name() string

	// Codec is the framing the probe listens to. A sentence codec is
	// attached if the port does not run one yet; a packet codec only when
	// the port has none.
	Codec() codec.Kind

	// Start is called once when the probe is attached.
	Start(now time.Time, link Link)

	// Tick is called on every port tick. Returning true finishes the probe.
	Tick(now time.Time, link Link) (done bool)

	ObservePacket(pkt *protocol.Packet, from transport.Peer, link Link)
	ObserveSentence(body []byte, from transport.Peer, link Link)

	// Stop is called once when the probe is removed. cancelled is false
	// when the probe finished on its own.
	Stop(cancelled bool, link Link)
}

// Link is what a probe may do on its port.
type Link interface {
	Port() *Port

	// SendPacket builds and queues a packet without requesting an
	// acknowledgement. An empty payload with a serial baud peer still
	// switches the line rate.
	SendPacket(dst uint16, typ uint8, payload []byte, to transport.Peer) error

	// SendSentence frames body as an NMEA sentence and queues it. A nil
	// body queues an empty write that only applies the peer settings.
	SendSentence(body []byte, to transport.Peer) error

	// Emit queues fn on the port's dispatcher, after every event already
	// queued by the port.
	Emit(fn func())

	// Meta describes the route a reply arrived on.
	Meta(from transport.Peer, kind codec.Kind) ConnectionMeta

	// PacketCodec is the framing the port uses for packets.
	PacketCodec() codec.Kind
}
