package port

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// ConnectionMeta records how a device was reached. It is a value type and
// never changes once built.
type ConnectionMeta struct {
	PortID   uuid.UUID
	PortName string
	PortKind transport.Kind
	Codec    codec.Kind
	Addr     string
	BaudRate int
}

// Key identifies the physical route. Two metas with the same key describe
// the same device reached the same way.
func (m ConnectionMeta) Key() uint32 {
	return util.HashKey(m.PortID.String(), m.Codec.String(), m.Addr, strconv.Itoa(m.BaudRate))
}

// Peer returns the transport peer that reaches the device.
func (m ConnectionMeta) Peer() transport.Peer {
	return transport.Peer{Addr: m.Addr, BaudRate: m.BaudRate}
}

func (m ConnectionMeta) String() string {
	return fmt.Sprintf("%s/%s via %s", m.PortName, m.Codec, m.Peer())
}
