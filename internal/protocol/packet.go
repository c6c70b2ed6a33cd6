// Package protocol defines the device packet format and the per-port engine
// that builds, validates, sequences, fragments and acknowledges packets.
package protocol

import "fmt"

// Packet type constants reserved by the engine and discovery. Device
// collaborators use types from TypeUser upward.
const (
	TypeDiscover      uint8 = 0x01 // discovery solicitation
	TypeDiscoverReply uint8 = 0x02 // discovery response carrying identity
	TypePing          uint8 = 0x03
	TypeUser          uint8 = 0x10
)

// Header flag bits.
const (
	FlagAckRequested  uint8 = 1 << 0
	FlagIsAck         uint8 = 1 << 1
	FlagIsFragment    uint8 = 1 << 2
	FlagMoreFragments uint8 = 1 << 3
)

// BroadcastID addresses every device on a link.
const BroadcastID uint16 = 0xFFFF

// HeaderSize is the fixed header size in bytes.
//
//	offset  size  field
//	0       2     device id
//	2       1     packet type
//	3       1     flags
//	4       2     sequence
//	6       1     fragment index
//	7       1     reserved, zero
//	8       2     payload length
//	10      2     checksum (CRC-16/CCITT-FALSE, header with this field zeroed + payload)
//
// All multi-byte fields are big-endian.
const HeaderSize = 12

const (
	offDeviceID = 0
	offType     = 2
	offFlags    = 3
	offSeq      = 4
	offFragment = 6
	offReserved = 7
	offLength   = 8
	offChecksum = 10
)

// Header is the decoded fixed header.
type Header struct {
	DeviceID   uint16
	Type       uint8
	Flags      uint8
	Seq        uint16
	Fragment   uint8
	PayloadLen uint16
	Checksum   uint16
}

// Has reports whether every bit of flag is set.
func (h Header) Has(flag uint8) bool { return h.Flags&flag == flag }

func (h Header) String() string {
	return fmt.Sprintf("dev=%04x type=0x%02x seq=%d flags=%s len=%d",
		h.DeviceID, h.Type, h.Seq, flagString(h.Flags), h.PayloadLen)
}

func flagString(f uint8) string {
	s := []byte("----")
	if f&FlagAckRequested != 0 {
		s[0] = 'R'
	}
	if f&FlagIsAck != 0 {
		s[1] = 'A'
	}
	if f&FlagIsFragment != 0 {
		s[2] = 'F'
	}
	if f&FlagMoreFragments != 0 {
		s[3] = 'M'
	}
	return string(s)
}

// Packet is a header plus its payload. Packets handed to listeners are
// shared read-only.
type Packet struct {
	Header
	Payload []byte
}
