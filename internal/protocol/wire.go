package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes pkt, filling in PayloadLen and Checksum.
func Encode(pkt *Packet) ([]byte, error) {
	if len(pkt.Payload) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(pkt.Payload))
	}

	buf := make([]byte, HeaderSize+len(pkt.Payload))
	binary.BigEndian.PutUint16(buf[offDeviceID:], pkt.DeviceID)
	buf[offType] = pkt.Type
	buf[offFlags] = pkt.Flags
	binary.BigEndian.PutUint16(buf[offSeq:], pkt.Seq)
	buf[offFragment] = pkt.Fragment
	buf[offReserved] = 0
	binary.BigEndian.PutUint16(buf[offLength:], uint16(len(pkt.Payload)))
	copy(buf[HeaderSize:], pkt.Payload)

	sum := checksum(buf)
	binary.BigEndian.PutUint16(buf[offChecksum:], sum)

	pkt.PayloadLen = uint16(len(pkt.Payload))
	pkt.Checksum = sum
	return buf, nil
}

// Decode parses and validates data. The returned payload is a copy.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortPacket, len(data), HeaderSize)
	}

	h := Header{
		DeviceID:   binary.BigEndian.Uint16(data[offDeviceID:]),
		Type:       data[offType],
		Flags:      data[offFlags],
		Seq:        binary.BigEndian.Uint16(data[offSeq:]),
		Fragment:   data[offFragment],
		PayloadLen: binary.BigEndian.Uint16(data[offLength:]),
		Checksum:   binary.BigEndian.Uint16(data[offChecksum:]),
	}

	if int(h.PayloadLen) != len(data)-HeaderSize {
		return nil, fmt.Errorf("%w: header says %d, frame carries %d", ErrLengthMismatch, h.PayloadLen, len(data)-HeaderSize)
	}
	if sum := checksum(data); sum != h.Checksum {
		return nil, fmt.Errorf("%w: got 0x%04x, computed 0x%04x", ErrBadChecksum, h.Checksum, sum)
	}

	pkt := &Packet{Header: h}
	if h.PayloadLen > 0 {
		pkt.Payload = make([]byte, h.PayloadLen)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

// checksum computes the packet CRC over data as if its checksum field were
// zero.
func checksum(data []byte) uint16 {
	crc := crc16(0xFFFF, data[:offChecksum])
	crc = crc16(crc, []byte{0, 0})
	return crc16(crc, data[HeaderSize:])
}
