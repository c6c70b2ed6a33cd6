package discovery

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/protocol"
)

// Any matches every value of a filter field.
const Any uint16 = 0xFFFF

// Filter narrows a binary discovery to matching devices. Fields set to Any
// match everything.
type Filter struct {
	ProductID    uint16
	PartNumber   uint16
	SerialNumber uint16
}

// AnyDevice matches every device.
var AnyDevice = Filter{ProductID: Any, PartNumber: Any, SerialNumber: Any}

const (
	filterSize = 6
	replySize  = 10
)

// Payload encodes the filter as a discover packet payload.
func (f Filter) Payload() []byte {
	b := make([]byte, filterSize)
	binary.BigEndian.PutUint16(b[0:2], f.ProductID)
	binary.BigEndian.PutUint16(b[2:4], f.PartNumber)
	binary.BigEndian.PutUint16(b[4:6], f.SerialNumber)
	return b
}

// ParseFilter decodes a discover packet payload. An empty payload is
// AnyDevice.
func ParseFilter(b []byte) (Filter, error) {
	if len(b) == 0 {
		return AnyDevice, nil
	}
	if len(b) < filterSize {
		return Filter{}, fmt.Errorf("%w: discover payload is %d bytes, need %d", protocol.ErrProtocol, len(b), filterSize)
	}
	return Filter{
		ProductID:    binary.BigEndian.Uint16(b[0:2]),
		PartNumber:   binary.BigEndian.Uint16(b[2:4]),
		SerialNumber: binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// Matches reports whether id passes the filter.
func (f Filter) Matches(id Identity) bool {
	return field(f.ProductID, id.ProductID) &&
		field(f.PartNumber, id.PartNumber) &&
		field(f.SerialNumber, id.SerialNumber)
}

func field(want, got uint16) bool { return want == Any || want == got }

// Identity is what a device reports about itself. Binary devices fill the
// numeric fields; NMEA devices only have a talker.
type Identity struct {
	DeviceID     uint16
	ProductID    uint16
	PartNumber   uint16
	SerialNumber uint16
	Firmware     uint32
	Talker       string
}

func (id Identity) String() string {
	if id.Talker != "" {
		return "talker " + id.Talker
	}
	return fmt.Sprintf("device %d (pid %d, pn %d, sn %d, fw %d.%d.%d)",
		id.DeviceID, id.ProductID, id.PartNumber, id.SerialNumber,
		id.Firmware>>16, id.Firmware>>8&0xFF, id.Firmware&0xFF)
}

// ReplyPayload encodes id as a discover reply payload.
func ReplyPayload(id Identity) []byte {
	b := make([]byte, replySize)
	binary.BigEndian.PutUint16(b[0:2], id.ProductID)
	binary.BigEndian.PutUint16(b[2:4], id.PartNumber)
	binary.BigEndian.PutUint16(b[4:6], id.SerialNumber)
	binary.BigEndian.PutUint32(b[6:10], id.Firmware)
	return b
}

// ParseReply decodes a discover reply sent by deviceID. Trailing bytes are
// ignored so newer firmware can extend the reply.
func ParseReply(deviceID uint16, b []byte) (Identity, error) {
	if len(b) < replySize {
		return Identity{}, fmt.Errorf("%w: discover reply is %d bytes, need %d", protocol.ErrProtocol, len(b), replySize)
	}
	return Identity{
		DeviceID:     deviceID,
		ProductID:    binary.BigEndian.Uint16(b[0:2]),
		PartNumber:   binary.BigEndian.Uint16(b[2:4]),
		SerialNumber: binary.BigEndian.Uint16(b[4:6]),
		Firmware:     binary.BigEndian.Uint32(b[6:10]),
	}, nil
}

// Device is one discovered device and the route that reached it.
type Device struct {
	Family   Family
	Meta     port.ConnectionMeta
	Identity Identity
}

func (d Device) String() string {
	return fmt.Sprintf("%s %s on %s", d.Family, d.Identity, d.Meta)
}

// deviceKey tells devices apart. Several devices can answer over one route,
// such as a multidrop serial line or one NMEA talker per instrument, so the
// route is paired with the address each one answered from.
type deviceKey struct {
	route uint32
	addr  string
}

func (d Device) key() deviceKey {
	addr := d.Identity.Talker
	if d.Family == FamilyBinary {
		addr = strconv.Itoa(int(d.Identity.DeviceID))
	}
	return deviceKey{route: d.Meta.Key(), addr: addr}
}
