package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the category of every non-fatal packet-level error. Such
// errors drop the offending packet and are counted; the stream continues.
var ErrProtocol = errors.New("protocol error")

var (
	ErrShortPacket        = fmt.Errorf("%w: packet too short", ErrProtocol)
	ErrLengthMismatch     = fmt.Errorf("%w: payload length mismatch", ErrProtocol)
	ErrBadChecksum        = fmt.Errorf("%w: bad checksum", ErrProtocol)
	ErrReassemblyTimeout  = fmt.Errorf("%w: fragment reassembly timed out", ErrProtocol)
	ErrReassemblyOverflow = fmt.Errorf("%w: too many partial packets", ErrProtocol)
	ErrFragmentConflict   = fmt.Errorf("%w: inconsistent fragment", ErrProtocol)
)

// ErrPayloadTooLarge is returned by Build when a payload cannot be carried
// even after fragmentation.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrDeliveryFailed marks a packet whose acknowledgement never arrived after
// every retry.
var ErrDeliveryFailed = errors.New("delivery failed")
