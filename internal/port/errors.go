package port

import (
	"errors"
	"fmt"

	"github.com/1ureka/seacomm/internal/transport"
)

var (
	ErrNotOpen       = fmt.Errorf("%w: port is not open", transport.ErrTransport)
	ErrTxQueueFull   = errors.New("transmit queue full")
	ErrNoPacketCodec = errors.New("port has no packet codec")
	ErrProbeActive   = errors.New("probe already running on port")
	ErrNameInUse     = fmt.Errorf("%w: port name already in use", transport.ErrConfiguration)
	ErrManagerClosed = errors.New("port manager closed")
	ErrUnknownPort   = errors.New("unknown port")
)
