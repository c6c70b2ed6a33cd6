package port

import (
	"sync/atomic"

	"github.com/1ureka/seacomm/internal/util"
)

// Stats is a snapshot of a port's counters.
type Stats struct {
	BytesSent        uint64
	BytesRecv        uint64
	PacketsIn        uint64
	PacketsOut       uint64
	FramingErrors    uint64
	ProtocolErrors   uint64
	Duplicates       uint64
	Retries          uint64
	DeliveryFailures uint64
	DroppedEvents    uint64
}

type counters struct {
	bytesSent        atomic.Uint64
	bytesRecv        atomic.Uint64
	packetsIn        atomic.Uint64
	packetsOut       atomic.Uint64
	framingErrors    atomic.Uint64
	protocolErrors   atomic.Uint64
	duplicates       atomic.Uint64
	retries          atomic.Uint64
	deliveryFailures atomic.Uint64
	droppedEvents    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesSent:        c.bytesSent.Load(),
		BytesRecv:        c.bytesRecv.Load(),
		PacketsIn:        c.packetsIn.Load(),
		PacketsOut:       c.packetsOut.Load(),
		FramingErrors:    c.framingErrors.Load(),
		ProtocolErrors:   c.protocolErrors.Load(),
		Duplicates:       c.duplicates.Load(),
		Retries:          c.retries.Load(),
		DeliveryFailures: c.deliveryFailures.Load(),
		DroppedEvents:    c.droppedEvents.Load(),
	}
}

// Traffic converts the snapshot for the periodic stats reporter.
func (s Stats) Traffic(name string) util.Traffic {
	return util.Traffic{
		Name:          name,
		BytesSent:     s.BytesSent,
		BytesRecv:     s.BytesRecv,
		FramingErrors: s.FramingErrors,
		Failures:      s.DeliveryFailures,
	}
}
