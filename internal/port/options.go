package port

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
)

// Options apply to every port a Manager opens.
type Options struct {
	Protocol          protocol.Config
	TickInterval      time.Duration // timer resolution for retries, reassembly and probes
	StatsInterval     time.Duration // period of Events().Stats, 0 disables
	TxQueueSize       int           // queued data frames per port
	DispatchQueueSize int           // queued listener calls per port
	ReadBufferSize    int
	MaxFrame          int // codec frame limit, 0 = codec default
}

// DefaultOptions returns the manager defaults.
func DefaultOptions() Options {
	return Options{
		Protocol:          protocol.DefaultConfig(),
		TickInterval:      50 * time.Millisecond,
		StatsInterval:     time.Second,
		TxQueueSize:       256,
		DispatchQueueSize: 1024,
		ReadBufferSize:    4096,
	}
}

// Validate checks every field. Errors wrap transport.ErrConfiguration.
func (o Options) Validate() error {
	var errs []error
	if err := o.Protocol.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", o.TickInterval))
	}
	if o.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("stats interval must not be negative, got %s", o.StatsInterval))
	}
	if o.TxQueueSize < 1 {
		errs = append(errs, fmt.Errorf("tx queue size must be at least 1, got %d", o.TxQueueSize))
	}
	if o.DispatchQueueSize < 1 {
		errs = append(errs, fmt.Errorf("dispatch queue size must be at least 1, got %d", o.DispatchQueueSize))
	}
	if o.ReadBufferSize < 64 {
		errs = append(errs, fmt.Errorf("read buffer must be at least 64 bytes, got %d", o.ReadBufferSize))
	}
	if o.MaxFrame != 0 && o.MaxFrame < o.Protocol.MTU+protocol.HeaderSize {
		errs = append(errs, fmt.Errorf("max frame %d cannot hold a %d byte packet", o.MaxFrame, o.Protocol.MTU+protocol.HeaderSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrConfiguration, err)
	}
	return nil
}

// PortOptions apply to a single port.
type PortOptions struct {
	// Codecs run on every inbound chunk. The first Raw or Stuffing codec
	// frames outgoing packets. Empty selects DefaultCodecs.
	Codecs []codec.Kind

	// DefaultPeer receives packets for devices with no learned route.
	DefaultPeer transport.Peer
}

// DefaultCodecs returns the codecs used when a port config names none:
// UDP datagrams are already framed, everything else is a byte stream.
func DefaultCodecs(cfg transport.Config) []codec.Kind {
	if cfg.Kind == transport.KindNet && len(cfg.Network) >= 3 && cfg.Network[:3] == "udp" {
		return []codec.Kind{codec.KindRaw}
	}
	return []codec.Kind{codec.KindStuffing}
}
