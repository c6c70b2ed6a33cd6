// Package sdk is the entry point for applications: it wires the port
// manager and the discovery service from one configuration and addresses
// ports by name.
package sdk

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/seacomm/internal/config"
	"github.com/1ureka/seacomm/internal/discovery"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// SDK owns every port it opens.
type SDK struct {
	cfg       config.Config
	ports     *port.Manager
	discovery *discovery.Service
}

// New validates cfg, applies its log level and returns an SDK with no
// ports open.
func New(cfg config.Config) (*SDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := util.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConfiguration, err)
	}

	m, err := port.NewManager(cfg.Options())
	if err != nil {
		return nil, err
	}
	return &SDK{
		cfg:       cfg,
		ports:     m,
		discovery: discovery.NewService(cfg.TaskConfig()),
	}, nil
}

func (s *SDK) Config() config.Config         { return s.cfg }
func (s *SDK) Manager() *port.Manager        { return s.ports }
func (s *SDK) Discovery() *discovery.Service { return s.discovery }

// OpenPort opens the port entry describes and starts the discovery
// families it lists. A discovery that fails to start leaves the port open.
func (s *SDK) OpenPort(ctx context.Context, entry config.PortEntry) (*port.Port, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	tc, _ := entry.Transport()
	po, _ := entry.PortOptions()
	families, _ := entry.Families()

	p, err := s.ports.OpenPort(ctx, tc, po)
	if err != nil {
		return nil, err
	}

	for _, f := range families {
		if err := s.discovery.Start(ctx, p, s.cfg.Strategy(f)); err != nil {
			util.LogWarning("[%s] %v", p.Name(), err)
		}
	}
	return p, nil
}

// OpenConfigured opens every [[ports]] entry. Ports that fail to open are
// reported together; the others stay open.
func (s *SDK) OpenConfigured(ctx context.Context) ([]*port.Port, error) {
	var opened []*port.Port
	var errs []error
	for _, e := range s.cfg.Ports {
		p, err := s.OpenPort(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			continue
		}
		opened = append(opened, p)
	}
	return opened, errors.Join(errs...)
}

// AddPort registers an already open transport, such as one end of a pipe.
func (s *SDK) AddPort(name string, tr transport.Transport, po port.PortOptions) (*port.Port, error) {
	return s.ports.AddPort(name, tr, po)
}

// Port returns the open port called name.
func (s *SDK) Port(name string) (*port.Port, error) {
	p, ok := s.ports.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", port.ErrUnknownPort, name)
	}
	return p, nil
}

// Ports returns the open ports in the order they were opened.
func (s *SDK) Ports() []*port.Port { return s.ports.AllPorts() }

// ClosePort closes a port; its discovery runs finish as cancelled.
func (s *SDK) ClosePort(name string) error {
	p, err := s.Port(name)
	if err != nil {
		return err
	}
	return s.ports.RemovePort(p.ID())
}

// SendPacket sends a packet to deviceID through the named port and returns
// its sequence number. With ack set, the outcome is reported on the port's
// Delivered or DeliveryFailed signal.
func (s *SDK) SendPacket(ctx context.Context, portName string, deviceID uint16, typ uint8, payload []byte, ack bool) (uint16, error) {
	p, err := s.Port(portName)
	if err != nil {
		return 0, err
	}
	return p.Send(ctx, deviceID, typ, payload, ack)
}

// SendTo sends a packet to a discovered device through the port that found
// it.
func (s *SDK) SendTo(ctx context.Context, dev discovery.Device, typ uint8, payload []byte, ack bool) (uint16, error) {
	p, ok := s.ports.Get(dev.Meta.PortID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", port.ErrUnknownPort, dev.Meta.PortName)
	}
	return p.Send(ctx, dev.Identity.DeviceID, typ, payload, ack)
}

// StartDiscovery runs the configured strategy for family on the named port.
func (s *SDK) StartDiscovery(ctx context.Context, portName string, family discovery.Family) error {
	p, err := s.Port(portName)
	if err != nil {
		return err
	}
	return s.discovery.Start(ctx, p, s.cfg.Strategy(family))
}

// StopDiscovery cancels the family's run on the named port. It reports
// whether one was running.
func (s *SDK) StopDiscovery(ctx context.Context, portName string, family discovery.Family) (bool, error) {
	p, err := s.Port(portName)
	if err != nil {
		return false, err
	}
	return s.discovery.Stop(ctx, p, family)
}

// Traffic returns per-port counters for the stats reporter.
func (s *SDK) Traffic() []util.Traffic {
	ports := s.ports.AllPorts()
	out := make([]util.Traffic, 0, len(ports))
	for _, p := range ports {
		out = append(out, p.Stats().Traffic(p.Name()))
	}
	return out
}

// Close closes every port.
func (s *SDK) Close() error {
	return s.ports.Close()
}
