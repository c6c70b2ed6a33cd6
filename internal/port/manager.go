package port

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/seacomm/internal/event"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// Manager owns the set of open ports. Ports stay registered in the error
// state until they are removed or the manager is closed.
type Manager struct {
	opts Options

	mu     sync.Mutex
	ports  []*Port // in open order
	closed bool

	PortAdded   event.Signal[*Port]
	PortRemoved event.Signal[*Port]
}

// NewManager validates opts and returns an empty manager.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Manager{opts: opts}, nil
}

// Options returns the options every port is opened with.
func (m *Manager) Options() Options { return m.opts }

// OpenPort opens the transport cfg describes and registers a port for it.
// A configuration error creates nothing. Empty PortOptions fields are
// filled from cfg.
func (m *Manager) OpenPort(ctx context.Context, cfg transport.Config, po PortOptions) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := m.Find(cfg.Name); ok {
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, cfg.Name)
	}

	if len(po.Codecs) == 0 {
		po.Codecs = DefaultCodecs(cfg)
	}
	if po.DefaultPeer == (transport.Peer{}) {
		po.DefaultPeer = cfg.DefaultPeer()
	}

	tr, err := Open(ctx, cfg)
	if err != nil {
		util.LogError("[%s] open failed: %v", cfg.Name, err)
		return nil, err
	}

	p, err := m.AddPort(cfg.Name, tr, po)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return p, nil
}

// AddPort registers a port around an already open transport. The port owns
// tr from here on.
func (m *Manager) AddPort(name string, tr transport.Transport, po PortOptions) (*Port, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: port name is required", transport.ErrConfiguration)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.findLocked(name) != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	p, err := newPort(name, tr, m.opts, po)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.ports = append(m.ports, p)
	m.mu.Unlock()

	util.LogInfo("Port %s opened (%s)", name, p.Kind())
	m.PortAdded.Emit(p)
	return p, nil
}

// RemovePort closes and unregisters a port.
func (m *Manager) RemovePort(id uuid.UUID) error {
	m.mu.Lock()
	i := slices.IndexFunc(m.ports, func(p *Port) bool { return p.id == id })
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPort, id)
	}
	p := m.ports[i]
	m.ports = slices.Delete(m.ports, i, i+1)
	m.mu.Unlock()

	err := p.Close()
	util.LogInfo("Port %s closed", p.name)
	m.PortRemoved.Emit(p)
	return err
}

// AllPorts returns the registered ports in the order they were opened.
func (m *Manager) AllPorts() []*Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ports)
}

// Find returns the port with the given name.
func (m *Manager) Find(name string) (*Port, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.findLocked(name)
	return p, p != nil
}

// Get returns the port with the given id.
func (m *Manager) Get(id uuid.UUID) (*Port, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.ports, func(p *Port) bool { return p.id == id })
	if i < 0 {
		return nil, false
	}
	return m.ports[i], true
}

func (m *Manager) findLocked(name string) *Port {
	for _, p := range m.ports {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Close closes every port. The manager accepts no ports afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ports := m.ports
	m.ports = nil
	m.mu.Unlock()

	var errs []error
	for _, p := range ports {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
		m.PortRemoved.Emit(p)
	}
	return errors.Join(errs...)
}
