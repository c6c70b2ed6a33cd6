package discovery

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/seacomm/internal/event"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/transport"
)

// StartedEvent is emitted when a run begins.
type StartedEvent struct {
	Port   *port.Port
	Family Family
	Tasks  int
}

// ProbingEvent is emitted when a run moves to its next task.
type ProbingEvent struct {
	Port   *port.Port
	Family Family
	Task   Task
	Index  int
}

// FinishedEvent is emitted once per run. Cancelled is set when the run was
// stopped or its port closed before the task list completed.
type FinishedEvent struct {
	Port      *port.Port
	Family    Family
	Found     int
	Cancelled bool
}

type runKey struct {
	port   uuid.UUID
	family Family
}

// Service runs discovery strategies on ports. Every event of a run is
// delivered on its port's dispatcher, after the port's own events for the
// same input.
type Service struct {
	tasks TaskConfig

	mu      sync.Mutex
	running map[runKey]bool
	devices map[deviceKey]Device

	Started     event.Signal[StartedEvent]
	Probing     event.Signal[ProbingEvent]
	DeviceFound event.Signal[Device]
	Finished    event.Signal[FinishedEvent]
}

// NewService creates a service that fills empty task lists from tasks.
func NewService(tasks TaskConfig) *Service {
	return &Service{
		tasks:   tasks,
		running: make(map[runKey]bool),
		devices: make(map[deviceKey]Device),
	}
}

// Start begins running st on p. A strategy without tasks uses the default
// tasks for the port's transport kind. Binary and NMEA runs may share a
// port; a second run of the same family fails with port.ErrProbeActive.
func (s *Service) Start(ctx context.Context, p *port.Port, st Strategy) error {
	if st == nil {
		return fmt.Errorf("%w: no discovery strategy", transport.ErrConfiguration)
	}

	tasks := st.tasks()
	if len(tasks) == 0 {
		tasks = s.tasks.Tasks(p.Kind())
	}
	for _, t := range tasks {
		if t.Timeout <= 0 || t.Attempts < 1 {
			return fmt.Errorf("%w: invalid discovery task %s", transport.ErrConfiguration, t)
		}
	}

	pr := &probe{svc: s, strategy: st, tasks: tasks}
	if err := p.AttachProbe(ctx, pr); err != nil {
		return fmt.Errorf("starting %s discovery on %s: %w", st.Family(), p.Name(), err)
	}
	return nil
}

// Stop cancels the run of family on p. It reports whether one was running.
func (s *Service) Stop(ctx context.Context, p *port.Port, family Family) (bool, error) {
	return p.DetachProbe(ctx, probeName(family))
}

// StopAll cancels every run on p.
func (s *Service) StopAll(ctx context.Context, p *port.Port) error {
	var errs []error
	for _, f := range []Family{FamilyBinary, FamilyNmea} {
		if _, err := s.Stop(ctx, p, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether family is being discovered on p.
func (s *Service) Running(p *port.Port, family Family) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[runKey{p.ID(), family}]
}

// Devices returns the devices found so far, in no particular order.
func (s *Service) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.devices))
}

// begin marks a run active and forgets what earlier runs of the same family
// found on the port, so a new run reports every device again.
func (s *Service) begin(p *port.Port, family Family) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[runKey{p.ID(), family}] = true
	maps.DeleteFunc(s.devices, func(_ deviceKey, d Device) bool {
		return d.Meta.PortID == p.ID() && d.Family == family
	})
}

func (s *Service) end(p *port.Port, family Family) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, runKey{p.ID(), family})
}

// record stores dev and reports whether it is new or its identity changed.
func (s *Service) record(dev Device) bool {
	key := dev.key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.devices[key]; ok && prev.Identity == dev.Identity {
		return false
	}
	s.devices[key] = dev
	return true
}
