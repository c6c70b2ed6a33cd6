// Package discovery finds devices reachable through a port. A strategy
// solicits replies on each of its tasks in turn and reports every device
// that answers; repeated answers from a known device are coalesced.
package discovery

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/1ureka/seacomm/internal/transport"
)

// Family is the device family a strategy looks for.
type Family uint8

const (
	FamilyBinary Family = iota
	FamilyNmea
)

func (f Family) String() string {
	switch f {
	case FamilyBinary:
		return "binary"
	case FamilyNmea:
		return "nmea"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// ParseFamily accepts the names used in configuration files.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(name) {
	case "binary", "packet":
		return FamilyBinary, nil
	case "nmea":
		return FamilyNmea, nil
	default:
		return 0, fmt.Errorf("%w: unknown discovery family %q", transport.ErrConfiguration, name)
	}
}

// Task is one step of a discovery run: solicit Peer Attempts times and wait
// Timeout after each solicitation.
type Task struct {
	Peer     transport.Peer
	Timeout  time.Duration
	Attempts int
}

func (t Task) String() string {
	return fmt.Sprintf("%s (%s x%d)", t.Peer, t.Timeout, t.Attempts)
}

// Strategy is one of Binary or Nmea.
type Strategy interface {
	Family() Family
	tasks() []Task
	sealed()
}

// Binary finds packet-protocol devices. It broadcasts a discover packet
// carrying Filter and collects discover replies that match it.
type Binary struct {
	Filter Filter
	Tasks  []Task
}

func (Binary) Family() Family  { return FamilyBinary }
func (b Binary) tasks() []Task { return b.Tasks }
func (Binary) sealed()         {}

// Nmea finds sentence-speaking devices. Query, when set, is sent as a
// sentence body on each attempt; otherwise the probe only switches the
// line settings and listens. Any valid sentence whose type is in Sentences
// identifies a device.
type Nmea struct {
	Query     string
	Sentences []string
	Tasks     []Task
}

func (Nmea) Family() Family  { return FamilyNmea }
func (n Nmea) tasks() []Task { return n.Tasks }
func (Nmea) sealed()         {}

// DefaultSentences are the sentence types that identify an NMEA device.
var DefaultSentences = []string{"GGA", "RMC", "VTG", "GLL", "HDT", "ZDA"}

func (n Nmea) recognizes(typ string) bool {
	if len(n.Sentences) == 0 {
		return slices.Contains(DefaultSentences, typ)
	}
	return slices.Contains(n.Sentences, typ)
}

// TaskConfig produces the default task list for a transport kind.
type TaskConfig struct {
	BaudRates     []int
	SerialTimeout time.Duration
	NetTimeout    time.Duration
	BroadcastAddr string
	Attempts      int
}

// DefaultTaskConfig returns the built-in discovery settings.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		BaudRates:     []int{115200, 9600, 57600, 38400, 19200, 4800},
		SerialTimeout: 250 * time.Millisecond,
		NetTimeout:    time.Second,
		BroadcastAddr: "255.255.255.255:33005",
		Attempts:      1,
	}
}

// Validate checks that the settings can produce tasks.
func (c TaskConfig) Validate() error {
	switch {
	case len(c.BaudRates) == 0:
		return fmt.Errorf("%w: discovery needs at least one baud rate", transport.ErrConfiguration)
	case slices.ContainsFunc(c.BaudRates, func(b int) bool { return b <= 0 }):
		return fmt.Errorf("%w: invalid discovery baud rate in %v", transport.ErrConfiguration, c.BaudRates)
	case c.SerialTimeout <= 0 || c.NetTimeout <= 0:
		return fmt.Errorf("%w: discovery timeouts must be positive", transport.ErrConfiguration)
	case c.Attempts < 1:
		return fmt.Errorf("%w: discovery attempts must be at least 1", transport.ErrConfiguration)
	}
	return nil
}

// Tasks returns the task list for a port of the given kind. Serial ports
// sweep the baud list; network ports solicit the broadcast address; other
// transports have a single remote and solicit it once.
func (c TaskConfig) Tasks(kind transport.Kind) []Task {
	switch kind {
	case transport.KindSerial:
		tasks := make([]Task, 0, len(c.BaudRates))
		for _, b := range c.BaudRates {
			tasks = append(tasks, Task{Peer: transport.Peer{BaudRate: b}, Timeout: c.SerialTimeout, Attempts: c.Attempts})
		}
		return tasks
	case transport.KindNet:
		return []Task{{Peer: transport.Peer{Addr: c.BroadcastAddr}, Timeout: c.NetTimeout, Attempts: c.Attempts}}
	default:
		return []Task{{Timeout: c.NetTimeout, Attempts: c.Attempts}}
	}
}

// DefaultTasks returns DefaultTaskConfig().Tasks(kind).
func DefaultTasks(kind transport.Kind) []Task {
	return DefaultTaskConfig().Tasks(kind)
}
