// Package config loads the TOML configuration shared by the CLI commands:
// logging, protocol and port tuning, discovery settings and the list of
// ports to open.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/discovery"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// Duration is a time.Duration written as a string ("500ms", "2s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the whole configuration file.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Port      PortConfig      `toml:"port"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Ports     []PortEntry     `toml:"ports"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type ProtocolConfig struct {
	MTU               int      `toml:"mtu"`
	AckTimeout        Duration `toml:"ack_timeout"`
	MaxRetries        int      `toml:"max_retries"`
	ReplayWindow      int      `toml:"replay_window"`
	ReassemblyTimeout Duration `toml:"reassembly_timeout"`
	MaxPartials       int      `toml:"max_partials"`
}

type PortConfig struct {
	TickInterval  Duration `toml:"tick_interval"`
	StatsInterval Duration `toml:"stats_interval"`
	TxQueue       int      `toml:"tx_queue"`
	DispatchQueue int      `toml:"dispatch_queue"`
	ReadBuffer    int      `toml:"read_buffer"`
	MaxFrame      int      `toml:"max_frame"`
}

type DiscoveryConfig struct {
	BaudRates     []int    `toml:"baud_rates"`
	SerialTimeout Duration `toml:"serial_timeout"`
	NetTimeout    Duration `toml:"net_timeout"`
	Broadcast     string   `toml:"broadcast"`
	Attempts      int      `toml:"attempts"`
	Sentences     []string `toml:"sentences"`
	Query         string   `toml:"query"`
}

// PortEntry is one [[ports]] table.
type PortEntry struct {
	Name     string   `toml:"name"`
	Kind     string   `toml:"kind"`
	Device   string   `toml:"device"`
	Baud     int      `toml:"baud"`
	Network  string   `toml:"network"`
	Address  string   `toml:"address"`
	Listen   string   `toml:"listen"`
	URL      string   `toml:"url"`
	PIN      string   `toml:"pin"`
	Codecs   []string `toml:"codecs"`
	Discover []string `toml:"discover"` // families to discover on open
}

// Default returns a configuration with every default filled in and no
// ports.
func Default() Config {
	po := port.DefaultOptions()
	pc := po.Protocol
	tc := discovery.DefaultTaskConfig()

	return Config{
		Log: LogConfig{Level: "info"},
		Protocol: ProtocolConfig{
			MTU:               pc.MTU,
			AckTimeout:        Duration{pc.AckTimeout},
			MaxRetries:        pc.MaxRetries,
			ReplayWindow:      pc.ReplayWindow,
			ReassemblyTimeout: Duration{pc.ReassemblyTimeout},
			MaxPartials:       pc.MaxPartials,
		},
		Port: PortConfig{
			TickInterval:  Duration{po.TickInterval},
			StatsInterval: Duration{po.StatsInterval},
			TxQueue:       po.TxQueueSize,
			DispatchQueue: po.DispatchQueueSize,
			ReadBuffer:    po.ReadBufferSize,
			MaxFrame:      po.MaxFrame,
		},
		Discovery: DiscoveryConfig{
			BaudRates:     tc.BaudRates,
			SerialTimeout: Duration{tc.SerialTimeout},
			NetTimeout:    Duration{tc.NetTimeout},
			Broadcast:     tc.BroadcastAddr,
			Attempts:      tc.Attempts,
			Sentences:     slices.Clone(discovery.DefaultSentences),
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		return Config{}, fmt.Errorf("%w: config parse failed (%s): %v", transport.ErrConfiguration, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys %s", transport.ErrConfiguration, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once. Errors wrap
// transport.ErrConfiguration.
func (c Config) Validate() error {
	var errs []error

	if err := util.ValidLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log: %v", transport.ErrConfiguration, err))
	}
	if err := c.Options().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.TaskConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool)
	for i, e := range c.Ports {
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("%w: ports[%d]: duplicate name %q", transport.ErrConfiguration, i, e.Name))
		}
		seen[e.Name] = true

		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("ports[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Options converts the [protocol] and [port] sections.
func (c Config) Options() port.Options {
	return port.Options{
		Protocol: protocol.Config{
			MTU:               c.Protocol.MTU,
			AckTimeout:        c.Protocol.AckTimeout.Duration,
			MaxRetries:        c.Protocol.MaxRetries,
			ReplayWindow:      c.Protocol.ReplayWindow,
			ReassemblyTimeout: c.Protocol.ReassemblyTimeout.Duration,
			MaxPartials:       c.Protocol.MaxPartials,
		},
		TickInterval:      c.Port.TickInterval.Duration,
		StatsInterval:     c.Port.StatsInterval.Duration,
		TxQueueSize:       c.Port.TxQueue,
		DispatchQueueSize: c.Port.DispatchQueue,
		ReadBufferSize:    c.Port.ReadBuffer,
		MaxFrame:          c.Port.MaxFrame,
	}
}

// TaskConfig converts the [discovery] section.
func (c Config) TaskConfig() discovery.TaskConfig {
	return discovery.TaskConfig{
		BaudRates:     c.Discovery.BaudRates,
		SerialTimeout: c.Discovery.SerialTimeout.Duration,
		NetTimeout:    c.Discovery.NetTimeout.Duration,
		BroadcastAddr: c.Discovery.Broadcast,
		Attempts:      c.Discovery.Attempts,
	}
}

// Strategy returns the strategy for family with an empty task list, so the
// discovery service fills in the tasks for the port's transport kind.
func (c Config) Strategy(family discovery.Family) discovery.Strategy {
	if family == discovery.FamilyNmea {
		return discovery.Nmea{Query: c.Discovery.Query, Sentences: c.Discovery.Sentences}
	}
	return discovery.Binary{Filter: discovery.AnyDevice}
}

// Find returns the [[ports]] entry named name.
func (c Config) Find(name string) (PortEntry, bool) {
	i := slices.IndexFunc(c.Ports, func(e PortEntry) bool { return e.Name == name })
	if i < 0 {
		return PortEntry{}, false
	}
	return c.Ports[i], true
}

// Validate checks that the entry converts into a usable port.
func (e PortEntry) Validate() error {
	cfg, err := e.Transport()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := e.PortOptions(); err != nil {
		return err
	}
	_, err = e.Families()
	return err
}

// Transport converts the entry into a transport config.
func (e PortEntry) Transport() (transport.Config, error) {
	kind, err := transport.ParseKind(e.Kind)
	if err != nil {
		return transport.Config{}, err
	}

	network := strings.ToLower(e.Network)
	switch {
	case network != "":
	case strings.EqualFold(e.Kind, "tcp"):
		network = "tcp"
	case kind == transport.KindNet:
		network = "udp"
	}

	address := e.Address
	if e.URL != "" {
		address = e.URL
	}

	return transport.Config{
		Name:     e.Name,
		Kind:     kind,
		Device:   e.Device,
		BaudRate: e.Baud,
		Network:  network,
		Address:  address,
		Listen:   e.Listen,
		PIN:      e.PIN,
	}, nil
}

// PortOptions converts the codec list. An empty list leaves the choice to
// the port manager.
func (e PortEntry) PortOptions() (port.PortOptions, error) {
	var po port.PortOptions
	for _, name := range e.Codecs {
		k, err := codec.ParseKind(name)
		if err != nil {
			return port.PortOptions{}, fmt.Errorf("%w: %s: %v", transport.ErrConfiguration, e.Name, err)
		}
		if !slices.Contains(po.Codecs, k) {
			po.Codecs = append(po.Codecs, k)
		}
	}
	return po, nil
}

// Families returns the discovery families to start when the port opens.
func (e PortEntry) Families() ([]discovery.Family, error) {
	var out []discovery.Family
	for _, name := range e.Discover {
		f, err := discovery.ParseFamily(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}
