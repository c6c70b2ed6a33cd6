package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/seacomm/internal/config"
	"github.com/1ureka/seacomm/internal/discovery"
	"github.com/1ureka/seacomm/internal/event"
	"github.com/1ureka/seacomm/internal/sdk"
	"github.com/1ureka/seacomm/internal/util"
)

var families []string

func init() {
	discoverCmd.Flags().StringSliceVarP(&families, "family", "f", nil, "comma-separated families to run (binary, nmea); defaults to each port's discover list, or both")
}

var discoverCmd = &cobra.Command{
	Use:   "discover [port...]",
	Short: "Opens ports and lists the devices that answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSDK()
		if err != nil {
			return err
		}
		defer s.Close()

		entries := s.Config().Ports
		if len(args) > 0 {
			entries = entries[:0:0]
			for _, name := range args {
				e, ok := s.Config().Find(name)
				if !ok {
					return fmt.Errorf("no port %q in the configuration", name)
				}
				entries = append(entries, e)
			}
		}
		if len(entries) == 0 {
			return fmt.Errorf("no ports configured, pass --config")
		}

		override, err := parseFamilies(families)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		finished := make(chan discovery.FinishedEvent, 2*len(entries))
		var g event.Group
		defer g.Release()
		g.Add(s.Discovery().Finished.Connect(func(ev discovery.FinishedEvent) { finished <- ev }))
		g.Add(s.Discovery().Probing.Connect(func(ev discovery.ProbingEvent) {
			util.LogDebug("[%s] %s probing %s", ev.Port.Name(), ev.Family, ev.Task)
		}))

		runs := 0
		for _, e := range entries {
			n, err := startRuns(ctx, s, e, override)
			if err != nil {
				return err
			}
			runs += n
		}

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("discovering on %d port(s)", len(entries)))
		for runs > 0 {
			select {
			case <-finished:
				runs--
			case <-ctx.Done():
				spinner.Warning("interrupted")
				return nil
			}
		}
		devices := s.Discovery().Devices()
		spinner.Success(fmt.Sprintf("%d device(s) found", len(devices)))

		return printDevices(devices)
	},
}

// startRuns opens one port and starts its discovery families, returning
// how many runs were started.
func startRuns(ctx context.Context, s *sdk.SDK, e config.PortEntry, override []discovery.Family) (int, error) {
	fams := override
	if len(fams) == 0 {
		var err error
		if fams, err = e.Families(); err != nil {
			return 0, err
		}
	}
	if len(fams) == 0 {
		fams = []discovery.Family{discovery.FamilyBinary, discovery.FamilyNmea}
	}

	e.Discover = nil
	p, err := s.OpenPort(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", e.Name, err)
	}

	for _, f := range fams {
		if err := s.StartDiscovery(ctx, p.Name(), f); err != nil {
			return 0, err
		}
	}
	return len(fams), nil
}

func parseFamilies(names []string) ([]discovery.Family, error) {
	var out []discovery.Family
	for _, name := range names {
		f, err := discovery.ParseFamily(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

func printDevices(devices []discovery.Device) error {
	if len(devices) == 0 {
		return nil
	}
	data := pterm.TableData{{"Port", "Family", "Device", "Product", "Part", "Serial", "Firmware", "Talker", "Via"}}
	for _, d := range devices {
		id := d.Identity
		data = append(data, []string{
			d.Meta.PortName,
			d.Family.String(),
			strconv.Itoa(int(id.DeviceID)),
			strconv.Itoa(int(id.ProductID)),
			strconv.Itoa(int(id.PartNumber)),
			strconv.Itoa(int(id.SerialNumber)),
			fmt.Sprintf("%#08x", id.Firmware),
			id.Talker,
			d.Meta.Peer().String(),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
