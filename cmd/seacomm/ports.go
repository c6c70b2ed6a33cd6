package main

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Lists local serial devices and the configured ports",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		devices, err := transport.ListSerialPorts()
		if err != nil {
			util.LogWarning("cannot enumerate serial devices: %v", err)
		}
		if len(devices) == 0 {
			pterm.Info.Println("no serial devices found")
		} else {
			data := pterm.TableData{{"Serial device"}}
			for _, d := range devices {
				data = append(data, []string{d})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
				return err
			}
		}
		pterm.Println()

		if len(cfg.Ports) == 0 {
			pterm.Info.Println("no ports configured")
			return nil
		}

		data := pterm.TableData{{"Name", "Kind", "Endpoint", "Codecs", "Discover"}}
		for _, e := range cfg.Ports {
			tc, err := e.Transport()
			if err != nil {
				return err
			}
			data = append(data, []string{
				e.Name,
				tc.Kind.String(),
				endpoint(tc),
				strings.Join(e.Codecs, ","),
				strings.Join(e.Discover, ","),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

// endpoint is the column text describing where a transport connects.
func endpoint(tc transport.Config) string {
	switch tc.Kind {
	case transport.KindSerial:
		if tc.BaudRate == 0 {
			return tc.Device
		}
		return tc.Device + " @ " + strconv.Itoa(tc.BaudRate)
	case transport.KindNet:
		parts := []string{tc.Network}
		if tc.Address != "" {
			parts = append(parts, "to "+tc.Address)
		}
		if tc.Listen != "" {
			parts = append(parts, "on "+tc.Listen)
		}
		return strings.Join(parts, " ")
	default:
		return tc.Address
	}
}
