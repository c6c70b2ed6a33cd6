// Seacomm: CLI entry point.
//
// This tool opens the ports listed in a TOML configuration (or given on the
// command line), discovers the sensors behind them and exchanges packets
// with those sensors.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/seacomm/internal/config"
	"github.com/1ureka/seacomm/internal/sdk"
	"github.com/1ureka/seacomm/internal/util"
)

var version = "dev"

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:           "seacomm",
	Short:         "Talk to underwater sensors over serial, network and bridged links",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		portsCmd,
		discoverCmd,
		monitorCmd,
		sendCmd,
	)
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// loadConfig reads --config, or returns the defaults when none was given.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if debugMode {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newSDK builds the SDK from the loaded configuration.
func newSDK() (*sdk.SDK, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sdk.New(cfg)
}

// selectPort returns args[0], or asks for one of the configured ports.
func selectPort(cfg config.Config, args []string) (config.PortEntry, error) {
	if len(args) > 0 {
		e, ok := cfg.Find(args[0])
		if !ok {
			return config.PortEntry{}, fmt.Errorf("no port %q in the configuration", args[0])
		}
		return e, nil
	}

	switch len(cfg.Ports) {
	case 0:
		return config.PortEntry{}, fmt.Errorf("no ports configured, pass --config")
	case 1:
		return cfg.Ports[0], nil
	}

	names := make([]string, len(cfg.Ports))
	for i, e := range cfg.Ports {
		names[i] = e.Name
	}
	name, err := pterm.DefaultInteractiveSelect.
		WithOptions(names).
		WithDefaultText("Select a port").
		Show()
	if err != nil {
		return config.PortEntry{}, err
	}
	pterm.Println()

	e, _ := cfg.Find(name)
	return e, nil
}
