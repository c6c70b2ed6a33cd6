// Portbridge: exposes a local serial or UDP link to a remote host.
//
// The bridge waits for an SDK to connect through PIN-protected WebSocket
// signaling, negotiates a WebRTC DataChannel and then relays bytes between
// the local link and the DataChannel without interpreting them. The SDK side
// opens the bridge as a "datachannel" port.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/seacomm/internal/bridge"
	"github.com/1ureka/seacomm/internal/config"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/signaling"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

var version = "dev"

var (
	configPath string
	portName   string
	serialDev  string
	baudRate   int
	udpListen  string
	udpPeer    string
	wsPort     int
	wsLAN      bool
	pin        string
	statsEvery time.Duration
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:           "portbridge",
	Short:         "Relay a local serial or UDP link to a remote SDK over WebRTC",
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	f.StringVarP(&portName, "port", "p", "", "name of a [[ports]] entry to bridge")
	f.StringVar(&serialDev, "serial", "", "serial device to bridge")
	f.IntVar(&baudRate, "baud", transport.DefaultBaudRate, "serial line rate")
	f.StringVar(&udpListen, "udp", "", "UDP address to listen on")
	f.StringVar(&udpPeer, "udp-peer", "", "UDP address remote bytes are sent to (default: last sender)")
	f.IntVar(&wsPort, "ws-port", 0, "WebSocket signaling port (0 picks a free one)")
	f.BoolVar(&wsLAN, "lan", false, "listen for signaling on all network interfaces")
	f.StringVar(&pin, "pin", "", "signaling PIN (default: random 4 digits)")
	f.DurationVar(&statsEvery, "stats", 5*time.Second, "traffic report interval, 0 disables it")
	f.BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.MarkFlagsMutuallyExclusive("port", "serial", "udp")
	rootCmd.MarkFlagsOneRequired("port", "serial", "udp")
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

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	tc, err := localConfig()
	if err != nil {
		return err
	}
	if debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Portbridge v%s", version))
	pterm.Println()

	local, err := port.Open(ctx, tc)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tc.Name, err)
	}
	util.LogInfo("[%s] opened %s", tc.Name, tc.Kind)

	if pin == "" {
		pin = signaling.GeneratePIN(4)
	}
	wsAddr := "127.0.0.1:" + strconv.Itoa(wsPort)
	if wsLAN {
		wsAddr = ":" + strconv.Itoa(wsPort)
	}

	var spinner *pterm.SpinnerPrinter
	remote, err := signaling.Accept(ctx, wsAddr, pin, func(addr net.Addr) {
		announce(addr, pin)
		spinner, _ = pterm.DefaultSpinner.Start("waiting for an SDK to connect")
	})
	if err != nil {
		if spinner != nil {
			spinner.Fail("signaling failed")
		}
		local.Close()
		return fmt.Errorf("failed to establish bridge: %w", err)
	}
	if spinner != nil {
		spinner.Success("DataChannel established")
	}

	b := bridge.New(tc.Name, local, remote, tc.DefaultPeer())
	defer b.Close()

	if statsEvery > 0 {
		util.StartStatsReporter(ctx, statsEvery, func() []util.Traffic {
			return []util.Traffic{b.Traffic()}
		})
	}
	util.LogInfo("[%s] relaying traffic", tc.Name)

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	util.LogInfo("bridge closed")
	return nil
}

// localConfig builds the local transport from --port, --serial or --udp.
func localConfig() (transport.Config, error) {
	var tc transport.Config

	switch {
	case portName != "":
		cfg := config.Default()
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return tc, err
			}
		}
		e, ok := cfg.Find(portName)
		if !ok {
			return tc, fmt.Errorf("no port %q in the configuration", portName)
		}
		var err error
		if tc, err = e.Transport(); err != nil {
			return tc, err
		}
		if err := util.SetLevel(cfg.Log.Level); err != nil {
			return tc, err
		}

	case serialDev != "":
		tc = transport.Config{Name: serialDev, Kind: transport.KindSerial, Device: serialDev, BaudRate: baudRate}

	default:
		tc = transport.Config{Name: "udp " + udpListen, Kind: transport.KindNet, Network: "udp", Listen: udpListen, Address: udpPeer}
	}

	switch tc.Kind {
	case transport.KindSerial, transport.KindNet:
	default:
		return tc, fmt.Errorf("%w: %s: only serial and network links can be bridged", transport.ErrConfiguration, tc.Name)
	}
	return tc, tc.Validate()
}

// announce prints where the SDK should connect.
func announce(addr net.Addr, pin string) {
	pterm.Println()
	data := pterm.TableData{
		{"Signaling", addr.String()},
		{"PIN", pin},
	}
	pterm.DefaultTable.WithData(data).WithBoxed().Render() //nolint:errcheck
	pterm.Info.Println("Point a datachannel port's url at this address (forward the port if the SDK is remote)")
	pterm.Println()
}
