package main

import (
	"encoding/hex"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/seacomm/internal/discovery"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/util"
)

var (
	showBytes     bool
	statsInterval time.Duration
)

func init() {
	monitorCmd.Flags().BoolVar(&showBytes, "bytes", false, "also log raw bytes in both directions")
	monitorCmd.Flags().DurationVar(&statsInterval, "stats", 5*time.Second, "traffic report interval, 0 disables it")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [port]",
	Short: "Opens a port and logs every packet, sentence and error until Ctrl+C",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSDK()
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := selectPort(s.Config(), args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		s.Discovery().DeviceFound.Connect(func(d discovery.Device) {
			util.LogInfo("found %s", d)
		})

		p, err := s.OpenPort(ctx, entry)
		if err != nil {
			return err
		}
		watchPort(p)

		if statsInterval > 0 {
			util.StartStatsReporter(ctx, statsInterval, s.Traffic)
		}
		util.LogInfo("[%s] monitoring, press Ctrl+C to stop", p.Name())

		<-ctx.Done()
		return nil
	},
}

// watchPort logs the port's events. The connections live as long as the
// port.
func watchPort(p *port.Port) {
	ev := p.Events()

	p.Own(ev.StateChanged.Connect(func(e port.StateEvent) {
		if e.Err != nil {
			util.LogError("[%s] %s: %v", p.Name(), e.State, e.Err)
			return
		}
		util.LogInfo("[%s] %s", p.Name(), e.State)
	}))
	p.Own(ev.PacketDecoded.Connect(func(e port.PacketEvent) {
		util.LogInfo("[%s] %s from %s: %s", p.Name(), e.Header, e.Peer, hex.EncodeToString(e.Payload))
	}))
	p.Own(ev.Sentences.Connect(func(e port.SentenceEvent) {
		if e.Err != nil {
			util.LogWarning("[%s] $%s: %v", p.Name(), e.Sentence, e.Err)
			return
		}
		util.LogInfo("[%s] $%s", p.Name(), e.Sentence)
	}))
	p.Own(ev.Delivered.Connect(func(e port.DeliveredEvent) {
		util.LogDebug("[%s] device %d acknowledged packet %d", p.Name(), e.DeviceID, e.Sequence)
	}))
	p.Own(ev.DeliveryFailed.Connect(func(e port.DeliveryFailedEvent) {
		util.LogWarning("[%s] packet %d to device %d was never acknowledged", p.Name(), e.Sequence, e.DeviceID)
	}))
	p.Own(ev.Errors.Connect(func(e port.ErrorEvent) {
		util.LogDebug("[%s] %v", p.Name(), e.Err)
	}))

	if !showBytes {
		return
	}
	p.Own(ev.BytesReceived.Connect(func(e port.BytesEvent) {
		util.LogInfo("[%s] rx %s", p.Name(), hex.EncodeToString(e.Data))
	}))
	p.Own(ev.BytesSent.Connect(func(e port.BytesEvent) {
		util.LogInfo("[%s] tx %s", p.Name(), hex.EncodeToString(e.Data))
	}))
}
