package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

var (
	packetType uint8
	wantAck    bool
	asText     bool
	sentence   bool
)

func init() {
	sendCmd.Flags().Uint8VarP(&packetType, "type", "t", protocol.TypeUser, "packet type")
	sendCmd.Flags().BoolVarP(&wantAck, "ack", "a", false, "request an acknowledgement and wait for it")
	sendCmd.Flags().BoolVar(&asText, "text", false, "payload is text rather than hex")
	sendCmd.Flags().BoolVar(&sentence, "sentence", false, "send the payload as an NMEA sentence body instead of a packet")
}

var sendCmd = &cobra.Command{
	Use:   "send <port> <device-id> <payload>",
	Short: "Sends one packet to a device",
	Long: "Sends one packet to a device. The payload is hex unless --text is set.\n" +
		"With --sentence the device id is ignored and the payload is a sentence body such as PXYZ,1.",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSDK()
		if err != nil {
			return err
		}
		defer s.Close()

		entry, ok := s.Config().Find(args[0])
		if !ok {
			return fmt.Errorf("no port %q in the configuration", args[0])
		}
		entry.Discover = nil

		payload, err := parsePayload(args[2], asText || sentence)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		p, err := s.OpenPort(ctx, entry)
		if err != nil {
			return err
		}

		written := make(chan struct{}, 1)
		p.Own(p.Events().BytesSent.Connect(func(port.BytesEvent) {
			select {
			case written <- struct{}{}:
			default:
			}
		}))

		if sentence {
			if err := p.SendSentence(ctx, payload, transport.Peer{}); err != nil {
				return err
			}
			if err := flushed(written); err != nil {
				return err
			}
			pterm.Success.Printfln("sent $%s on %s", payload, p.Name())
			return nil
		}

		deviceID, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid device id %q: %w", args[1], err)
		}
		// Broadcasts are never acknowledged.
		wantAck = wantAck && uint16(deviceID) != protocol.BroadcastID

		// Payloads over the MTU go out as fragments with consecutive
		// sequence numbers, each acknowledged on its own.
		frags := max(1, (len(payload)+s.Config().Protocol.MTU-1)/s.Config().Protocol.MTU)
		delivered := make(chan port.DeliveredEvent, frags)
		failed := make(chan port.DeliveryFailedEvent, 1)
		p.Own(p.Events().Delivered.Connect(func(ev port.DeliveredEvent) {
			if ev.DeviceID != uint16(deviceID) {
				return
			}
			select {
			case delivered <- ev:
			default:
			}
		}))
		p.Own(p.Events().DeliveryFailed.Connect(func(ev port.DeliveryFailedEvent) {
			select {
			case failed <- ev:
			default:
			}
		}))

		seq, err := s.SendPacket(ctx, p.Name(), uint16(deviceID), packetType, payload, wantAck)
		if err != nil {
			return err
		}
		util.LogDebug("[%s] sent seq %d (%d fragment(s))", p.Name(), seq, frags)

		if !wantAck {
			if err := flushed(written); err != nil {
				return err
			}
			pterm.Success.Printfln("sent %d byte(s) to device %d", len(payload), deviceID)
			return nil
		}

		for remaining := frags; remaining > 0; {
			select {
			case ev := <-delivered:
				if ev.Sequence-seq < uint16(frags) {
					remaining--
				}
			case ev := <-failed:
				return fmt.Errorf("device %d did not acknowledge packet %d after %d retries", ev.DeviceID, ev.Sequence, ev.Retries)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		pterm.Success.Printfln("device %d acknowledged packet %d", deviceID, seq)
		return nil
	},
}

// flushed waits for the port to hand the first frame to its transport.
func flushed(written <-chan struct{}) error {
	select {
	case <-written:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("frame was not written within 1s")
	}
}

// parsePayload decodes hex (spaces allowed) or returns the text as is.
func parsePayload(raw string, text bool) ([]byte, error) {
	if text {
		return []byte(raw), nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(raw, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}
