package sdk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/config"
	"github.com/1ureka/seacomm/internal/discovery"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Port.TickInterval = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Port.StatsInterval = config.Duration{}
	cfg.Discovery.NetTimeout = config.Duration{Duration: 80 * time.Millisecond}
	return cfg
}

// echoDevice answers discover packets and acknowledges user packets,
// recording the payloads it receives.
func echoDevice(end *transport.Pipe, id discovery.Identity, got chan<- []byte) {
	rx, _ := codec.New(codec.KindStuffing, 0)
	tx, _ := codec.New(codec.KindStuffing, 0)

	reply := func(h protocol.Header, payload []byte) bool {
		data, err := protocol.Encode(&protocol.Packet{Header: h, Payload: payload})
		if err != nil {
			return false
		}
		framed, _ := tx.Encode(data)
		return end.Write(framed, transport.Peer{}) == nil
	}

	var seq uint16
	buf := make([]byte, 512)
	for {
		n, _, err := end.Read(buf)
		if err != nil {
			return
		}
		for f := range rx.Feed(buf[:n]) {
			pkt, err := protocol.Decode(f.Data)
			if err != nil {
				continue
			}
			switch {
			case pkt.Type == protocol.TypeDiscover:
				seq++
				if !reply(protocol.Header{DeviceID: id.DeviceID, Type: protocol.TypeDiscoverReply, Seq: seq}, discovery.ReplyPayload(id)) {
					return
				}
			case pkt.Has(protocol.FlagAckRequested):
				got <- pkt.Payload
				if !reply(protocol.Header{DeviceID: pkt.DeviceID, Type: pkt.Type, Flags: protocol.FlagIsAck, Seq: pkt.Seq}, nil) {
					return
				}
			}
		}
	}
}

func TestDiscoverThenSend(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.Close()

	host, far := transport.NewPipe("host", "sonar")
	defer far.Close()

	id := discovery.Identity{DeviceID: 12, ProductID: 1090, PartNumber: 1, SerialNumber: 3301, Firmware: 0x010400}
	payloads := make(chan []byte, 4)
	go echoDevice(far, id, payloads)

	_, err = s.AddPort("sonar", host, port.PortOptions{})
	require.NoError(t, err)

	found := make(chan discovery.Device, 4)
	finished := make(chan discovery.FinishedEvent, 1)
	defer s.Discovery().DeviceFound.Connect(func(d discovery.Device) { found <- d }).Release()
	defer s.Discovery().Finished.Connect(func(ev discovery.FinishedEvent) { finished <- ev }).Release()

	ctx := context.Background()
	require.NoError(t, s.StartDiscovery(ctx, "sonar", discovery.FamilyBinary))

	var dev discovery.Device
	select {
	case dev = <-found:
	case <-time.After(time.Second):
		t.Fatal("device not found")
	}
	require.Equal(t, id, dev.Identity)
	require.Equal(t, "sonar", dev.Meta.PortName)

	ev := <-finished
	require.Equal(t, 1, ev.Found)

	_, err = s.SendTo(ctx, dev, protocol.TypeUser, []byte("set range 30"), true)
	require.NoError(t, err)
	require.Equal(t, []byte("set range 30"), <-payloads)

	p, err := s.Port("sonar")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().PacketsIn >= 1 }, time.Second, 5*time.Millisecond)

	traffic := s.Traffic()
	require.Len(t, traffic, 1)
	require.Equal(t, "sonar", traffic[0].Name)
	require.NotZero(t, traffic[0].BytesSent)
}

func TestUnknownPort(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.SendPacket(ctx, "nope", 1, protocol.TypeUser, nil, false)
	require.ErrorIs(t, err, port.ErrUnknownPort)
	require.ErrorIs(t, s.StartDiscovery(ctx, "nope", discovery.FamilyNmea), port.ErrUnknownPort)
	require.ErrorIs(t, s.ClosePort("nope"), port.ErrUnknownPort)
}

func TestClosePortCancelsDiscovery(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.NetTimeout = config.Duration{Duration: time.Hour}
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	host, far := transport.NewPipe("host", "gps")
	defer far.Close()
	_, err = s.AddPort("gps", host, port.PortOptions{Codecs: []codec.Kind{codec.KindNmea}})
	require.NoError(t, err)

	finished := make(chan discovery.FinishedEvent, 1)
	defer s.Discovery().Finished.Connect(func(ev discovery.FinishedEvent) { finished <- ev }).Release()

	require.NoError(t, s.StartDiscovery(context.Background(), "gps", discovery.FamilyNmea))
	require.NoError(t, s.ClosePort("gps"))

	select {
	case ev := <-finished:
		require.True(t, ev.Cancelled)
	case <-time.After(time.Second):
		t.Fatal("discovery not finished after port close")
	}
	require.Empty(t, s.Ports())
}

func TestOpenConfiguredKeepsGoodPorts(t *testing.T) {
	cfg := testConfig()
	cfg.Ports = []config.PortEntry{
		{Name: "lan", Kind: "udp", Listen: "127.0.0.1:0"},
		{Name: "missing", Kind: "serial", Device: "/dev/seacomm-does-not-exist"},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	opened, err := s.OpenConfigured(context.Background())
	require.Error(t, err)
	require.Len(t, opened, 1)
	require.Equal(t, "lan", opened[0].Name())
	require.Equal(t, transport.KindNet, opened[0].Kind())
	require.Len(t, s.Ports(), 1)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol.MaxRetries = -1
	_, err := New(cfg)
	require.ErrorIs(t, err, transport.ErrConfiguration)
}
