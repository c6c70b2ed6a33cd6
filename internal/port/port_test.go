package port

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
)

func testOptions() Options {
	o := DefaultOptions()
	o.TickInterval = 5 * time.Millisecond
	o.StatsInterval = 0
	o.Protocol.AckTimeout = 40 * time.Millisecond
	return o
}

// device is the far end of a pipe speaking the packet protocol.
type device struct {
	t       *testing.T
	end     *transport.Pipe
	stuff   codec.Codec
	packets chan *protocol.Packet
}

func newDevice(t *testing.T, end *transport.Pipe) *device {
	c, err := codec.New(codec.KindStuffing, 0)
	require.NoError(t, err)

	d := &device{t: t, end: end, stuff: c, packets: make(chan *protocol.Packet, 64)}
	go func() {
		rx, _ := codec.New(codec.KindStuffing, 0)
		buf := make([]byte, 512)
		for {
			n, _, err := end.Read(buf)
			if err != nil {
				return
			}
			for f := range rx.Feed(buf[:n]) {
				if !f.Valid() {
					continue
				}
				if pkt, err := protocol.Decode(f.Data); err == nil {
					d.packets <- pkt
				}
			}
		}
	}()
	return d
}

func (d *device) send(h protocol.Header, payload []byte) {
	data, err := protocol.Encode(&protocol.Packet{Header: h, Payload: payload})
	require.NoError(d.t, err)
	d.write(data)
}

func (d *device) write(data []byte) {
	framed, err := d.stuff.Encode(data)
	require.NoError(d.t, err)
	require.NoError(d.t, d.end.Write(framed, transport.Peer{}))
}

func (d *device) next(timeout time.Duration) *protocol.Packet {
	select {
	case pkt := <-d.packets:
		return pkt
	case <-time.After(timeout):
		d.t.Fatal("device received nothing")
		return nil
	}
}

// waitState skips transitions until want arrives.
func waitState(t *testing.T, states <-chan StateEvent, want State) StateEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-states:
			if ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("port never reached %s", want)
		}
	}
}

func openPipePort(t *testing.T, opts Options, po PortOptions) (*Manager, *Port, *device) {
	m, err := NewManager(opts)
	require.NoError(t, err)

	host, far := transport.NewPipe("host", "device")
	p, err := m.AddPort("pipe0", host, po)
	require.NoError(t, err)

	t.Cleanup(func() {
		m.Close()
		far.Close()
	})
	return m, p, newDevice(t, far)
}

func TestSendIsAcknowledged(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{})

	delivered := make(chan DeliveredEvent, 4)
	p.Own(p.Events().Delivered.Connect(func(ev DeliveredEvent) { delivered <- ev }))

	seq, err := p.Send(context.Background(), 7, protocol.TypeUser, []byte("hi"), true)
	require.NoError(t, err)

	pkt := dev.next(time.Second)
	require.Equal(t, uint16(7), pkt.DeviceID)
	require.Equal(t, seq, pkt.Seq)
	require.True(t, pkt.Has(protocol.FlagAckRequested))
	require.Equal(t, []byte("hi"), pkt.Payload)

	dev.send(protocol.Header{DeviceID: 7, Type: protocol.TypeUser, Flags: protocol.FlagIsAck, Seq: seq}, nil)

	select {
	case ev := <-delivered:
		require.Same(t, p, ev.Port)
		require.Equal(t, uint16(7), ev.DeviceID)
		require.Equal(t, protocol.TypeUser, ev.Type)
		require.Equal(t, seq, ev.Sequence)
		require.Zero(t, ev.Retries)
	case <-time.After(time.Second):
		t.Fatal("acknowledgement was not reported")
	}

	// Well past several ack timeouts: nothing is resent.
	require.Never(t, func() bool { return len(dev.packets) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Zero(t, p.Stats().DeliveryFailures)
	require.Zero(t, p.Stats().Retries)
}

func TestDuplicatePacketDeliveredOnce(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{})

	var decoded atomic.Int32
	p.Own(p.Events().PacketDecoded.Connect(func(ev PacketEvent) {
		assert.Equal(t, []byte("depth=12.5"), ev.Payload)
		decoded.Add(1)
	}))

	h := protocol.Header{DeviceID: 3, Type: protocol.TypeUser, Flags: protocol.FlagAckRequested, Seq: 40}
	dev.send(h, []byte("depth=12.5"))
	dev.send(h, []byte("depth=12.5"))

	// Both copies are acknowledged so the device stops resending.
	for range 2 {
		ack := dev.next(time.Second)
		require.True(t, ack.Has(protocol.FlagIsAck))
		require.Equal(t, uint16(40), ack.Seq)
	}

	require.Eventually(t, func() bool { return p.Stats().Duplicates == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return decoded.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, int32(1), decoded.Load())
}

func TestDuplicateWithoutAckIsCounted(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{})

	var decoded atomic.Int32
	p.Own(p.Events().PacketDecoded.Connect(func(PacketEvent) { decoded.Add(1) }))

	h := protocol.Header{DeviceID: 3, Type: protocol.TypeUser, Seq: 12}
	dev.send(h, []byte("x"))
	dev.send(h, []byte("x"))

	require.Eventually(t, func() bool { return p.Stats().Duplicates == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(1), p.Stats().PacketsIn)
	require.Eventually(t, func() bool { return decoded.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDeliveryFailedReportedOnce(t *testing.T) {
	opts := testOptions()
	opts.Protocol.MaxRetries = 2
	_, p, dev := openPipePort(t, opts, PortOptions{})

	failed := make(chan DeliveryFailedEvent, 4)
	p.Own(p.Events().DeliveryFailed.Connect(func(ev DeliveryFailedEvent) { failed <- ev }))

	seq, err := p.Send(context.Background(), 9, protocol.TypeUser, []byte("cmd"), true)
	require.NoError(t, err)

	// Original plus two resends, all with the same sequence number.
	for range 3 {
		require.Equal(t, seq, dev.next(time.Second).Seq)
	}

	select {
	case ev := <-failed:
		require.Equal(t, uint16(9), ev.DeviceID)
		require.Equal(t, seq, ev.Sequence)
		require.Equal(t, 2, ev.Retries)
		require.Same(t, p, ev.Port)
	case <-time.After(time.Second):
		t.Fatal("no delivery failure reported")
	}

	require.Never(t, func() bool { return len(failed) > 0 || len(dev.packets) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, uint64(1), p.Stats().DeliveryFailures)
}

func TestCorruptFrameThenRecovery(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{})

	decoded := make(chan PacketEvent, 4)
	errs := make(chan ErrorEvent, 4)
	p.Own(p.Events().PacketDecoded.Connect(func(ev PacketEvent) { decoded <- ev }))
	p.Own(p.Events().Errors.Connect(func(ev ErrorEvent) { errs <- ev }))

	// An escape followed by a byte that is neither FLAG nor ESC once
	// unstuffed.
	require.NoError(t, dev.end.Write([]byte{codec.Flag, 0x01, codec.Esc, 0x55, 0x02, codec.Flag}, transport.Peer{}))
	dev.send(protocol.Header{DeviceID: 4, Type: protocol.TypeUser, Seq: 1}, []byte{0x7E, 0x7D, 0x00})

	select {
	case ev := <-decoded:
		require.Equal(t, uint16(4), ev.Header.DeviceID)
		require.Equal(t, []byte{0x7E, 0x7D, 0x00}, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("frame after corruption was not decoded")
	}

	ev := <-errs
	require.ErrorIs(t, ev.Err, codec.ErrFraming)
	require.Equal(t, uint64(1), p.Stats().FramingErrors)
	require.Empty(t, decoded)
}

func TestTransportFailureKeepsPortRegistered(t *testing.T) {
	m, err := NewManager(testOptions())
	require.NoError(t, err)
	defer m.Close()

	host, far := transport.NewPipe("host", "device")
	p, err := m.AddPort("pipe0", host, PortOptions{})
	require.NoError(t, err)

	states := make(chan StateEvent, 4)
	p.Own(p.Events().StateChanged.Connect(func(ev StateEvent) { states <- ev }))

	far.Close()

	ev := waitState(t, states, StateError)
	require.Error(t, ev.Err)

	require.Equal(t, StateError, p.State())
	got, ok := m.Find("pipe0")
	require.True(t, ok)
	require.Same(t, p, got)

	_, err = p.Send(context.Background(), 1, protocol.TypeUser, nil, false)
	require.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, m.RemovePort(p.ID()))
	waitState(t, states, StateClosed)
	require.Empty(t, m.AllPorts())
}

func TestCloseFromListener(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{})

	closed := make(chan struct{})
	p.Events().PacketDecoded.Connect(func(PacketEvent) {
		assert.NoError(t, p.Close())
		close(closed)
	})

	dev.send(protocol.Header{DeviceID: 1, Type: protocol.TypeUser, Seq: 0}, []byte("bye"))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close from a listener deadlocked")
	}
	require.Equal(t, StateClosed, p.State())
}

func TestCloseWhileListenerRunsOnAnotherGoroutine(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var closedSeen atomic.Bool
	p.Events().PacketDecoded.Connect(func(PacketEvent) {
		close(entered)
		<-release
	})
	p.Events().StateChanged.Connect(func(ev StateEvent) {
		if ev.State == StateClosed {
			closedSeen.Store(true)
		}
	})

	dev.send(protocol.Header{DeviceID: 1, Type: protocol.TypeUser, Seq: 0}, []byte("hold"))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("listener never ran")
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a running listener")
	}
	require.Equal(t, StateClosed, p.State())

	// The final event is still queued behind the running listener.
	select {
	case <-p.Done():
		t.Fatal("Done closed before the running listener returned")
	default:
	}
	require.False(t, closedSeen.Load())

	close(release)
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("queued events were never delivered")
	}
	require.True(t, closedSeen.Load())
}

func TestStateChangesStartAfterOpen(t *testing.T) {
	m, err := NewManager(testOptions())
	require.NoError(t, err)
	defer m.Close()

	host, far := transport.NewPipe("host", "device")
	defer far.Close()
	p, err := m.AddPort("pipe0", host, PortOptions{})
	require.NoError(t, err)
	require.Equal(t, StateOpen, p.State())
	require.Equal(t, "open", p.State().String())

	states := make(chan StateEvent, 4)
	p.Events().StateChanged.Connect(func(ev StateEvent) { states <- ev })

	require.NoError(t, p.Close())
	<-p.Done()

	require.Len(t, states, 1)
	ev := <-states
	require.Equal(t, StateClosed, ev.State)
	require.NoError(t, ev.Err)
}

func TestSentenceTrafficIsNotAFramingError(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{
		Codecs: []codec.Kind{codec.KindStuffing, codec.KindNmea},
	})

	var sentences atomic.Int32
	packets := make(chan PacketEvent, 1)
	p.Own(p.Events().Sentences.Connect(func(ev SentenceEvent) {
		if ev.Err == nil {
			sentences.Add(1)
		}
	}))
	p.Own(p.Events().PacketDecoded.Connect(func(ev PacketEvent) { packets <- ev }))

	body := "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	line := []byte(fmt.Sprintf("$%s*%02X\r\n", body, codec.Checksum([]byte(body))))
	for range 200 {
		require.NoError(t, dev.end.Write(line, transport.Peer{}))
	}
	require.Eventually(t, func() bool { return sentences.Load() == 200 }, 2*time.Second, 5*time.Millisecond)

	dev.send(protocol.Header{DeviceID: 2, Type: protocol.TypeUser, Seq: 1}, []byte("after"))
	select {
	case ev := <-packets:
		require.Equal(t, []byte("after"), ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("packet after sentence traffic was not decoded")
	}
	require.Zero(t, p.Stats().FramingErrors)
}

func TestSentencesAndPacketsOnOnePort(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{
		Codecs: []codec.Kind{codec.KindStuffing, codec.KindNmea},
	})

	sentences := make(chan SentenceEvent, 4)
	packets := make(chan PacketEvent, 4)
	p.Own(p.Events().Sentences.Connect(func(ev SentenceEvent) { sentences <- ev }))
	p.Own(p.Events().PacketDecoded.Connect(func(ev PacketEvent) { packets <- ev }))

	body := "GPHDT,274.07,T"
	require.NoError(t, dev.end.Write([]byte(fmt.Sprintf("$%s*%02X\r\n", body, codec.Checksum([]byte(body)))), transport.Peer{}))
	require.NoError(t, dev.end.Write([]byte("$GPHDT,1.0,T*00\r\n"), transport.Peer{}))
	dev.send(protocol.Header{DeviceID: 2, Type: protocol.TypeUser, Seq: 5}, []byte("ping"))

	ev := <-sentences
	require.NoError(t, ev.Err)
	require.Equal(t, body, ev.Sentence)

	ev = <-sentences
	require.ErrorIs(t, ev.Err, codec.ErrChecksum)

	pkt := <-packets
	require.Equal(t, []byte("ping"), pkt.Payload)
}

func TestSendRoutesToLastPeer(t *testing.T) {
	_, p, dev := openPipePort(t, testOptions(), PortOptions{DefaultPeer: transport.Peer{BaudRate: 4800}})
	host := p.Transport().(*transport.Pipe)

	// No route yet: the default peer applies.
	_, err := p.Send(context.Background(), 6, protocol.TypeUser, []byte("a"), false)
	require.NoError(t, err)
	dev.next(time.Second)
	require.Equal(t, 4800, host.BaudRate())

	// A packet from device 6 teaches the route it arrived on.
	got := make(chan PacketEvent, 1)
	p.Own(p.Events().PacketDecoded.Connect(func(ev PacketEvent) { got <- ev }))
	dev.send(protocol.Header{DeviceID: 6, Type: protocol.TypeUser, Seq: 0}, []byte("b"))
	ev := <-got
	require.Equal(t, "device", ev.Peer.Addr)
}

func TestSendRejectsWhenQueueCannotHoldAllFragments(t *testing.T) {
	opts := testOptions()
	opts.TxQueueSize = 2
	opts.Protocol.MTU = 4
	_, p, _ := openPipePort(t, opts, PortOptions{})

	_, err := p.Send(context.Background(), 1, protocol.TypeUser, make([]byte, 12), false)
	require.ErrorIs(t, err, ErrTxQueueFull)
	require.Zero(t, p.Stats().PacketsOut)
}

func TestTxQueueAcksFirst(t *testing.T) {
	q := newTxQueue(2)
	require.NoError(t, q.push(txFrame{data: []byte("d1")}))
	require.NoError(t, q.push(txFrame{data: []byte("d2")}))
	require.ErrorIs(t, q.push(txFrame{data: []byte("d3")}), ErrTxQueueFull)

	// Acks are never refused for capacity.
	require.NoError(t, q.push(txFrame{data: []byte("a1"), ack: true}))
	require.NoError(t, q.push(txFrame{data: []byte("a2"), ack: true}))

	var order []string
	for {
		f, ok := q.tryPop()
		if !ok {
			break
		}
		order = append(order, string(f.data))
	}
	require.Equal(t, []string{"a1", "a2", "d1", "d2"}, order)

	require.NoError(t, q.push(txFrame{data: []byte("x")}))
	require.Equal(t, 1, q.close())
	require.ErrorIs(t, q.push(txFrame{}), ErrNotOpen)
}

func TestManagerRejectsBadConfig(t *testing.T) {
	m, err := NewManager(testOptions())
	require.NoError(t, err)
	defer m.Close()

	var added atomic.Int32
	m.PortAdded.Connect(func(*Port) { added.Add(1) })

	_, err = m.OpenPort(context.Background(), transport.Config{Name: "gps", Kind: transport.KindSerial}, PortOptions{})
	require.ErrorIs(t, err, transport.ErrConfiguration)
	require.Empty(t, m.AllPorts())
	require.Zero(t, added.Load())

	host, far := transport.NewPipe("host", "device")
	defer far.Close()
	_, err = m.AddPort("gps", host, PortOptions{})
	require.NoError(t, err)

	other, far2 := transport.NewPipe("host", "device")
	defer far2.Close()
	defer other.Close()
	_, err = m.AddPort("gps", other, PortOptions{})
	require.ErrorIs(t, err, ErrNameInUse)
	require.Len(t, m.AllPorts(), 1)
	require.Equal(t, int32(1), added.Load())

	bad := testOptions()
	bad.TickInterval = 0
	_, err = NewManager(bad)
	require.ErrorIs(t, err, transport.ErrConfiguration)
}

func TestManagerCloseClosesPorts(t *testing.T) {
	m, err := NewManager(testOptions())
	require.NoError(t, err)

	var mu sync.Mutex
	var removed []string
	m.PortRemoved.Connect(func(p *Port) {
		mu.Lock()
		removed = append(removed, p.Name())
		mu.Unlock()
	})

	var fars []*transport.Pipe
	for i := range 3 {
		host, far := transport.NewPipe("host", "device")
		fars = append(fars, far)
		_, err := m.AddPort(fmt.Sprintf("p%d", i), host, PortOptions{})
		require.NoError(t, err)
	}
	ports := m.AllPorts()

	require.NoError(t, m.Close())
	for _, p := range ports {
		require.Equal(t, StateClosed, p.State())
	}
	require.Equal(t, []string{"p0", "p1", "p2"}, removed)

	_, err = m.AddPort("late", fars[0], PortOptions{})
	require.ErrorIs(t, err, ErrManagerClosed)

	for _, f := range fars {
		f.Close()
	}
}

func TestSignalingURL(t *testing.T) {
	testCases := []struct {
		raw, pin, want string
	}{
		{"10.0.0.5:8080", "1234", "ws://10.0.0.5:8080/ws?pin=1234"},
		{"ws://bridge.local:9000", "", "ws://bridge.local:9000/ws"},
		{"https://bridge.example.com", "42", "wss://bridge.example.com/ws?pin=42"},
	}
	for _, tc := range testCases {
		got, err := signalingURL(tc.raw, tc.pin)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}
