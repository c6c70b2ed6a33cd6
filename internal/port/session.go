package port

import (
	"slices"
	"time"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// session is the state owned by a port's session goroutine. It is never
// touched from any other goroutine, so it has no locks.
type session struct {
	p      *Port
	engine *protocol.Engine
	routes map[uint16]transport.Peer // last peer each device spoke from

	codecs []codec.Codec
	packet codec.Codec // frames outgoing packets; nil on NMEA-only ports
	nmea   codec.Codec // frames outgoing sentences

	probes []Probe
}

var _ Link = (*session)(nil)

func (s *session) attachCodec(kind codec.Kind, maxFrame int) error {
	for _, c := range s.codecs {
		if c.Kind() == kind {
			return nil
		}
	}

	// The frame limit applies to packet framing; sentences keep their own.
	if kind == codec.KindNmea {
		maxFrame = 0
	}
	c, err := codec.New(kind, maxFrame)
	if err != nil {
		return err
	}
	s.codecs = append(s.codecs, c)

	switch kind {
	case codec.KindNmea:
		s.nmea = c
	default:
		if s.packet == nil {
			s.packet = c
		}
	}
	return nil
}

func (s *session) route(deviceID uint16) transport.Peer {
	if peer, ok := s.routes[deviceID]; ok {
		return peer
	}
	return s.p.defaultPeer
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (s *session) onChunk(c chunk, now time.Time) {
	p := s.p
	p.stats.bytesRecv.Add(uint64(len(c.data)))
	ev := BytesEvent{Port: p, Peer: c.peer, Data: c.data}
	p.emit(func() { p.events.BytesReceived.Emit(ev) })

	for _, cd := range s.codecs {
		for f := range cd.Feed(c.data) {
			if cd.Kind() == codec.KindNmea {
				s.onSentence(f, c.peer)
				continue
			}
			if !f.Valid() {
				s.framingError(f.Err)
				continue
			}
			s.apply(s.engine.OnFrame(f.Data, now), c.peer)
		}
	}
}

func (s *session) onSentence(f codec.Frame, from transport.Peer) {
	p := s.p
	if f.Err != nil {
		s.framingError(f.Err)
		// Failed sentences that still carry a body are surfaced as invalid.
		if len(f.Data) == 0 {
			return
		}
	}

	ev := SentenceEvent{Port: p, Peer: from, Sentence: string(f.Data), Err: f.Err}
	p.emit(func() { p.events.Sentences.Emit(ev) })

	if f.Err != nil {
		return
	}
	for _, pr := range slices.Clone(s.probes) {
		pr.ObserveSentence(f.Data, from, s)
	}
}

func (s *session) framingError(err error) {
	p := s.p
	p.stats.framingErrors.Add(1)
	util.LogDebug("[%s] %v", p.name, err)
	ev := ErrorEvent{Port: p, Err: err}
	p.emit(func() { p.events.Errors.Emit(ev) })
}

// apply carries out an engine result. from is the peer the triggering frame
// arrived on, zero for timer results. Counters are synced even for empty
// results, which still move duplicates and late acks.
func (s *session) apply(res protocol.Result, from transport.Peer) {
	defer s.syncStats()
	if res.Empty() {
		return
	}
	p := s.p

	for _, item := range res.Acks {
		if err := s.queuePacket(item.Bytes, s.replyPeer(item.DeviceID, from), true); err != nil {
			util.LogDebug("[%s] ack to %d dropped: %v", p.name, item.DeviceID, err)
		}
	}

	for _, pkt := range res.Packets {
		if from != (transport.Peer{}) {
			s.routes[pkt.DeviceID] = from
		}
		ev := PacketEvent{Port: p, Peer: from, Header: pkt.Header, Payload: pkt.Payload}
		p.emit(func() { p.events.PacketDecoded.Emit(ev) })

		for _, pr := range slices.Clone(s.probes) {
			pr.ObservePacket(pkt, from, s)
		}
	}

	for _, err := range res.Errors {
		util.LogDebug("[%s] %v", p.name, err)
		ev := ErrorEvent{Port: p, Err: err}
		p.emit(func() { p.events.Errors.Emit(ev) })
	}

	for _, item := range res.Resend {
		// A full queue skips this attempt; the next timeout tries again.
		if err := s.queuePacket(item.Bytes, s.route(item.DeviceID), false); err != nil {
			util.LogDebug("[%s] resend of seq %d skipped: %v", p.name, item.Seq, err)
		}
	}

	for _, item := range res.Failed {
		util.LogWarning("[%s] delivery to device %d failed (seq %d, %d retries)", p.name, item.DeviceID, item.Seq, item.Retries)
		ev := DeliveryFailedEvent{
			Port:     p,
			DeviceID: item.DeviceID,
			Type:     item.Type,
			Sequence: item.Seq,
			Retries:  item.Retries,
		}
		p.emit(func() { p.events.DeliveryFailed.Emit(ev) })
	}

	for _, item := range res.Acked {
		ev := DeliveredEvent{
			Port:     p,
			DeviceID: item.DeviceID,
			Type:     item.Type,
			Sequence: item.Seq,
			Retries:  item.Retries,
		}
		p.emit(func() { p.events.Delivered.Emit(ev) })
	}
}

func (s *session) replyPeer(deviceID uint16, from transport.Peer) transport.Peer {
	if from != (transport.Peer{}) {
		return from
	}
	return s.route(deviceID)
}

func (s *session) syncStats() {
	st := s.engine.Stats()
	c := &s.p.stats
	c.packetsIn.Store(st.PacketsIn)
	c.packetsOut.Store(st.PacketsOut)
	c.protocolErrors.Store(st.ProtocolErrors)
	c.duplicates.Store(st.Duplicates)
	c.retries.Store(st.Retries)
	c.deliveryFailures.Store(st.Failures)
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (s *session) queuePacket(encoded []byte, to transport.Peer, ack bool) error {
	if s.packet == nil {
		return ErrNoPacketCodec
	}
	framed, err := s.packet.Encode(encoded)
	if err != nil {
		return err
	}
	return s.p.txq.push(txFrame{data: framed, peer: to, ack: ack})
}

// sendPacket builds a packet and queues every fragment, or none of them.
func (s *session) sendPacket(dst uint16, typ uint8, payload []byte, ack bool, to transport.Peer) (uint16, error) {
	if s.packet == nil {
		return 0, ErrNoPacketCodec
	}

	mtu := s.engine.Config().MTU
	if need := max(1, (len(payload)+mtu-1)/mtu); s.p.txq.free() < need {
		return 0, ErrTxQueueFull
	}

	items, err := s.engine.Build(dst, typ, payload, ack, time.Now())
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if err := s.queuePacket(item.Bytes, to, false); err != nil {
			return 0, err
		}
	}
	s.syncStats()
	return items[0].Seq, nil
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

func (s *session) onTick(now time.Time) {
	s.apply(s.engine.Tick(now), transport.Peer{})

	for _, pr := range slices.Clone(s.probes) {
		if pr.Tick(now, s) {
			s.detachProbe(pr.Name(), false)
		}
	}
}

func (s *session) shutdown() {
	if n := len(s.engine.Cancel()); n > 0 {
		util.LogDebug("[%s] cancelled %d unacknowledged packets", s.p.name, n)
	}
	for len(s.probes) > 0 {
		s.detachProbe(s.probes[0].Name(), true)
	}
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func (s *session) attachProbe(pr Probe) error {
	if slices.ContainsFunc(s.probes, func(q Probe) bool { return q.Name() == pr.Name() }) {
		return ErrProbeActive
	}
	if pr.Codec() == codec.KindNmea || s.packet == nil {
		if err := s.attachCodec(pr.Codec(), s.p.opts.MaxFrame); err != nil {
			return err
		}
	}
	s.probes = append(s.probes, pr)
	pr.Start(time.Now(), s)
	return nil
}

func (s *session) detachProbe(name string, cancelled bool) bool {
	i := slices.IndexFunc(s.probes, func(q Probe) bool { return q.Name() == name })
	if i < 0 {
		return false
	}
	pr := s.probes[i]
	s.probes = slices.Delete(s.probes, i, i+1)
	pr.Stop(cancelled, s)
	return true
}

// ---------------------------------------------------------------------------
// Link
// ---------------------------------------------------------------------------

func (s *session) Port() *Port { return s.p }

func (s *session) SendPacket(dst uint16, typ uint8, payload []byte, to transport.Peer) error {
	_, err := s.sendPacket(dst, typ, payload, false, s.p.resolvePeer(to))
	return err
}

func (s *session) SendSentence(body []byte, to transport.Peer) error {
	to = s.p.resolvePeer(to)
	if body == nil {
		return s.p.txq.push(txFrame{peer: to})
	}
	if s.nmea == nil {
		c, err := codec.New(codec.KindNmea, 0)
		if err != nil {
			return err
		}
		s.nmea = c
	}
	framed, err := s.nmea.Encode(body)
	if err != nil {
		return err
	}
	return s.p.txq.push(txFrame{data: framed, peer: to})
}

func (s *session) Emit(fn func()) { s.p.emit(fn) }

func (s *session) Meta(from transport.Peer, kind codec.Kind) ConnectionMeta {
	return s.p.Meta(from, kind)
}

func (s *session) PacketCodec() codec.Kind {
	if s.packet == nil {
		return codec.KindStuffing
	}
	return s.packet.Kind()
}
