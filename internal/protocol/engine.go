package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the engine's tunables.
type Config struct {
	MTU               int           // largest payload per frame before fragmenting
	AckTimeout        time.Duration // wait before resending an unacknowledged packet
	MaxRetries        int           // resends before a packet is reported failed
	ReplayWindow      int           // accepted sequence history per source, 1..64
	ReassemblyTimeout time.Duration // lifetime of an incomplete fragmented packet
	MaxPartials       int           // concurrent incomplete fragmented packets
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MTU:               1024,
		AckTimeout:        500 * time.Millisecond,
		MaxRetries:        3,
		ReplayWindow:      32,
		ReassemblyTimeout: 2 * time.Second,
		MaxPartials:       16,
	}
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	var errs []error
	if c.MTU < 1 || c.MTU > 0xFFFF {
		errs = append(errs, fmt.Errorf("mtu %d out of range 1..65535", c.MTU))
	}
	if c.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ack timeout must be positive, got %s", c.AckTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.ReplayWindow < 1 || c.ReplayWindow > MaxReplayWindow {
		errs = append(errs, fmt.Errorf("replay window %d out of range 1..%d", c.ReplayWindow, MaxReplayWindow))
	}
	if c.ReassemblyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reassembly timeout must be positive, got %s", c.ReassemblyTimeout))
	}
	if c.MaxPartials < 1 {
		errs = append(errs, fmt.Errorf("max partials must be at least 1, got %d", c.MaxPartials))
	}
	return errors.Join(errs...)
}

// TxItem is one outbound packet, framed later by the port's codec.
type TxItem struct {
	DeviceID    uint16
	Type        uint8
	Seq         uint16
	Bytes       []byte // encoded packet
	IsAck       bool
	AckRequired bool
	Enqueued    time.Time
	Retries     int

	deadline time.Time
}

// Result is what one engine step asks its owner to do.
type Result struct {
	Packets []*Packet // complete packets for listeners
	Acks    []*TxItem // acknowledgements to send ahead of data
	Resend  []*TxItem // packets whose acknowledgement timed out
	Failed  []*TxItem // packets that exhausted their retries
	Acked   []*TxItem // packets the destination acknowledged
	Errors  []error   // non-fatal protocol errors, each wraps ErrProtocol
}

// Empty reports whether the result carries nothing.
func (r *Result) Empty() bool {
	return len(r.Packets) == 0 && len(r.Acks) == 0 && len(r.Resend) == 0 &&
		len(r.Failed) == 0 && len(r.Acked) == 0 && len(r.Errors) == 0
}

// Stats are cumulative engine counters.
type Stats struct {
	PacketsIn      uint64
	PacketsOut     uint64
	AcksIn         uint64
	AcksOut        uint64
	Duplicates     uint64
	Retries        uint64
	Failures       uint64
	ProtocolErrors uint64
}

// Engine implements the packet protocol for one port. It performs no I/O
// and is driven entirely by its owner: Build for outgoing payloads, OnFrame
// for incoming frames and Tick for timeouts. It is goroutine-local and needs
// no locking.
type Engine struct {
	cfg Config

	txSeq   map[uint16]uint16 // next sequence per destination
	rx      map[uint16]*replayWindow
	reasm   *reassembler
	pending []*TxItem // awaiting acknowledgement, oldest first

	stats Stats
}

// NewEngine creates an engine. cfg must pass Validate.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		txSeq: make(map[uint16]uint16),
		rx:    make(map[uint16]*replayWindow),
		reasm: newReassembler(cfg.ReassemblyTimeout, cfg.MaxPartials),
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// ---------------------------------------------------------------------------
// Outgoing
// ---------------------------------------------------------------------------

// Build turns a payload into one or more encoded packets addressed to dst.
// Payloads larger than the MTU are split into fragments carrying consecutive
// sequence numbers. Acknowledgement is never requested for broadcasts.
func (e *Engine) Build(dst uint16, typ uint8, payload []byte, ackRequired bool, now time.Time) ([]*TxItem, error) {
	n := max(1, (len(payload)+e.cfg.MTU-1)/e.cfg.MTU)
	if n > MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes needs %d fragments (max %d)", ErrPayloadTooLarge, len(payload), n, MaxFragments)
	}
	ackRequired = ackRequired && dst != BroadcastID

	items := make([]*TxItem, 0, n)
	for i := range n {
		var flags uint8
		if ackRequired {
			flags |= FlagAckRequested
		}
		if n > 1 {
			flags |= FlagIsFragment
			if i < n-1 {
				flags |= FlagMoreFragments
			}
		}

		chunk := payload[i*e.cfg.MTU : min(len(payload), (i+1)*e.cfg.MTU)]
		seq := e.nextSeq(dst)
		data, err := Encode(&Packet{
			Header: Header{
				DeviceID: dst,
				Type:     typ,
				Flags:    flags,
				Seq:      seq,
				Fragment: uint8(i),
			},
			Payload: chunk,
		})
		if err != nil {
			return nil, err
		}

		item := &TxItem{
			DeviceID:    dst,
			Type:        typ,
			Seq:         seq,
			Bytes:       data,
			AckRequired: ackRequired,
			Enqueued:    now,
			deadline:    now.Add(e.cfg.AckTimeout),
		}
		items = append(items, item)
	}

	for _, item := range items {
		if item.AckRequired {
			e.pending = append(e.pending, item)
		}
	}
	e.stats.PacketsOut += uint64(len(items))
	return items, nil
}

func (e *Engine) nextSeq(dst uint16) uint16 {
	seq := e.txSeq[dst]
	e.txSeq[dst] = seq + 1
	return seq
}

// ---------------------------------------------------------------------------
// Incoming
// ---------------------------------------------------------------------------

// OnFrame processes one frame produced by the codec.
//
// Packets already seen from their source are counted as duplicates and only
// re-acknowledged. A discovery reply is the exception: a device that answers
// discovery with an old sequence number has restarted, so its receive
// history is dropped and the reply is accepted.
func (e *Engine) OnFrame(frame []byte, now time.Time) Result {
	var res Result

	pkt, err := Decode(frame)
	if err != nil {
		e.protocolError(&res, err)
		return res
	}

	if pkt.Has(FlagIsAck) {
		e.onAck(&res, pkt)
		return res
	}

	w := e.window(pkt.DeviceID)
	if !w.fresh(pkt.Seq) {
		if pkt.Type != TypeDiscoverReply {
			e.stats.Duplicates++
			if pkt.Has(FlagAckRequested) {
				e.ack(&res, pkt)
			}
			return res
		}
		e.Forget(pkt.DeviceID)
		w = e.window(pkt.DeviceID)
	}
	w.mark(pkt.Seq)

	if pkt.Has(FlagAckRequested) {
		e.ack(&res, pkt)
	}

	if pkt.Has(FlagIsFragment) {
		whole, err := e.reasm.add(pkt, now)
		if err != nil {
			e.protocolError(&res, err)
		}
		if whole == nil {
			return res
		}
		pkt = whole
	}

	e.stats.PacketsIn++
	res.Packets = append(res.Packets, pkt)
	return res
}

func (e *Engine) window(source uint16) *replayWindow {
	w, ok := e.rx[source]
	if !ok {
		w = &replayWindow{size: e.cfg.ReplayWindow}
		e.rx[source] = w
	}
	return w
}

func (e *Engine) onAck(res *Result, pkt *Packet) {
	for i, item := range e.pending {
		if item.DeviceID == pkt.DeviceID && item.Seq == pkt.Seq {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			e.stats.AcksIn++
			res.Acked = append(res.Acked, item)
			return
		}
	}
	// Late or repeated acknowledgement for something already settled.
	e.stats.Duplicates++
}

func (e *Engine) ack(res *Result, pkt *Packet) {
	data, err := Encode(&Packet{Header: Header{
		DeviceID: pkt.DeviceID,
		Type:     pkt.Type,
		Flags:    FlagIsAck,
		Seq:      pkt.Seq,
		Fragment: pkt.Fragment,
	}})
	if err != nil {
		e.protocolError(res, err)
		return
	}
	e.stats.AcksOut++
	res.Acks = append(res.Acks, &TxItem{
		DeviceID: pkt.DeviceID,
		Type:     pkt.Type,
		Seq:      pkt.Seq,
		Bytes:    data,
		IsAck:    true,
	})
}

func (e *Engine) protocolError(res *Result, err error) {
	e.stats.ProtocolErrors++
	res.Errors = append(res.Errors, err)
}

// ---------------------------------------------------------------------------
// Timers
// ---------------------------------------------------------------------------

// Tick expires stale fragments and schedules resends. Each unacknowledged
// packet is resent at most MaxRetries times; the next timeout after that
// reports it in Result.Failed exactly once and forgets it.
func (e *Engine) Tick(now time.Time) Result {
	var res Result

	for _, err := range e.reasm.expire(now) {
		e.protocolError(&res, err)
	}

	kept := e.pending[:0]
	for _, item := range e.pending {
		if now.Before(item.deadline) {
			kept = append(kept, item)
			continue
		}
		if item.Retries >= e.cfg.MaxRetries {
			e.stats.Failures++
			res.Failed = append(res.Failed, item)
			continue
		}
		item.Retries++
		item.deadline = now.Add(e.cfg.AckTimeout)
		e.stats.Retries++
		res.Resend = append(res.Resend, item)
		kept = append(kept, item)
	}
	clear(e.pending[len(kept):])
	e.pending = kept

	return res
}

// Forget drops receive history and partial packets for one device, for
// example after it rebooted and restarted its sequence numbers.
func (e *Engine) Forget(deviceID uint16) {
	delete(e.rx, deviceID)
	e.reasm.forget(deviceID)
}

// Cancel abandons every packet awaiting acknowledgement and returns them.
// Cancelled packets are not reported as failed.
func (e *Engine) Cancel() []*TxItem {
	items := e.pending
	e.pending = nil
	return items
}

// Pending returns the number of packets awaiting acknowledgement.
func (e *Engine) Pending() int { return len(e.pending) }

// Partials returns the number of incomplete fragmented packets.
func (e *Engine) Partials() int { return e.reasm.len() }

// Stats returns the cumulative counters.
func (e *Engine) Stats() Stats { return e.stats }
