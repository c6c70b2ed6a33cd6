package protocol

import (
	"fmt"
	"time"
)

// MaxFragments is the number of fragments one packet may be split into.
const MaxFragments = 256

type partialKey struct {
	source uint16
	base   uint16
}

// partial collects the fragments of one packet.
type partial struct {
	header  Header
	parts   [][]byte // indexed by fragment number; nil = missing
	got     int
	last    int // index of the terminal fragment, -1 until seen
	started time.Time
}

// reassembler buffers fragments per (source, sequence base). It is owned by
// the engine and needs no locking.
type reassembler struct {
	timeout    time.Duration
	maxPartial int
	partials   map[partialKey]*partial
}

func newReassembler(timeout time.Duration, maxPartial int) *reassembler {
	return &reassembler{
		timeout:    timeout,
		maxPartial: maxPartial,
		partials:   make(map[partialKey]*partial),
	}
}

// add stores one fragment and returns the whole packet once every fragment
// up to the terminal one is present. When the partial table is full the
// oldest entry is evicted and ErrReassemblyOverflow is returned alongside
// the normal result.
func (r *reassembler) add(pkt *Packet, now time.Time) (*Packet, error) {
	idx := int(pkt.Fragment)
	key := partialKey{source: pkt.DeviceID, base: pkt.Seq - uint16(idx)}

	var evicted error
	p, ok := r.partials[key]
	if !ok {
		if len(r.partials) >= r.maxPartial {
			r.evictOldest()
			evicted = ErrReassemblyOverflow
		}
		p = &partial{header: pkt.Header, last: -1, started: now}
		r.partials[key] = p
	}

	if pkt.Type != p.header.Type {
		delete(r.partials, key)
		return nil, fmt.Errorf("%w: type 0x%02x in packet of type 0x%02x", ErrFragmentConflict, pkt.Type, p.header.Type)
	}

	if !pkt.Has(FlagMoreFragments) {
		if p.last >= 0 && p.last != idx {
			delete(r.partials, key)
			return nil, fmt.Errorf("%w: two terminal fragments (%d, %d)", ErrFragmentConflict, p.last, idx)
		}
		p.last = idx
	}

	if idx >= len(p.parts) {
		p.parts = append(p.parts, make([][]byte, idx+1-len(p.parts))...)
	}
	if p.parts[idx] == nil {
		p.parts[idx] = pkt.Payload
		if p.parts[idx] == nil {
			p.parts[idx] = []byte{}
		}
		p.got++
	}

	if p.last < 0 || p.got != p.last+1 {
		return nil, evicted
	}
	if len(p.parts) > p.last+1 {
		delete(r.partials, key)
		return nil, fmt.Errorf("%w: fragment beyond terminal index %d", ErrFragmentConflict, p.last)
	}

	delete(r.partials, key)

	size := 0
	for _, part := range p.parts {
		size += len(part)
	}
	payload := make([]byte, 0, size)
	for _, part := range p.parts {
		payload = append(payload, part...)
	}

	h := p.header
	h.Seq = key.base
	h.Fragment = 0
	h.Flags &^= FlagIsFragment | FlagMoreFragments
	h.PayloadLen = uint16(min(size, 0xFFFF))
	return &Packet{Header: h, Payload: payload}, evicted
}

// expire drops partial packets older than the timeout, one error each.
func (r *reassembler) expire(now time.Time) []error {
	var errs []error
	for key, p := range r.partials {
		if now.Sub(p.started) >= r.timeout {
			delete(r.partials, key)
			errs = append(errs, fmt.Errorf("%w: device %04x seq %d (%d of %d fragments)",
				ErrReassemblyTimeout, key.source, key.base, p.got, max(p.last+1, len(p.parts))))
		}
	}
	return errs
}

// forget drops every partial packet from source.
func (r *reassembler) forget(source uint16) {
	for key := range r.partials {
		if key.source == source {
			delete(r.partials, key)
		}
	}
}

func (r *reassembler) evictOldest() {
	var oldest partialKey
	var at time.Time
	first := true
	for key, p := range r.partials {
		if first || p.started.Before(at) {
			oldest, at, first = key, p.started, false
		}
	}
	if !first {
		delete(r.partials, oldest)
	}
}

func (r *reassembler) len() int { return len(r.partials) }
