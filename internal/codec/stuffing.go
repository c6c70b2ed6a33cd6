package codec

import "iter"

// Byte-stuffing constants. Frames travel as FLAG body FLAG; inside the body
// FLAG and ESC are sent as ESC followed by the byte XOR escXor.
const (
	Flag   byte = 0x7E
	Esc    byte = 0x7D
	escXor byte = 0x20
)

// Stuffing is the binary frame codec.
type Stuffing struct {
	max int
	in  input

	buf        []byte
	escaped    bool
	synced     bool // a Flag has been seen since the last Reset
	discarding bool // dropping bytes until the next Flag after an error
}

func (*Stuffing) Kind() Kind { return KindStuffing }
func (*Stuffing) sealed()    {}

// Encode stuffs payload and surrounds it with flags.
func (s *Stuffing) Encode(payload []byte) ([]byte, error) {
	if len(payload) > s.max {
		return nil, ErrOversized
	}

	out := make([]byte, 0, len(payload)+len(payload)/16+2)
	out = append(out, Flag)
	for _, b := range payload {
		if b == Flag || b == Esc {
			out = append(out, Esc, b^escXor)
			continue
		}
		out = append(out, b)
	}
	return append(out, Flag), nil
}

func (s *Stuffing) Feed(raw []byte) iter.Seq[Frame] {
	s.in.add(raw)
	return s.in.drain(s.step)
}

func (s *Stuffing) Reset() {
	s.in = input{}
	s.buf = nil
	s.escaped = false
	s.synced = false
	s.discarding = false
}

// step consumes one byte. Bytes ahead of the first Flag are line noise or
// another protocol sharing the link and are dropped without an error.
func (s *Stuffing) step(b byte) (Frame, bool) {
	if !s.synced {
		s.synced = b == Flag
		return Frame{}, false
	}

	if b == Flag {
		if s.discarding {
			s.discarding = false
			s.clear()
			return Frame{}, false
		}
		if s.escaped {
			s.clear()
			return Frame{Err: ErrBadEscape}, true
		}
		if len(s.buf) == 0 {
			return Frame{}, false
		}
		data := s.buf
		s.buf = nil
		return Frame{Data: data}, true
	}

	if s.discarding {
		return Frame{}, false
	}

	if b == Esc {
		if s.escaped {
			return s.fail(ErrBadEscape)
		}
		s.escaped = true
		return Frame{}, false
	}

	if s.escaped {
		s.escaped = false
		b ^= escXor
		if b != Flag && b != Esc {
			return s.fail(ErrBadEscape)
		}
	}

	if len(s.buf) >= s.max {
		return s.fail(ErrOversized)
	}
	s.buf = append(s.buf, b)
	return Frame{}, false
}

// fail drops the frame in progress and skips input up to the next Flag.
func (s *Stuffing) fail(err error) (Frame, bool) {
	s.clear()
	s.discarding = true
	return Frame{Err: err}, true
}

func (s *Stuffing) clear() {
	s.buf = s.buf[:0]
	s.escaped = false
}
