// Package codec turns raw byte streams into frames and back. The set of
// framings is closed: Raw, Stuffing (binary, byte-stuffed) and Nmea (ASCII
// sentences with an XOR checksum).
package codec

import (
	"errors"
	"fmt"
	"iter"
)

// Kind enumerates the supported framings.
type Kind uint8

const (
	KindRaw Kind = iota
	KindStuffing
	KindNmea
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindStuffing:
		return "stuffing"
	case KindNmea:
		return "nmea"
	default:
		return fmt.Sprintf("codec(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "raw", "none":
		return KindRaw, nil
	case "stuffing", "binary", "":
		return KindStuffing, nil
	case "nmea":
		return KindNmea, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// Framing errors. All of them wrap ErrFraming.
var (
	ErrFraming   = errors.New("framing error")
	ErrOversized = fmt.Errorf("%w: frame exceeds size limit", ErrFraming)
	ErrBadEscape = fmt.Errorf("%w: invalid escape sequence", ErrFraming)
	ErrChecksum  = fmt.Errorf("%w: checksum mismatch", ErrFraming)
	ErrMalformed = fmt.Errorf("%w: malformed frame", ErrFraming)
	ErrEncode    = fmt.Errorf("%w: payload cannot be encoded", ErrFraming)
)

// Frame is one unit extracted from a stream. Err is non-nil for frames that
// failed validation; Data may still carry what was recovered.
type Frame struct {
	Data []byte
	Err  error
}

// Valid reports whether the frame passed validation.
func (f Frame) Valid() bool { return f.Err == nil }

// Codec frames outgoing payloads and extracts frames from incoming bytes.
// A Codec keeps partial frames between Feed calls and is not safe for
// concurrent use; each port goroutine owns its own instances.
type Codec interface {
	Kind() Kind

	// Encode returns payload wrapped for the wire.
	Encode(payload []byte) ([]byte, error)

	// Feed appends raw to the codec's input and returns the frames it
	// completes. Bytes not consumed because iteration stopped early are kept
	// for the next call.
	Feed(raw []byte) iter.Seq[Frame]

	// Reset drops all buffered state.
	Reset()

	sealed()
}

// Default maximum frame sizes.
const (
	DefaultMaxFrame     = 4096
	DefaultMaxNmeaFrame = 256
)

// New creates a codec of the given kind. A maxFrame of zero selects the
// kind's default.
func New(kind Kind, maxFrame int) (Codec, error) {
	switch kind {
	case KindRaw:
		if maxFrame <= 0 {
			maxFrame = DefaultMaxFrame
		}
		return &Raw{max: maxFrame}, nil
	case KindStuffing:
		if maxFrame <= 0 {
			maxFrame = DefaultMaxFrame
		}
		return &Stuffing{max: maxFrame}, nil
	case KindNmea:
		if maxFrame <= 0 {
			maxFrame = DefaultMaxNmeaFrame
		}
		return &Nmea{max: maxFrame}, nil
	default:
		return nil, fmt.Errorf("unknown codec kind %d", kind)
	}
}

// input is the shared pending-bytes buffer behind Feed.
type input struct {
	pending []byte
}

func (in *input) add(raw []byte) {
	in.pending = append(in.pending, raw...)
}

// drain hands pending bytes to step one at a time and yields every frame
// step completes.
func (in *input) drain(step func(b byte) (Frame, bool)) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for len(in.pending) > 0 {
			b := in.pending[0]
			in.pending = in.pending[1:]
			if len(in.pending) == 0 {
				in.pending = nil
			}

			if f, ok := step(b); ok && !yield(f) {
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Raw
// ---------------------------------------------------------------------------

// Raw treats every Feed call as exactly one frame. It suits datagram
// transports where the transport already delimits messages.
type Raw struct {
	max int
}

func (*Raw) Kind() Kind { return KindRaw }
func (*Raw) Reset()     {}
func (*Raw) sealed()    {}

func (r *Raw) Encode(payload []byte) ([]byte, error) {
	if len(payload) > r.max {
		return nil, ErrOversized
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (r *Raw) Feed(raw []byte) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		switch {
		case len(raw) == 0:
		case len(raw) > r.max:
			yield(Frame{Err: ErrOversized})
		default:
			data := make([]byte, len(raw))
			copy(data, raw)
			yield(Frame{Data: data})
		}
	}
}
