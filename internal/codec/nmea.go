package codec

import (
	"bytes"
	"fmt"
	"iter"
)

// Nmea frames ASCII sentences of the form $<body>*HH<CR><LF>, where HH is
// the XOR of the body bytes in upper-case hex.
type Nmea struct {
	max int
	in  input

	buf        []byte // sentence in progress, starting at '$'
	discarding bool
}

func (*Nmea) Kind() Kind { return KindNmea }
func (*Nmea) sealed()    {}

// Checksum returns the XOR of body.
func Checksum(body []byte) byte {
	var cs byte
	for _, b := range body {
		cs ^= b
	}
	return cs
}

// Encode wraps body into a sentence. The body must be printable ASCII and
// must not contain the framing characters.
func (n *Nmea) Encode(body []byte) ([]byte, error) {
	for _, b := range body {
		if b < 0x20 || b > 0x7E || b == '$' || b == '*' {
			return nil, fmt.Errorf("%w: byte 0x%02X not allowed in sentence body", ErrEncode, b)
		}
	}
	if len(body)+6 > n.max {
		return nil, ErrOversized
	}
	return fmt.Appendf(make([]byte, 0, len(body)+6), "$%s*%02X\r\n", body, Checksum(body)), nil
}

func (n *Nmea) Feed(raw []byte) iter.Seq[Frame] {
	n.in.add(raw)
	return n.in.drain(n.step)
}

func (n *Nmea) Reset() {
	n.in = input{}
	n.buf = nil
	n.discarding = false
}

func (n *Nmea) step(b byte) (Frame, bool) {
	if b == '$' {
		// A new start always resynchronizes, dropping any partial sentence.
		n.discarding = false
		n.buf = append(n.buf[:0], b)
		return Frame{}, false
	}
	if n.discarding || len(n.buf) == 0 {
		return Frame{}, false
	}

	if b == '\n' {
		line := n.buf
		n.buf = nil
		return parseSentence(line), true
	}

	if len(n.buf) >= n.max {
		n.buf = n.buf[:0]
		n.discarding = true
		return Frame{Err: ErrOversized}, true
	}
	n.buf = append(n.buf, b)
	return Frame{}, false
}

// parseSentence validates "$body*HH" with an optional trailing '\r'.
func parseSentence(line []byte) Frame {
	line = bytes.TrimSuffix(line[1:], []byte{'\r'})

	star := bytes.LastIndexByte(line, '*')
	if star < 0 || len(line)-star != 3 {
		return Frame{Data: line, Err: ErrMalformed}
	}

	body := line[:star]
	want, ok := parseHexByte(line[star+1:])
	if !ok {
		return Frame{Data: body, Err: ErrMalformed}
	}
	if Checksum(body) != want {
		return Frame{Data: body, Err: ErrChecksum}
	}
	return Frame{Data: body}
}

func parseHexByte(h []byte) (byte, bool) {
	hi, ok1 := hexVal(h[0])
	lo, ok2 := hexVal(h[1])
	return hi<<4 | lo, ok1 && ok2
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// SentenceType returns the last three characters of the address field
// ("GPGGA" -> "GGA"), or "" when the body has no usable address.
func SentenceType(body []byte) string {
	addr, _, _ := bytes.Cut(body, []byte{','})
	if len(addr) < 3 {
		return ""
	}
	return string(addr[len(addr)-3:])
}

// Talker returns the address field without its three-character type
// ("GPGGA" -> "GP"; proprietary "PXXX" sentences return "P").
func Talker(body []byte) string {
	addr, _, _ := bytes.Cut(body, []byte{','})
	if len(addr) > 0 && addr[0] == 'P' {
		return "P"
	}
	if len(addr) < 3 {
		return ""
	}
	return string(addr[:len(addr)-3])
}
