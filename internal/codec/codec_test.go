package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, kind Kind, max int) Codec {
	t.Helper()
	c, err := New(kind, max)
	require.NoError(t, err)
	return c
}

func collect(c Codec, raw []byte) []Frame {
	var frames []Frame
	for f := range c.Feed(raw) {
		frames = append(frames, f)
	}
	return frames
}

func TestStuffingRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
	}{
		{"plain bytes", []byte("hello sonar")},
		{"flag and escape bytes", []byte{0x7E, 0x00, 0x7D, 0x7E, 0x7D, 0x5E}},
		{"single flag", []byte{Flag}},
		{"all byte values", func() []byte {
			b := make([]byte, 256)
			for i := range b {
				b[i] = byte(i)
			}
			return b
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := mustNew(t, KindStuffing, 0)

			wire, err := c.Encode(tc.payload)
			require.NoError(t, err)
			require.Equal(t, 2, bytes.Count(wire, []byte{Flag}), "flag must only appear as delimiter")

			frames := collect(c, wire)
			require.Len(t, frames, 1)
			require.NoError(t, frames[0].Err)
			require.Equal(t, tc.payload, frames[0].Data)
		})
	}
}

func TestStuffingPartialFeeds(t *testing.T) {
	c := mustNew(t, KindStuffing, 0)
	a, _ := c.Encode([]byte{1, 2, Flag, 3})
	b, _ := c.Encode([]byte{4, Esc, 5})
	stream := append(a, b...)

	var got [][]byte
	for i := range stream {
		for f := range c.Feed(stream[i : i+1]) {
			require.NoError(t, f.Err)
			got = append(got, f.Data)
		}
	}

	require.Equal(t, [][]byte{{1, 2, Flag, 3}, {4, Esc, 5}}, got)
}

func TestStuffingEarlyBreakKeepsInput(t *testing.T) {
	c := mustNew(t, KindStuffing, 0)
	a, _ := c.Encode([]byte("one"))
	b, _ := c.Encode([]byte("two"))

	for f := range c.Feed(append(a, b...)) {
		require.Equal(t, "one", string(f.Data))
		break
	}

	frames := collect(c, nil)
	require.Len(t, frames, 1)
	require.Equal(t, "two", string(frames[0].Data))
}

func TestStuffingCorruptEscapeResynchronizes(t *testing.T) {
	c := mustNew(t, KindStuffing, 0)
	bad, _ := c.Encode([]byte{0xAA, Flag, 0xBB})
	good, _ := c.Encode([]byte("next"))

	// Corrupt the stuffed byte that follows the escape.
	idx := bytes.IndexByte(bad, Esc)
	require.Positive(t, idx)
	bad[idx+1] = 0x11

	frames := collect(c, append(bad, good...))
	require.Len(t, frames, 2)
	require.ErrorIs(t, frames[0].Err, ErrBadEscape)
	require.ErrorIs(t, frames[0].Err, ErrFraming)
	require.NoError(t, frames[1].Err)
	require.Equal(t, "next", string(frames[1].Data))
}

func TestStuffingOversizedFrame(t *testing.T) {
	c := mustNew(t, KindStuffing, 8)

	_, err := c.Encode(make([]byte, 9))
	require.ErrorIs(t, err, ErrOversized)

	stream := []byte{Flag}
	stream = append(stream, bytes.Repeat([]byte{0x01}, 20)...)
	stream = append(stream, Flag)
	good, _ := c.Encode([]byte{9, 9})
	stream = append(stream, good...)

	frames := collect(c, stream)
	require.Len(t, frames, 2)
	require.ErrorIs(t, frames[0].Err, ErrOversized)
	require.Equal(t, []byte{9, 9}, frames[1].Data)
}

func TestStuffingGarbageWithoutDelimiterIsBounded(t *testing.T) {
	c := mustNew(t, KindStuffing, 16)
	s := c.(*Stuffing)

	frames := collect(c, append([]byte{Flag}, bytes.Repeat([]byte{0x42}, 1000)...))
	require.Len(t, frames, 1)
	require.ErrorIs(t, frames[0].Err, ErrOversized)
	assert.LessOrEqual(t, len(s.buf), 16)
}

func TestStuffingSkipsBytesBeforeFirstFlag(t *testing.T) {
	c := mustNew(t, KindStuffing, 16)

	text := bytes.Repeat([]byte("$GPHDT,274.07,T*03\r\n"), 50)
	require.Empty(t, collect(c, text))

	good, _ := c.Encode([]byte("ok"))
	frames := collect(c, good)
	require.Len(t, frames, 1)
	require.NoError(t, frames[0].Err)
	require.Equal(t, "ok", string(frames[0].Data))

	// Reset forgets the delimiter, so leading noise is dropped again.
	c.Reset()
	frames = collect(c, append(bytes.Repeat([]byte{0x42}, 40), good...))
	require.Len(t, frames, 1)
	require.Equal(t, "ok", string(frames[0].Data))
}

// ---------------------------------------------------------------------------
// NMEA
// ---------------------------------------------------------------------------

func TestNmeaRoundTrip(t *testing.T) {
	bodies := []string{
		"GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
		"HEHDT,274.07,T",
		"PISLQ",
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			c := mustNew(t, KindNmea, 0)
			wire, err := c.Encode([]byte(body))
			require.NoError(t, err)
			require.True(t, bytes.HasSuffix(wire, []byte("\r\n")))

			frames := collect(c, wire)
			require.Len(t, frames, 1)
			require.NoError(t, frames[0].Err)
			require.Equal(t, body, string(frames[0].Data))
		})
	}
}

func TestNmeaKnownChecksum(t *testing.T) {
	c := mustNew(t, KindNmea, 0)
	wire, err := c.Encode([]byte("GPGLL,4916.45,N,12311.12,W,225444,A"))
	require.NoError(t, err)
	require.Equal(t, "$GPGLL,4916.45,N,12311.12,W,225444,A*31\r\n", string(wire))
}

func TestNmeaEncodeRejectsFramingCharacters(t *testing.T) {
	c := mustNew(t, KindNmea, 0)
	for _, body := range []string{"A$B", "A*B", "A\rB", "A\nB"} {
		_, err := c.Encode([]byte(body))
		require.ErrorIs(t, err, ErrEncode, "body %q", body)
	}
}

func TestNmeaChecksumFailureContinuesStream(t *testing.T) {
	c := mustNew(t, KindNmea, 0)
	good, _ := c.Encode([]byte("HEHDT,274.07,T"))
	stream := "$GPGLL,4916.45,N,12311.12,W,225444,A*00\r\n" + "noise" + string(good)

	frames := collect(c, []byte(stream))
	require.Len(t, frames, 2)
	require.ErrorIs(t, frames[0].Err, ErrChecksum)
	require.Equal(t, "GPGLL,4916.45,N,12311.12,W,225444,A", string(frames[0].Data))
	require.NoError(t, frames[1].Err)
	require.Equal(t, "HEHDT,274.07,T", string(frames[1].Data))
}

func TestNmeaMalformedAndOversized(t *testing.T) {
	c := mustNew(t, KindNmea, 16)

	frames := collect(c, []byte("$GPXYZ\r\n"))
	require.Len(t, frames, 1)
	require.ErrorIs(t, frames[0].Err, ErrMalformed)

	frames = collect(c, []byte("$GPGGA,0123456789012345678901234567890\r\n"))
	require.Len(t, frames, 1)
	require.ErrorIs(t, frames[0].Err, ErrOversized)

	good, err := c.Encode([]byte("GPX"))
	require.NoError(t, err)
	frames = collect(c, good)
	require.Len(t, frames, 1)
	require.NoError(t, frames[0].Err)
}

func TestNmeaRestartOnDollar(t *testing.T) {
	c := mustNew(t, KindNmea, 0)
	good, _ := c.Encode([]byte("GPRMC,1"))

	frames := collect(c, append([]byte("$GPGGA,trunc"), good...))
	require.Len(t, frames, 1)
	require.Equal(t, "GPRMC,1", string(frames[0].Data))
}

func TestSentenceFields(t *testing.T) {
	require.Equal(t, "GGA", SentenceType([]byte("GPGGA,1,2")))
	require.Equal(t, "GP", Talker([]byte("GPGGA,1,2")))
	require.Equal(t, "P", Talker([]byte("PISLQ,1")))
	require.Equal(t, "", SentenceType([]byte("G")))
}

func TestRawFramesEachFeed(t *testing.T) {
	c := mustNew(t, KindRaw, 4)

	frames := collect(c, []byte{1, 2, 3})
	require.Len(t, frames, 1)
	require.Equal(t, []byte{1, 2, 3}, frames[0].Data)

	frames = collect(c, []byte{1, 2, 3, 4, 5})
	require.Len(t, frames, 1)
	require.ErrorIs(t, frames[0].Err, ErrOversized)

	require.Empty(t, collect(c, nil))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("nmea")
	require.NoError(t, err)
	require.Equal(t, KindNmea, k)

	_, err = ParseKind("cobs")
	require.Error(t, err)
}
