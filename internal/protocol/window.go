package protocol

// Newer reports whether sequence a is ahead of b, treating the 16-bit space
// as a circle: 0 is newer than 65535.
func Newer(a, b uint16) bool {
	return int16(a-b) > 0
}

// MaxReplayWindow is the largest supported replay window.
const MaxReplayWindow = 64

// replayWindow tracks recently accepted sequence numbers from one source.
// Bit i of seen is set when sequence top-i has been accepted.
type replayWindow struct {
	size  int
	top   uint16
	seen  uint64
	valid bool
}

// fresh reports whether seq has not been accepted yet and is not older than
// the window.
func (w *replayWindow) fresh(seq uint16) bool {
	if !w.valid {
		return true
	}
	d := int(int16(seq - w.top))
	switch {
	case d > 0:
		return true
	case -d >= w.size:
		return false
	default:
		return w.seen&(1<<uint(-d)) == 0
	}
}

// mark records seq as accepted. Callers check fresh first.
func (w *replayWindow) mark(seq uint16) {
	if !w.valid {
		w.top, w.seen, w.valid = seq, 1, true
		return
	}
	d := int(int16(seq - w.top))
	if d > 0 {
		if d >= 64 {
			w.seen = 0
		} else {
			w.seen <<= uint(d)
		}
		w.seen |= 1
		w.top = seq
		return
	}
	if -d < w.size {
		w.seen |= 1 << uint(-d)
	}
}
