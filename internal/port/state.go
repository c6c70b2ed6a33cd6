package port

import "fmt"

// State is a port's lifecycle state. A port exists only once its transport
// is open, so Open is the initial state and is never reported as a change.
type State uint32

const (
	StateOpen State = iota
	StateError  // transport failed; the port stays registered until closed
	StateClosed // terminal
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}
