// Package event provides the publish/subscribe primitives shared by every
// other package: Signal for fan-out to listeners, Connection as the removal
// token for one listener, and Queue for handing values between goroutines.
package event

import (
	"sync"
	"sync/atomic"
)

// Signal is an ordered set of listeners for values of type T.
//
// Emissions on one Signal are serialized; listeners run in connection order
// on the emitting goroutine. A listener must not call Emit on the Signal it
// is registered with.
type Signal[T any] struct {
	emitMu sync.Mutex // serializes Emit

	mu    sync.Mutex // guards slots
	slots []*slot[T]
}

type slot[T any] struct {
	fn   func(T)
	live atomic.Bool
}

// Connect registers fn and returns the Connection that removes it.
func (s *Signal[T]) Connect(fn func(T)) *Connection {
	sl := &slot[T]{fn: fn}
	sl.live.Store(true)

	s.mu.Lock()
	s.slots = append(s.slots, sl)
	s.mu.Unlock()

	return &Connection{release: func() {
		sl.live.Store(false)
		s.remove(sl)
	}}
}

// Emit invokes every connected listener with v. The listener set is
// snapshotted first, so a listener may release itself or others while the
// emission is running; released listeners are skipped.
func (s *Signal[T]) Emit(v T) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	snapshot := make([]*slot[T], len(s.slots))
	copy(snapshot, s.slots)
	s.mu.Unlock()

	for _, sl := range snapshot {
		if sl.live.Load() {
			sl.fn(v)
		}
	}
}

// Len returns the number of connected listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Signal[T]) remove(target *slot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sl := range s.slots {
		if sl == target {
			s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Connection
// ---------------------------------------------------------------------------

// Connection owns one listener registration. Release is the only way to
// remove the listener; once it returns no new invocation of the listener
// starts.
type Connection struct {
	once     sync.Once
	released atomic.Bool
	release  func()
}

// Release disconnects the listener. Calling it more than once is a no-op.
func (c *Connection) Release() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.released.Store(true)
		c.release()
	})
}

// Connected reports whether the listener is still registered.
func (c *Connection) Connected() bool {
	return c != nil && !c.released.Load()
}

// Group collects Connections so that an owner can release all of them at
// once, typically from its own Close.
type Group struct {
	mu    sync.Mutex
	conns []*Connection
}

// Add records c and returns it for chaining.
func (g *Group) Add(c *Connection) *Connection {
	g.mu.Lock()
	g.conns = append(g.conns, c)
	g.mu.Unlock()
	return c
}

// Release releases every Connection added so far and empties the group.
func (g *Group) Release() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()

	for _, c := range conns {
		c.Release()
	}
}
