package irq

import "sync/atomic"

// Signal is a single-producer single-consumer ready flag.
// Notify may be called from the GPIO event goroutine; the measurement loop
// receives from C. Notifications that arrive before the previous one is
// consumed are coalesced into one.
type Signal struct {
	ch    chan struct{}
	edges atomic.Uint64
}

// NewSignal creates a cleared signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify sets the flag. It never blocks.
func (s *Signal) Notify() {
	s.edges.Add(1)
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that becomes readable when the flag is set.
// Receiving clears the flag.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// TryTake clears the flag and reports whether it was set.
func (s *Signal) TryTake() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Edges returns the number of notifications seen, including coalesced ones.
func (s *Signal) Edges() uint64 {
	return s.edges.Load()
}
