// Package notify provides broadcast notification primitives.
//
// store-bundle uses a single Signal to wake every caller blocked on
// "has anything in this bundle changed" without tracking which stores
// or tuples they actually care about — a subscriber that wants finer
// granularity than "wake up and re-check" belongs on subscriber.Bus
// instead.
package notify

import "sync"

// Signal is a broadcast notification mechanism. Callers wait on C(),
// and any call to Notify() wakes all waiters by closing the channel
// and creating a fresh one.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters. store-bundle calls this once per
// non-empty batch of chunk-store events (an insert or a GC sweep that
// actually produced events), not once per row, so a waiter woken by
// C() should re-read whatever state it cares about rather than assume
// a single change occurred.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// C returns a channel that is closed on the next Notify() call.
// Callers should re-call C() after each wakeup to get the next channel.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}
