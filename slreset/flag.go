// Package slreset contains the reset signals that invalidate
// the cached value of a shared stream.
//
// There are two kinds of reset signal.
// A [Flag] is level-triggered: once asserted it stays asserted
// until the share consumes it, which clears the buffer exactly once.
// A pulse stream (a [slpubsub.Stream] of struct{}) is edge-triggered:
// each published value clears the buffer the moment it is observed.
//
// A share accepts at most one of the two.
//
// [slpubsub.Stream]: github.com/gordian-engine/sharelatest/slpubsub.Stream
package slreset

import "sync"

// Flag is a level-triggered reset signal.
//
// The zero value is not usable; create a Flag with [NewFlag].
// A Flag must be given to at most one share,
// because consuming the flag is what clears the assertion.
type Flag struct {
	mu       sync.Mutex
	asserted bool

	// Buffered with capacity one, so Assert never blocks
	// and repeated assertions collapse into one wakeup.
	notify chan struct{}
}

// NewFlag returns a deasserted flag.
func NewFlag() *Flag {
	return &Flag{notify: make(chan struct{}, 1)}
}

// Assert raises the flag.
// Asserting an already asserted flag has no further effect;
// the next consumer clears it once.
func (f *Flag) Assert() {
	f.mu.Lock()
	f.asserted = true
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Asserted reports whether the flag is currently raised.
func (f *Flag) Asserted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.asserted
}

// Consume lowers the flag and reports whether it had been raised.
// Exactly one Consume call observes each assertion.
func (f *Flag) Consume() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	was := f.asserted
	f.asserted = false
	return was
}

// Notify returns a channel that receives a value
// after the flag has been asserted.
// Receiving does not consume the flag; call [*Flag.Consume] for that.
func (f *Flag) Notify() <-chan struct{} {
	return f.notify
}
