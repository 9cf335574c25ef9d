// Package slreplay contains the single-slot replay buffer
// that backs a shared stream.
//
// Unlike a conventional replay buffer,
// a [Buffer] is never cleared by the lifecycle of the stream it serves.
// Completion, failure, and reconnection all leave the stored value in place;
// only [*Buffer.Reset] or discarding the Buffer itself removes it.
package slreplay

import "time"

// Entry is the single value held by a [Buffer],
// along with the time it was stored.
type Entry[T any] struct {
	Value    T
	StoredAt time.Time
}

// Buffer holds at most one [Entry].
//
// Buffer is not safe for concurrent use;
// it is intended to be owned by a single goroutine.
type Buffer[T any] struct {
	entry Entry[T]
	full  bool

	// Zero means entries never expire.
	lifetime time.Duration
}

// NewBuffer returns a Buffer whose entries expire
// lifetime after they were stored.
// A zero lifetime means entries never expire.
//
// If seed is non-nil, the buffer starts out holding *seed;
// this is how a carried-over value survives into a new buffer.
func NewBuffer[T any](lifetime time.Duration, seed *Entry[T]) *Buffer[T] {
	if lifetime < 0 {
		panic("BUG: slreplay.NewBuffer called with negative lifetime")
	}

	b := &Buffer[T]{lifetime: lifetime}
	if seed != nil {
		b.entry = *seed
		b.full = true
	}
	return b
}

// Store overwrites the slot with v, stored at now.
func (b *Buffer[T]) Store(v T, now time.Time) {
	b.entry = Entry[T]{Value: v, StoredAt: now}
	b.full = true
}

// Read returns the stored value and true,
// or the zero value and false if the buffer is empty
// or the stored entry is older than the buffer's lifetime at now.
//
// Read does not modify the buffer, even when the entry has expired.
func (b *Buffer[T]) Read(now time.Time) (T, bool) {
	if !b.live(now) {
		var zero T
		return zero, false
	}
	return b.entry.Value, true
}

// Entry returns a copy of the stored entry, if it is still live at now.
func (b *Buffer[T]) Entry(now time.Time) (Entry[T], bool) {
	if !b.live(now) {
		return Entry[T]{}, false
	}
	return b.entry, true
}

// Reset empties the slot unconditionally.
func (b *Buffer[T]) Reset() {
	b.entry = Entry[T]{}
	b.full = false
}

func (b *Buffer[T]) live(now time.Time) bool {
	if !b.full {
		return false
	}
	if b.lifetime == 0 {
		return true
	}
	return now.Sub(b.entry.StoredAt) <= b.lifetime
}
