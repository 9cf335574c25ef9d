package sharelatest

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/sharelatest/slreplay"
)

// sharedCache is the live multicast state of a [Share].
// It exists while the share is connected or within a grace period;
// a nil cache means the share is idle.
//
// Only the kernel goroutine accesses a sharedCache.
type sharedCache[T any] struct {
	buf *slreplay.Buffer[T]

	// Subscribers indexed by slot.
	// A set bit in slots marks a registered subscriber;
	// freed slots are reused by later subscribers.
	subs  []*subscriber[T]
	slots bitset.BitSet

	// Nil when there is no upstream run.
	conn *upstreamConn

	// Nil when no grace timer is pending.
	grace *time.Timer
}

// upstreamConn is the handle to one upstream run.
type upstreamConn struct {
	gen    uint64
	cancel context.CancelCauseFunc
}

func newSharedCache[T any](lifetime time.Duration) *sharedCache[T] {
	return &sharedCache[T]{
		buf: slreplay.NewBuffer[T](lifetime, nil),
	}
}

func (c *sharedCache[T]) count() int {
	return int(c.slots.Count())
}

func (c *sharedCache[T]) add(s *subscriber[T]) {
	slot, ok := c.slots.NextClear(0)
	if !ok {
		slot = c.slots.Len()
	}

	for uint(len(c.subs)) <= slot {
		c.subs = append(c.subs, nil)
	}

	c.subs[slot] = s
	c.slots.Set(slot)

	s.slot = slot
	s.registered = true
}

func (c *sharedCache[T]) remove(s *subscriber[T]) {
	if !s.registered {
		return
	}

	c.slots.Clear(s.slot)
	c.subs[s.slot] = nil
	s.registered = false
}

// each calls fn for every registered subscriber, in slot order.
// fn must not add or remove subscribers.
func (c *sharedCache[T]) each(fn func(*subscriber[T])) {
	for i, ok := c.slots.NextSet(0); ok; i, ok = c.slots.NextSet(i + 1) {
		fn(c.subs[i])
	}
}

// all returns the registered subscribers, in slot order.
func (c *sharedCache[T]) all() []*subscriber[T] {
	out := make([]*subscriber[T], 0, c.count())
	c.each(func(s *subscriber[T]) {
		out = append(out, s)
	})
	return out
}
