package slpubsub

import (
	"context"
	"sync"
)

// Stream is a linked list of event-driven values.
// The list has a single writer and many readers.
// Readers can each consume the list at their own pace.
//
// If readers do not actively consume the list,
// the node they observe will never be garbage collected,
// which is a memory leak.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an initialized pubsub stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish assigns s's value and initializes s.Next.
// Then s.Ready is closed, notifying any observers that
// s.Val can now be safely read.
//
// If Publish is called twice for the same s, Publish panics.
func (s *Stream[T]) Publish(t T) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
}

// Publisher owns the tail of a [Stream],
// so that callers on any goroutine can publish without
// tracking the current node themselves.
type Publisher[T any] struct {
	mu   sync.Mutex
	tail *Stream[T]
}

// NewPublisher returns a Publisher with a fresh, empty stream.
func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{tail: NewStream[T]()}
}

// Stream returns the current unpublished node.
// A reader starting from the returned node
// observes every value published after this call.
func (p *Publisher[T]) Stream() *Stream[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail
}

// Publish appends t to the stream.
// It is safe for concurrent use.
func (p *Publisher[T]) Publish(t T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tail.Publish(t)
	p.tail = p.tail.Next
}

// FromChannel publishes every value received on ch
// to a new stream, from a background goroutine.
// It lets code that only has a channel drive a stream-based signal,
// such as a share's reset pulses.
//
// The goroutine stops when ctx is canceled or ch is closed,
// and then closes the returned done channel.
func FromChannel[T any](ctx context.Context, ch <-chan T) (
	s *Stream[T], done <-chan struct{},
) {
	p := NewPublisher[T]()
	s = p.Stream()
	doneCh := make(chan struct{})

	go forwardChannel(ctx, ch, p, doneCh)

	return s, doneCh
}

func forwardChannel[T any](
	ctx context.Context,
	ch <-chan T,
	p *Publisher[T],
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case v, ok := <-ch:
			if !ok {
				return
			}
			p.Publish(v)
		}
	}
}
