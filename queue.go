package sharelatest

import "sync"

// eventQueue is the kernel's unbounded FIFO.
//
// Producers (subscribers, upstream runs, timers) never block on push,
// which is what allows observer callbacks running on the kernel goroutine
// to subscribe and unsubscribe freely.
type eventQueue[T any] struct {
	mu     sync.Mutex
	events []event[T]

	// Capacity one; a pending signal means the queue may be non-empty.
	ready chan struct{}
}

func newEventQueue[T any]() *eventQueue[T] {
	return &eventQueue[T]{
		ready: make(chan struct{}, 1),
	}
}

func (q *eventQueue[T]) push(e event[T]) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued event, oldest first.
func (q *eventQueue[T]) drain() []event[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.events
	q.events = nil
	return events
}

// event is one unit of work for the kernel.
// The concrete types below are the only implementations.
type event[T any] interface {
	isEvent()
}

type subscribeEvent[T any] struct {
	s *subscriber[T]
}

type unsubscribeEvent[T any] struct {
	s *subscriber[T]
}

// valueEvent is a value emitted by the upstream run with the given generation.
type valueEvent[T any] struct {
	gen uint64
	val T
}

// upstreamDoneEvent is the return of the upstream run with the given generation.
type upstreamDoneEvent[T any] struct {
	gen uint64
	err error
}

type graceExpiredEvent[T any] struct {
	seq uint64
}

type snapshotEvent[T any] struct {
	resp chan<- Snapshot
}

func (subscribeEvent[T]) isEvent()    {}
func (unsubscribeEvent[T]) isEvent()  {}
func (valueEvent[T]) isEvent()        {}
func (upstreamDoneEvent[T]) isEvent() {}
func (graceExpiredEvent[T]) isEvent() {}
func (snapshotEvent[T]) isEvent()     {}
