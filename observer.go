package sharelatest

import (
	"context"
	"sync/atomic"
)

// Observer receives values from a [Share].
// Every field is optional.
//
// All callbacks for a share are called from the share's kernel goroutine,
// one at a time, so they must not block.
// Callbacks may call [*Share.Subscribe] and [*Subscription.Unsubscribe];
// they must not call [*Share.Snapshot].
type Observer[T any] struct {
	OnValue func(T)

	// Called once if the upstream run completes while subscribed.
	OnComplete func()

	// Called once with an [*UpstreamError]
	// if the upstream run fails while subscribed.
	OnError func(error)
}

// Subscription is the handle returned from [*Share.Subscribe].
type Subscription struct {
	ctx context.Context

	closed atomic.Bool

	// Stops the context.AfterFunc watching ctx.
	stopWatch atomic.Pointer[func() bool]

	// Informs the kernel that the subscription is gone.
	onClose func()
}

// Unsubscribe ends the subscription.
// It is idempotent and safe to call from any goroutine,
// including from within the subscription's own callbacks.
//
// Once Unsubscribe returns, no further callbacks begin
// for this subscription.
// Canceling the context given to Subscribe has the same effect.
func (s *Subscription) Unsubscribe() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if stop := s.stopWatch.Load(); stop != nil {
		(*stop)()
	}

	s.onClose()
}

// Closed reports whether the subscription has ended,
// through Unsubscribe, context cancellation, or a terminal event.
func (s *Subscription) Closed() bool {
	return s.closed.Load() || s.ctx.Err() != nil
}

// finish marks the subscription closed because of a terminal event.
// It reports false if the subscription was already closed,
// in which case the terminal event must not be delivered.
func (s *Subscription) finish() bool {
	if s.ctx.Err() != nil || !s.closed.CompareAndSwap(false, true) {
		return false
	}

	if stop := s.stopWatch.Load(); stop != nil {
		(*stop)()
	}
	return true
}

// subscriber is the kernel's view of a subscription.
// Only the kernel goroutine touches the non-atomic fields.
type subscriber[T any] struct {
	sub *Subscription
	obs Observer[T]

	slot       uint
	registered bool
}

func (s *subscriber[T]) value(v T) {
	if s.sub.Closed() {
		return
	}
	if s.obs.OnValue != nil {
		s.obs.OnValue(v)
	}
}

func (s *subscriber[T]) complete() {
	if !s.sub.finish() {
		return
	}
	if s.obs.OnComplete != nil {
		s.obs.OnComplete()
	}
}

func (s *subscriber[T]) fail(err error) {
	if !s.sub.finish() {
		return
	}
	if s.obs.OnError != nil {
		s.obs.OnError(err)
	}
}
