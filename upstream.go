package sharelatest

import "context"

// Upstream is a source of values that a [Share] multicasts.
//
// Run produces values by calling emit, zero or more times,
// and returns when the source is finished.
// A nil return means the source completed;
// a non-nil return is a failure that is delivered to current subscribers.
//
// The share cancels ctx to unsubscribe,
// for instance when its last subscriber leaves.
// Whatever Run returns after ctx is canceled is ignored,
// as are any values emitted after that point.
//
// Run may be called any number of times over the life of a share,
// but never concurrently with itself by the same share:
// after a cancellation, the next run starts only once the canceled Run has returned.
// emit is safe to call from any goroutine and never blocks on subscribers.
type Upstream[T any] interface {
	Run(ctx context.Context, emit func(T)) error
}

// UpstreamFunc adapts a plain function to the [Upstream] interface.
type UpstreamFunc[T any] func(ctx context.Context, emit func(T)) error

func (f UpstreamFunc[T]) Run(ctx context.Context, emit func(T)) error {
	return f(ctx, emit)
}
