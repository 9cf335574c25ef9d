package sharelatest

import "context"

// First subscribes to s and returns the first value it delivers.
//
// The subscription ends as soon as that value arrives.
// If the value was replayed from the buffer,
// the upstream is not run at all on behalf of this call.
//
// First returns [ErrNoValue] if the upstream completes without a value,
// the [*UpstreamError] if it fails,
// or the context's cause if ctx is canceled first.
func First[T any](ctx context.Context, s *Share[T]) (T, error) {
	type result struct {
		val T
		err error
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the kernel never blocks on us.
	ch := make(chan result, 1)

	s.Subscribe(subCtx, Observer[T]{
		OnValue: func(v T) {
			// Canceling synchronously closes the subscription
			// before the kernel decides whether to connect.
			cancel()
			ch <- result{val: v}
		},
		OnComplete: func() {
			ch <- result{err: ErrNoValue}
		},
		OnError: func(err error) {
			ch <- result{err: err}
		},
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	case r := <-ch:
		return r.val, r.err
	}
}

// Collect subscribes to s and returns every value delivered
// until the upstream run completes.
//
// If the upstream fails, Collect returns the values received so far
// along with the [*UpstreamError].
// If ctx is canceled first, Collect unsubscribes and returns
// the values received so far with the context's cause.
func Collect[T any](ctx context.Context, s *Share[T]) ([]T, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var vals []T
	done := make(chan error, 1)

	s.Subscribe(subCtx, Observer[T]{
		OnValue: func(v T) {
			vals = append(vals, v)
		},
		OnComplete: func() {
			done <- nil
		},
		OnError: func(err error) {
			done <- err
		},
	})

	select {
	case <-ctx.Done():
		// Synchronize with the kernel before reading vals.
		cancel()
		if _, err := s.Snapshot(context.WithoutCancel(ctx)); err != nil {
			return nil, context.Cause(ctx)
		}
		return vals, context.Cause(ctx)
	case err := <-done:
		return vals, err
	}
}
