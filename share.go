package sharelatest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gordian-engine/sharelatest/slmetrics"
)

// Share multicasts one [Upstream] to any number of subscribers,
// caching the latest value for replay.
//
// Create a Share with [New].
type Share[T any] struct {
	log *slog.Logger

	upstream Upstream[T]
	cfg      Config
	metrics  *slmetrics.Metrics

	q *eventQueue[T]

	k *kernel[T]

	// Tracks upstream run goroutines.
	wg sync.WaitGroup

	// Closed when the kernel's main loop returns.
	done chan struct{}
}

// Snapshot is a point-in-time view of a [Share]'s state,
// returned from [*Share.Snapshot].
type Snapshot struct {
	// Number of registered subscribers.
	Subscribers int

	// Whether an upstream run is in progress.
	Connected bool

	// Whether a value is currently replayable.
	Buffered bool

	// Whether the share holds a cache at all.
	// False means the share is idle.
	Cached bool

	// Whether a grace timer is running.
	GracePending bool

	// Number of upstream runs started so far.
	Connects uint64
}

// New returns a new Share for the given upstream.
// The ctx parameter controls the lifecycle of the Share;
// cancel the context to stop the share and any upstream run,
// and then use [*Share.Wait] to block until all background work has completed.
//
// Configuration errors cause a panic
// whose value wraps one or more [MisconfigurationError] values.
func New[T any](ctx context.Context, log *slog.Logger, cfg Config, up Upstream[T]) *Share[T] {
	// Panic if there are any misconfigurations.
	cfg.validate(log)
	if up == nil {
		panic(errors.Join(MisconfigurationError{
			Field:   "upstream",
			Problem: "must not be nil",
		}))
	}

	s := &Share[T]{
		log: log,

		upstream: up,
		cfg:      cfg,
		metrics:  cfg.Metrics,

		q: newEventQueue[T](),

		done: make(chan struct{}),
	}

	s.k = &kernel[T]{
		log: log.With("share_sys", "kernel"),

		s: s,

		lifetime: cfg.BufferLifetime,
		flag:     cfg.ResetFlag,
		pulses:   cfg.ResetPulses,
	}

	go s.k.mainLoop(ctx)

	return s
}

// Subscribe registers obs with the share and returns the subscription handle.
//
// The subscription lasts until [*Subscription.Unsubscribe] is called,
// ctx is canceled, or the upstream run completes or fails.
//
// Subscribe does not block on the kernel.
// If a value is buffered when the kernel processes the subscription,
// that value is delivered to obs before any value the upstream produces later.
// If obs unsubscribes while receiving that replayed value,
// the share does not run the upstream on its behalf.
//
// Subscribing after the share's context is canceled
// returns a subscription that never receives anything.
func (s *Share[T]) Subscribe(ctx context.Context, obs Observer[T]) *Subscription {
	sub := &Subscription{ctx: ctx}
	ks := &subscriber[T]{sub: sub, obs: obs}

	sub.onClose = func() {
		s.q.push(unsubscribeEvent[T]{s: ks})
	}

	stop := context.AfterFunc(ctx, sub.Unsubscribe)
	sub.stopWatch.Store(&stop)

	s.q.push(subscribeEvent[T]{s: ks})

	return sub
}

// Snapshot returns the share's current state,
// after every event queued before the call has been handled.
//
// Snapshot must not be called from an [Observer] callback.
func (s *Share[T]) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	s.q.push(snapshotEvent[T]{resp: resp})

	select {
	case <-ctx.Done():
		return Snapshot{}, context.Cause(ctx)
	case <-s.done:
		return Snapshot{}, ErrStopped
	case snap := <-resp:
		return snap, nil
	}
}

// Wait blocks until the share's kernel and any upstream runs have stopped.
// It only returns after the context passed to [New] is canceled.
func (s *Share[T]) Wait() {
	<-s.done
	s.wg.Wait()
}
