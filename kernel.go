package sharelatest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/sharelatest/slmetrics"
	"github.com/gordian-engine/sharelatest/slpubsub"
	"github.com/gordian-engine/sharelatest/slreplay"
	"github.com/gordian-engine/sharelatest/slreset"
)

// kernel owns all mutable state of a [Share].
// Every field below log and s is only accessed from mainLoop.
type kernel[T any] struct {
	log *slog.Logger

	s *Share[T]

	lifetime time.Duration
	flag     *slreset.Flag
	pulses   *slpubsub.Stream[struct{}]

	// Nil while idle.
	cache *sharedCache[T]

	// Generation of the most recent upstream run.
	gen uint64

	// Incremented every time a grace timer is started or stopped,
	// so that a timer firing concurrently with its cancellation is ignored.
	graceSeq uint64

	// Closed once the most recent run goroutine,
	// and every run goroutine before it, has returned.
	// Nil before the first connect.
	lastRunDone <-chan struct{}
}

var (
	errLastSubscriberLeft = errors.New("last subscriber left")
	errKernelStopped      = errors.New("share kernel stopped")
)

func (k *kernel[T]) mainLoop(ctx context.Context) {
	defer close(k.s.done)

	var flagNotify <-chan struct{}
	if k.flag != nil {
		flagNotify = k.flag.Notify()
	}

	for {
		// A nil pulses stream leaves this channel nil,
		// which blocks forever in the select.
		var pulseReady <-chan struct{}
		if k.pulses != nil {
			pulseReady = k.pulses.Ready
		}

		select {
		case <-ctx.Done():
			k.log.Info(
				"Stopping due to context cancellation",
				"cause", context.Cause(ctx),
			)
			k.shutdown()
			return

		case <-k.s.q.ready:
			for _, e := range k.s.q.drain() {
				k.handleEvent(ctx, e)
			}

		case <-pulseReady:
			k.pulses = k.pulses.Next
			k.handleResetPulse()

		case <-flagNotify:
			k.handleResetFlag()
		}
	}
}

func (k *kernel[T]) handleEvent(ctx context.Context, e event[T]) {
	switch e := e.(type) {
	case subscribeEvent[T]:
		k.handleSubscribe(ctx, e.s)
	case unsubscribeEvent[T]:
		k.handleUnsubscribe(e.s)
	case valueEvent[T]:
		k.handleValue(e.gen, e.val)
	case upstreamDoneEvent[T]:
		k.handleUpstreamDone(e.gen, e.err)
	case graceExpiredEvent[T]:
		k.handleGraceExpired(e.seq)
	case snapshotEvent[T]:
		// Assume the response channel is buffered.
		e.resp <- k.snapshot()
	default:
		panic(fmt.Errorf("BUG: unknown kernel event type %T", e))
	}
}

func (k *kernel[T]) handleSubscribe(ctx context.Context, s *subscriber[T]) {
	if s.sub.Closed() {
		// Unsubscribed before we ever saw it.
		return
	}

	// Level-triggered reset is consumed on every subscribe,
	// whether or not there is anything to clear.
	if k.flag != nil && k.flag.Consume() && k.cache != nil {
		k.cache.buf.Reset()
		k.s.metrics.Reset(slmetrics.ResetModeLevel)
		k.log.Debug("Cleared buffer on subscribe due to asserted reset flag")
	}

	if k.cache == nil {
		k.cache = newSharedCache[T](k.lifetime)
	}
	c := k.cache

	k.stopGrace()

	c.add(s)
	k.s.metrics.SetSubscribers(c.count())

	if v, ok := c.buf.Read(time.Now()); ok {
		k.s.metrics.Replayed()
		s.value(v)
	}

	if s.sub.Closed() {
		// The subscriber only wanted the replayed value.
		// Treat it as never having needed the upstream.
		c.remove(s)
		k.s.metrics.SetSubscribers(c.count())
		if c.count() == 0 {
			k.releaseCache()
		}
		return
	}

	if c.conn == nil {
		k.connect(ctx)
	}
}

func (k *kernel[T]) handleUnsubscribe(s *subscriber[T]) {
	if !s.registered {
		// Already removed, through a terminal event
		// or while receiving its replayed value.
		return
	}

	c := k.cache
	c.remove(s)
	k.s.metrics.SetSubscribers(c.count())

	if c.count() == 0 {
		k.releaseCache()
	}
}

func (k *kernel[T]) handleValue(gen uint64, v T) {
	c := k.cache
	if c == nil || c.conn == nil || c.conn.gen != gen {
		k.log.Debug("Dropping value from stale upstream run", "generation", gen)
		return
	}

	c.buf.Store(v, time.Now())
	k.s.metrics.Relayed()

	c.each(func(s *subscriber[T]) {
		s.value(v)
	})
}

func (k *kernel[T]) handleUpstreamDone(gen uint64, err error) {
	c := k.cache
	if c == nil || c.conn == nil || c.conn.gen != gen {
		// We canceled this run ourselves.
		return
	}

	// The run is over; nothing to cancel,
	// but release the context resources.
	c.conn.cancel(nil)
	c.conn = nil
	k.s.metrics.UpstreamEnded(err)

	subs := c.all()
	for _, s := range subs {
		c.remove(s)
	}
	k.s.metrics.SetSubscribers(0)

	if err == nil {
		k.log.Info(
			"Upstream completed",
			"generation", gen,
			"subscribers", len(subs),
		)
		for _, s := range subs {
			s.complete()
		}
	} else {
		k.log.Info(
			"Upstream failed",
			"generation", gen,
			"subscribers", len(subs),
			"err", err,
		)
		uerr := &UpstreamError{Generation: gen, Err: err}
		for _, s := range subs {
			s.fail(uerr)
		}
	}

	// The buffer deliberately survives the end of the run.
	k.releaseCache()
}

func (k *kernel[T]) handleGraceExpired(seq uint64) {
	c := k.cache
	if c == nil || c.grace == nil || seq != k.graceSeq {
		// Canceled or superseded.
		return
	}

	c.grace = nil
	k.s.metrics.SetGracePending(false)

	if c.count() > 0 {
		panic(errors.New("BUG: grace timer still pending with subscribers present"))
	}

	c.buf.Reset()
	k.cache = nil
	k.s.metrics.Expired()

	k.log.Debug("Grace period expired; discarded cache")
}

func (k *kernel[T]) handleResetPulse() {
	c := k.cache
	if c == nil {
		return
	}

	c.buf.Reset()
	k.s.metrics.Reset(slmetrics.ResetModeEdge)

	if c.count() == 0 {
		// Nothing left worth a grace period.
		k.stopGrace()
		k.cache = nil
	}

	k.log.Debug("Cleared buffer due to reset pulse", "subscribers", c.count())
}

func (k *kernel[T]) handleResetFlag() {
	c := k.cache
	if c == nil || c.conn == nil {
		// Leave the flag asserted;
		// the next subscribe consumes it.
		return
	}

	if !k.flag.Consume() {
		return
	}

	c.buf.Reset()
	k.s.metrics.Reset(slmetrics.ResetModeLevel)
	k.log.Debug("Cleared buffer due to asserted reset flag while connected")
}

// connect starts a new upstream run.
func (k *kernel[T]) connect(ctx context.Context) {
	k.gen++
	gen := k.gen

	// Each run gets a fresh buffer,
	// seeded with the carried-over entry if it is still live.
	c := k.cache
	var seed *slreplay.Entry[T]
	if e, ok := c.buf.Entry(time.Now()); ok {
		seed = &e
	}
	c.buf = slreplay.NewBuffer(k.lifetime, seed)

	runCtx, cancel := context.WithCancelCause(ctx)
	c.conn = &upstreamConn{gen: gen, cancel: cancel}

	k.s.metrics.Connected()
	k.log.Debug("Connecting to upstream", "generation", gen)

	prev := k.lastRunDone
	done := make(chan struct{})
	k.lastRunDone = done

	k.s.wg.Add(1)
	go k.runUpstream(runCtx, gen, prev, done)
}

// runUpstream calls Run for generation gen,
// but only after the previous generation's Run has returned.
// A canceled run may still be tearing down when the next one is requested.
func (k *kernel[T]) runUpstream(
	ctx context.Context, gen uint64, prev <-chan struct{}, done chan<- struct{},
) {
	defer k.s.wg.Done()
	defer close(done)

	q := k.s.q

	if prev != nil {
		select {
		case <-prev:
		default:
			k.log.Debug("Waiting for previous upstream run to return", "generation", gen)
			<-prev
		}
	}

	if ctx.Err() != nil {
		// Released before it ever started.
		q.push(upstreamDoneEvent[T]{gen: gen, err: context.Cause(ctx)})
		return
	}

	err := k.s.upstream.Run(ctx, func(v T) {
		q.push(valueEvent[T]{gen: gen, val: v})
	})

	q.push(upstreamDoneEvent[T]{gen: gen, err: err})
}

// releaseCache handles the share reaching zero subscribers.
// The upstream run is canceled immediately.
// If a value is still replayable, the cache enters its grace period;
// otherwise the share goes idle.
func (k *kernel[T]) releaseCache() {
	c := k.cache

	if c.conn != nil {
		c.conn.cancel(errLastSubscriberLeft)
		c.conn = nil
	}

	if _, ok := c.buf.Read(time.Now()); !ok {
		k.stopGrace()
		k.cache = nil
		return
	}

	if k.lifetime == 0 {
		// Unbounded lifetime: the grace period never ends.
		return
	}

	k.startGrace()
}

func (k *kernel[T]) startGrace() {
	k.stopGrace()

	k.graceSeq++
	seq := k.graceSeq
	q := k.s.q

	k.cache.grace = time.AfterFunc(k.lifetime, func() {
		q.push(graceExpiredEvent[T]{seq: seq})
	})
	k.s.metrics.SetGracePending(true)
}

func (k *kernel[T]) stopGrace() {
	c := k.cache
	if c == nil || c.grace == nil {
		return
	}

	c.grace.Stop()
	c.grace = nil
	k.graceSeq++
	k.s.metrics.SetGracePending(false)
}

func (k *kernel[T]) shutdown() {
	if k.cache == nil {
		return
	}

	k.stopGrace()
	if c := k.cache; c.conn != nil {
		c.conn.cancel(errKernelStopped)
		c.conn = nil
	}
}

func (k *kernel[T]) snapshot() Snapshot {
	snap := Snapshot{Connects: k.gen}

	c := k.cache
	if c == nil {
		return snap
	}

	_, buffered := c.buf.Read(time.Now())

	snap.Cached = true
	snap.Subscribers = c.count()
	snap.Connected = c.conn != nil
	snap.Buffered = buffered
	snap.GracePending = c.grace != nil
	return snap
}
