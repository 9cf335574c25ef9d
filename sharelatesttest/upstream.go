// Package sharelatesttest contains test doubles for exercising
// a [sharelatest.Share] from tests.
package sharelatesttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/sharelatest"
	"github.com/stretchr/testify/require"
)

var _ sharelatest.Upstream[int] = (*Upstream[int])(nil)

// Upstream is a controllable [sharelatest.Upstream].
// Values are pushed into the most recent run with [*Upstream.Emit],
// and the run is ended with [*Upstream.Complete] or [*Upstream.Fail].
//
// It also keeps the counters the sharing guarantees are stated in:
// how many runs were started, how many values were produced,
// and the most runs that were ever live at the same time.
type Upstream[T any] struct {
	mu sync.Mutex

	runs []*run[T]

	produced int
	maxLive  int
}

type run[T any] struct {
	ctx  context.Context
	emit func(T)
	end  chan error

	// Guarded by the Upstream's mutex.
	ended    bool
	returned bool
}

// live reports whether the run still accepts values.
// It must be called with the Upstream's mutex held.
func (r *run[T]) live() bool {
	return !r.ended && r.ctx.Err() == nil
}

// NewUpstream returns an Upstream with no runs.
func NewUpstream[T any]() *Upstream[T] {
	return new(Upstream[T])
}

// Run implements [sharelatest.Upstream].
// It blocks until the run is ended by the test or ctx is canceled.
func (u *Upstream[T]) Run(ctx context.Context, emit func(T)) error {
	r := &run[T]{
		ctx:  ctx,
		emit: emit,
		end:  make(chan error, 1),
	}

	u.mu.Lock()
	executing := 1
	for _, other := range u.runs {
		// A canceled run counts until Run has returned.
		if !other.returned {
			executing++
		}
	}
	u.maxLive = max(u.maxLive, executing)
	u.runs = append(u.runs, r)
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		r.returned = true
		u.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case err := <-r.end:
		return err
	}
}

// Runs reports how many times Run has been called.
func (u *Upstream[T]) Runs() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.runs)
}

// Produced reports how many values were successfully emitted.
func (u *Upstream[T]) Produced() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.produced
}

// MaxLive reports the largest number of Run calls that were executing
// at the moment one of them started.
// A canceled run counts as executing until its Run call returns.
func (u *Upstream[T]) MaxLive() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.maxLive
}

// Live reports whether the most recent run is still in progress.
func (u *Upstream[T]) Live() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.runs) == 0 {
		return false
	}
	return u.runs[len(u.runs)-1].live()
}

// Emit produces v on the most recent run.
// It reports false, producing nothing, if there is no live run.
func (u *Upstream[T]) Emit(v T) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.runs) == 0 {
		return false
	}
	r := u.runs[len(u.runs)-1]
	if !r.live() {
		return false
	}

	u.produced++
	r.emit(v)
	return true
}

// Complete ends the most recent run successfully.
func (u *Upstream[T]) Complete() bool {
	return u.end(nil)
}

// Fail ends the most recent run with err.
func (u *Upstream[T]) Fail(err error) bool {
	if err == nil {
		panic(errors.New("BUG: Fail requires a non-nil error"))
	}
	return u.end(err)
}

func (u *Upstream[T]) end(err error) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.runs) == 0 {
		return false
	}
	r := u.runs[len(u.runs)-1]
	if !r.live() {
		return false
	}
	r.ended = true
	r.end <- err
	return true
}

// WaitForRuns blocks until Run has been called at least n times,
// failing the test if that does not happen soon.
func (u *Upstream[T]) WaitForRuns(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return u.Runs() >= n
	}, time.Second, time.Millisecond, "expected at least %d upstream runs", n)
}

// WaitForLive blocks until the most recent run is live,
// and Run has been called at least n times.
func (u *Upstream[T]) WaitForLive(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return u.Runs() >= n && u.Live()
	}, time.Second, time.Millisecond, "expected live upstream run number %d", n)
}
