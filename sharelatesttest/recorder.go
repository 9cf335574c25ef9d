package sharelatesttest

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/sharelatest"
	"github.com/stretchr/testify/require"
)

// Recorder records everything delivered to its [sharelatest.Observer].
type Recorder[T any] struct {
	mu sync.Mutex

	vals      []T
	completed bool
	err       error
}

func NewRecorder[T any]() *Recorder[T] {
	return new(Recorder[T])
}

// Observer returns an observer that records into r.
func (r *Recorder[T]) Observer() sharelatest.Observer[T] {
	return sharelatest.Observer[T]{
		OnValue: func(v T) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.vals = append(r.vals, v)
		},
		OnComplete: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = true
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.err = err
		},
	}
}

// Values returns a copy of the values received so far.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.vals)
}

func (r *Recorder[T]) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// WaitForValues blocks until at least n values have been recorded,
// and returns all recorded values.
func (r *Recorder[T]) WaitForValues(t *testing.T, n int) []T {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(r.Values()) >= n
	}, time.Second, time.Millisecond, "expected at least %d values", n)

	return r.Values()
}

// WaitForCompletion blocks until the recorder observes completion.
func (r *Recorder[T]) WaitForCompletion(t *testing.T) {
	t.Helper()

	require.Eventually(t, r.Completed, time.Second, time.Millisecond)
}

// WaitForErr blocks until the recorder observes an error, and returns it.
func (r *Recorder[T]) WaitForErr(t *testing.T) error {
	t.Helper()

	require.Eventually(t, func() bool {
		return r.Err() != nil
	}, time.Second, time.Millisecond)

	return r.Err()
}
