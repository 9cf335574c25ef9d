// Package sltest contains helpers shared by the sharelatest test suites.
package sltest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// ScaleDuration is the base duration for the "soon" helpers.
// It is generous compared to the work being waited on,
// so that tests stay reliable on slow or heavily loaded machines.
const ScaleDuration = 250 * time.Millisecond

// NewLogger returns a debug-level logger that writes through t.Log,
// so output is only shown for failing or verbose tests.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slogt.New(t, slogt.Factory(func(w io.Writer) slog.Handler {
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}))
}

// ReceiveSoon receives a value from ch, failing the test
// if no value arrives within ScaleDuration.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScaleDuration)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("did not receive value within %s", ScaleDuration)
	}

	var zero T
	return zero
}

// SendSoon sends v on ch, failing the test
// if the send does not complete within ScaleDuration.
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScaleDuration)
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatalf("could not send value within %s", ScaleDuration)
	}
}

// IsSending asserts that ch is ready to be read (or is closed) right now.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
	default:
		t.Fatal("channel was not sending")
	}
}

// NotSending asserts that ch does not deliver a value
// within a short window.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScaleDuration / 10)
	defer timer.Stop()

	select {
	case <-ch:
		t.Fatal("channel should not have been sending")
	case <-timer.C:
	}
}
