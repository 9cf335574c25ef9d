package sharelatest

import "errors"

// ErrNoValue is returned from [First] when the share's upstream
// completes before any value is available.
var ErrNoValue = errors.New("stream completed without a value")

// ErrStopped is returned from [*Share.Snapshot]
// once the share's context has been canceled.
var ErrStopped = errors.New("share stopped")

// UpstreamError is delivered to [Observer.OnError]
// when an upstream run fails.
// The error is delivered once to each subscriber present at the time,
// and is never replayed to later subscribers.
type UpstreamError struct {
	// Which upstream run failed.
	// Every connection the share opens has a new generation number.
	Generation uint64

	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// MisconfigurationError describes one invalid setting in a [Config].
// [New] panics with all misconfigurations joined by [errors.Join],
// so use [errors.As] to inspect them.
type MisconfigurationError struct {
	Field   string
	Problem string
}

func (e MisconfigurationError) Error() string {
	return "invalid " + e.Field + ": " + e.Problem
}
