package sharelatest

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gordian-engine/sharelatest/slmetrics"
	"github.com/gordian-engine/sharelatest/slpubsub"
	"github.com/gordian-engine/sharelatest/slreset"
)

// Config is the configuration for a [Share].
type Config struct {
	// How long a value stays replayable.
	//
	// This bounds two things.
	// A buffered value is not replayed once it is older than BufferLifetime,
	// measured from when the upstream produced it.
	// And after the last subscriber leaves,
	// the share waits BufferLifetime before discarding its cache entirely.
	//
	// Zero means unbounded:
	// the buffered value never expires and the cache is kept indefinitely.
	// The upstream run is still canceled as soon as the last subscriber leaves.
	//
	// Negative values are invalid.
	BufferLifetime time.Duration

	// Level-triggered reset signal.
	// While the flag is asserted, the next subscribe
	// (or the share itself, if it is currently connected)
	// consumes the assertion and clears the buffer.
	//
	// Mutually exclusive with ResetPulses.
	ResetFlag *slreset.Flag

	// Edge-triggered reset signal.
	// Each value published on this stream clears the buffer immediately,
	// regardless of the number of subscribers.
	// Live subscribers are not affected beyond losing the cached value.
	// Use [slpubsub.FromChannel] to drive pulses from a channel.
	//
	// Mutually exclusive with ResetFlag.
	ResetPulses *slpubsub.Stream[struct{}]

	// Optional instrumentation.
	Metrics *slmetrics.Metrics
}

// validate panics if there are any illegal settings in the configuration.
// It also warns about any suspect settings.
func (c Config) validate(log *slog.Logger) {
	// Collect every problem so the panic is maximally helpful.
	var panicErrs error

	if c.BufferLifetime < 0 {
		panicErrs = errors.Join(panicErrs, MisconfigurationError{
			Field:   "Config.BufferLifetime",
			Problem: "must not be negative; use zero for an unbounded lifetime",
		})
	}

	if c.ResetFlag != nil && c.ResetPulses != nil {
		panicErrs = errors.Join(panicErrs, MisconfigurationError{
			Field:   "Config.ResetFlag",
			Problem: "must not be combined with Config.ResetPulses; choose one reset mode",
		})
	}

	if c.BufferLifetime > 0 && c.BufferLifetime < time.Millisecond {
		log.Warn(
			"Buffer lifetime is below one millisecond; cached values will rarely be replayed",
			"buffer_lifetime", c.BufferLifetime,
		)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}
