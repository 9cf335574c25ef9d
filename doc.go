// Package sharelatest shares one upstream connection among many consumers,
// replaying the most recent value to every consumer that joins.
//
// The central type is [Share].
// A Share wraps an [Upstream] and reference-counts its subscribers.
// The first subscriber causes the upstream to run;
// each value the upstream emits is stored in a single-slot replay buffer
// and then delivered to every current subscriber.
// A subscriber that joins while a value is buffered
// receives that value before anything else.
//
// When the last subscriber leaves, the upstream run is canceled
// but the buffered value is kept for [Config.BufferLifetime]
// (forever, if the lifetime is zero).
// A subscriber that arrives inside that grace period
// receives the buffered value immediately
// and the upstream is run again for subsequent values.
// The buffered value also survives the upstream completing or failing,
// so a late subscriber still sees the last value a finished upstream produced.
//
// The buffer can be invalidated from outside with one of two reset signals;
// see [Config.ResetFlag] and [Config.ResetPulses].
//
// All state transitions and all observer callbacks
// happen on a single goroutine owned by the Share.
// Values emitted by the upstream are queued to that goroutine,
// never delivered inline with the emit call.
package sharelatest
