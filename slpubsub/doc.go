// Package slpubsub contains types for in-application
// publish-subscribe patterns.
//
// The [Stream] type is a single-writer, many-reader linked list of values.
// sharelatest uses it for edge-triggered reset pulses:
// every value published on the stream is one reset event,
// observed by a kernel loop directly through [Stream.Ready].
package slpubsub
