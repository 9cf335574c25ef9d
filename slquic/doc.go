// Package slquic carries shared streams over QUIC.
//
// A [Publisher] serves named topics on a connection.
// Each inbound stream names a topic in its header,
// and the topic's [Producer] writes length-prefixed value frames
// until it finishes, fails, or the remote side goes away.
//
// A [Source] is the other end: it implements [sharelatest.Upstream]
// by opening one stream per run.
// Wrapping a Source in a [sharelatest.Share] means that
// any number of local subscribers cost a single remote stream.
//
// [ShareProducer] closes the loop,
// so that a process can relay one share to many remote peers.
package slquic
