package slquic

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol identifier for shared streams.
// Both sides must include it in their TLS configuration's NextProtos.
const NextProto = "sharelatest/1"

// ApplicationErrorCode is used for [Conn.CloseWithError].
type ApplicationErrorCode uint64

// Conn is the subset of [*quic.Conn] used by this package.
type Conn interface {
	AcceptStream(context.Context) (Stream, error)
	OpenStreamSync(context.Context) (Stream, error)

	CloseWithError(code ApplicationErrorCode, msg string) error

	RemoteAddr() net.Addr
}

var _ Conn = ConnAdapter{}

// ConnAdapter wraps a [*quic.Conn], implementing the [Conn] interface.
//
// Create an instance with [WrapConn].
type ConnAdapter struct {
	qc *quic.Conn
}

// WrapConn wraps the given connection,
// returning a value implementing [Conn].
func WrapConn(qc *quic.Conn) ConnAdapter {
	return ConnAdapter{qc: qc}
}

func (c ConnAdapter) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.qc.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return WrapStream(s), nil
}

func (c ConnAdapter) OpenStreamSync(ctx context.Context) (Stream, error) {
	s, err := c.qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return WrapStream(s), nil
}

func (c ConnAdapter) CloseWithError(code ApplicationErrorCode, msg string) error {
	if (code >> 62) > 0 {
		panic(fmt.Errorf(
			"BUG: application error code must fit in 62 bits (got 0x%x)", code,
		))
	}
	return c.qc.CloseWithError(quic.ApplicationErrorCode(code), msg)
}

func (c ConnAdapter) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }
