// Package slquictest provides loopback QUIC connections for tests.
package slquictest

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/gordian-engine/sharelatest/internal/sltest"
	"github.com/gordian-engine/sharelatest/slquic"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

const serverName = "localhost"

// NewPair returns a connected pair of QUIC connections over loopback.
// The client dialed the server;
// the server's certificate is a fresh self-signed ed25519 certificate.
//
// Both connections and the listener are closed during [*testing.T.Cleanup].
func NewPair(t *testing.T, ctx context.Context) (client, server slquic.Conn) {
	t.Helper()

	cert := generateCert(t)

	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{slquic.NextProto},
	}
	clientTLS := &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		NextProtos: []string{slquic.NextProto},
	}

	ln, err := quic.ListenAddr("127.0.0.1:0", serverTLS, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})

	acceptedCh := make(chan *quic.Conn, 1)
	go func() {
		qc, err := ln.Accept(ctx)
		if err != nil {
			t.Error(err)
			acceptedCh <- nil
			return
		}
		acceptedCh <- qc
	}()

	dialed, err := quic.DialAddr(ctx, ln.Addr().String(), clientTLS, nil)
	require.NoError(t, err)

	accepted := sltest.ReceiveSoon(t, acceptedCh)
	require.NotNil(t, accepted)

	t.Cleanup(func() {
		_ = dialed.CloseWithError(0, "")
		_ = accepted.CloseWithError(0, "")
	})

	return slquic.WrapConn(dialed), slquic.WrapConn(accepted)
}

func generateCert(t *testing.T) tls.Certificate {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),

		Subject:   pkix.Name{CommonName: serverName},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,

		DNSNames: []string{serverName},
	}

	der, err := x509.CreateCertificate(nil, template, template, pub, priv)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}
}
