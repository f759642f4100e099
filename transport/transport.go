// Package transport abstracts the byte-level connection used by a Session:
// connect, read-with-timeout, write, and idempotent close. The production
// implementation is a TLS-wrapped TCP socket; tests substitute
// internal/testfake's net.Pipe-backed fake.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"time"
)

// Sentinel errors returned by Transport methods. Session relies on these to
// classify a failure the way spec.md §7 requires.
var (
	// ErrSocket indicates a connect or read failure unrelated to a timeout
	// or an orderly remote close.
	ErrSocket = errors.New("transport: socket error")
	// ErrSend indicates a write failed, including a write that exceeded the
	// send timeout. Send timeouts are reported as ErrSend, never ErrTimeout,
	// per spec.md §4.2.
	ErrSend = errors.New("transport: send error")
	// ErrTimeout indicates a Read call exceeded its configured deadline
	// without any bytes arriving.
	ErrTimeout = errors.New("transport: read timed out")
	// ErrClosed indicates Close was called, unblocking any in-progress Read.
	ErrClosed = errors.New("transport: closed")
)

// Transport is the narrow interface a Session depends on. There are exactly
// two implementors in this module: TCPTransport (production) and
// internal/testfake.Transport (tests).
type Transport interface {
	// Connect resolves host:port and establishes the underlying connection,
	// configuring read/write deadlines per the Config passed at
	// construction time.
	Connect(ctx context.Context, host string, port int) error

	// Write writes the full buffer or fails with an error wrapping ErrSend.
	// Partial writes are retried internally until complete or an error
	// occurs.
	Write(b []byte) (int, error)

	// Read blocks up to the configured read timeout. It returns a positive n
	// on data, (0, nil) on an orderly remote close, or an error wrapping
	// ErrTimeout (deadline exceeded, no bytes), ErrClosed (a concurrent
	// Close unblocked this Read), or ErrSocket (any other failure).
	Read(buf []byte) (int, error)

	// SetReadTimeout updates the deadline applied to subsequent Read calls,
	// letting Session.Run honor a read timeout chosen after Connect.
	SetReadTimeout(d time.Duration)

	// Close is idempotent. A concurrent Close unblocks an in-progress Read,
	// which then returns an error wrapping ErrClosed.
	Close() error
}

// Config carries the timeouts a Transport.Connect should apply.
type Config struct {
	// ReadTimeout bounds every Read call. Zero means block forever.
	ReadTimeout time.Duration
	// WriteTimeout bounds every Write call. The default (5s) keeps control
	// messages from blocking indefinitely under peer back-pressure.
	WriteTimeout time.Duration
	// TLSConfig overrides the default TLS 1.2+/platform-trust-store dial
	// config. Tests use this to point at a self-signed loopback listener;
	// production callers should leave it nil.
	TLSConfig *tls.Config
}
