// Package testfake provides in-memory stand-ins for transport.Transport and
// the Polaris corrections TCP endpoint, used by session and supervisor
// tests in place of a real socket.
package testfake

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/point-one/polaris-go/transport"
)

// DialFunc simulates transport.TCPTransport.Connect: given a host and port,
// it produces the client side of a connection (or an error, to simulate a
// connection failure).
type DialFunc func(ctx context.Context, host string, port int) (net.Conn, error)

// Transport is a transport.Transport backed by an arbitrary net.Conn
// obtained from a DialFunc, typically one half of a net.Pipe. It applies
// the same deadline/close semantics as transport.TCPTransport so session
// and supervisor code exercises identical error classification in tests.
type Transport struct {
	dial DialFunc
	cfg  transport.Config

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewTransport builds a fake Transport. If cfg.WriteTimeout is zero,
// transport.DefaultWriteTimeout is used, matching the production default.
func NewTransport(dial DialFunc, cfg transport.Config) *Transport {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = transport.DefaultWriteTimeout
	}
	return &Transport{dial: dial, cfg: cfg}
}

func (t *Transport) Connect(ctx context.Context, host string, port int) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrSocket
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx, host, port)
	if err != nil {
		return errors.Join(transport.ErrSocket, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return transport.ErrSocket
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *Transport) Write(b []byte) (int, error) {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return 0, transport.ErrSend
	}
	if t.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	total := 0
	for total < len(b) {
		n, err := conn.Write(b[total:])
		total += n
		if err != nil {
			return total, errors.Join(transport.ErrSend, err)
		}
	}
	return total, nil
}

func (t *Transport) Read(buf []byte) (int, error) {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed {
		return 0, transport.ErrClosed
	}
	if conn == nil {
		return 0, transport.ErrSocket
	}
	if t.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	}

	n, err := conn.Read(buf)
	if err != nil {
		t.mu.Lock()
		wasClosed := t.closed
		t.mu.Unlock()
		switch {
		case wasClosed:
			return n, transport.ErrClosed
		case errors.Is(err, io.EOF):
			return 0, nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, errors.Join(transport.ErrTimeout, err)
		}
		return n, errors.Join(transport.ErrSocket, err)
	}
	return n, nil
}

// SetReadTimeout updates the deadline applied to subsequent Read calls.
func (t *Transport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.cfg.ReadTimeout = d
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// PipeServer hands out the server half of a net.Pipe for every Connect call
// made against its Dial function, so a test can script one server
// goroutine per (simulated) TCP connection attempt.
type PipeServer struct {
	accept chan net.Conn
}

// NewPipeServer builds a PipeServer. Its Dial method is suitable as a
// testfake.DialFunc; its Accept method mimics net.Listener.Accept.
func NewPipeServer() *PipeServer {
	return &PipeServer{accept: make(chan net.Conn)}
}

// Dial implements DialFunc: it creates a fresh net.Pipe pair, hands the
// server half to the next Accept call, and returns the client half.
func (s *PipeServer) Dial(ctx context.Context, host string, port int) (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case s.accept <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// Accept blocks until a simulated connection attempt is in flight and
// returns the server half of its pipe.
func (s *PipeServer) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case conn := <-s.accept:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
