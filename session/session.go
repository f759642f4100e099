// Package session implements the low-level Polaris client: it issues an
// authentication frame on connect, sends control messages, reads inbound
// correction bytes, and hands each chunk to a caller-supplied sink. A
// Session tracks exactly one logical connection from open to close; the
// Supervisor package drives reconnection across many Sessions' worth of
// attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/point-one/polaris-go/codec"
	"github.com/point-one/polaris-go/transport"
)

// BufferSize is the receive buffer size: large enough to typically carry
// one complete maximum-sized RTCM 3 message (6-byte header/CRC + 1023-byte
// payload), ported from the original client's POLARIS_BUFFER_SIZE. Reads
// are not aligned to RTCM framing, so a single Read is not guaranteed to
// contain a whole message or only one message.
const BufferSize = 1029

// ConnectionState is a Session's lifecycle state.
type ConnectionState int32

const (
	StateClosed ConnectionState = iota
	StateConnecting
	StateOpen
	StateDraining
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Sentinel errors. See spec.md §7 for the authoritative classification.
var (
	ErrSocket           = errors.New("session: socket error")
	ErrSend             = errors.New("session: send error")
	ErrAuth             = errors.New("session: authentication rejected by service")
	ErrNotOpen          = errors.New("session: not open")
	ErrNotEnoughSpace   = codec.ErrNotEnoughSpace
	ErrTimedOut         = errors.New("session: timed out waiting for data")
	ErrConnectionClosed = errors.New("session: connection closed by remote")
)

// Sink receives a chunk of opaque corrections bytes. It is invoked
// synchronously, strictly in receive order, only from the goroutine
// running Run.
type Sink func(data []byte)

// NewTransport builds a fresh transport.Transport for one connection
// attempt. Session calls it once per ConnectTo so that each attempt starts
// with a clean Transport, matching "Session exclusively owns a Transport"
// (one at a time, not one for the Session's whole lifetime).
type NewTransport func() transport.Transport

// Session is the low-level Polaris client for a single logical connection.
// Control-send methods may be called concurrently with Run; they serialise
// internally on the write path. The sink is only ever invoked from the
// goroutine running Run.
type Session struct {
	newTransport NewTransport

	state atomic.Int32

	// writeMu guards the write half: the live transport reference plus
	// every control-frame send. It is the only lock Run and the send
	// methods both take, kept deliberately small so sends never block on
	// sink work.
	writeMu   sync.Mutex
	transport transport.Transport
	token     string

	sinkMu sync.Mutex
	sink   Sink
}

// New builds a Session. newTransport is called once per connection attempt
// to obtain a fresh transport.Transport.
func New(newTransport NewTransport) *Session {
	s := &Session{newTransport: newTransport}
	s.state.Store(int32(StateClosed))
	return s
}

// State returns the Session's current lifecycle state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// SetAuthToken updates the token used on the next ConnectTo. It has no
// effect on an already-open session.
func (s *Session) SetAuthToken(token string) {
	s.writeMu.Lock()
	s.token = token
	s.writeMu.Unlock()
}

// SetSink installs the corrections sink.
func (s *Session) SetSink(sink Sink) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
}

// ConnectTo opens a fresh Transport, sends an Auth frame carrying the
// current token, and transitions to Open. It does not wait to see how the
// service responds to the token: a service that rejects it closes the
// connection without ever sending corrections bytes, which Run detects and
// reports as ErrAuth the moment that close is observed.
func (s *Session) ConnectTo(ctx context.Context, host string, port int) error {
	s.state.Store(int32(StateConnecting))

	tr := s.newTransport()
	if err := tr.Connect(ctx, host, port); err != nil {
		s.state.Store(int32(StateClosed))
		return fmt.Errorf("%w: %v", ErrSocket, err)
	}

	s.writeMu.Lock()
	authFrame, err := codec.EncodeAuth(codec.AuthMessage{Token: s.token})
	if err != nil {
		s.writeMu.Unlock()
		tr.Close()
		s.state.Store(int32(StateClosed))
		return fmt.Errorf("%w: %v", ErrNotEnoughSpace, err)
	}
	if _, err := tr.Write(authFrame); err != nil {
		s.writeMu.Unlock()
		tr.Close()
		s.state.Store(int32(StateClosed))
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	s.transport = tr
	s.writeMu.Unlock()

	s.state.Store(int32(StateOpen))
	return nil
}

func (s *Session) sendFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.transport == nil {
		return ErrNotOpen
	}
	if ConnectionState(s.state.Load()) != StateOpen {
		return ErrNotOpen
	}
	if _, err := s.transport.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

// SendECEF encodes and sends an ECEFPosition control frame.
func (s *Session) SendECEF(x, y, z float64) error {
	frame, _ := codec.EncodeECEFPosition(codec.ECEFPositionMessage{XMeters: x, YMeters: y, ZMeters: z})
	return s.sendFrame(frame)
}

// SendLLA encodes and sends an LLAPosition control frame.
func (s *Session) SendLLA(lat, lon, alt float64) error {
	frame, _ := codec.EncodeLLAPosition(codec.LLAPositionMessage{LatDeg: lat, LonDeg: lon, AltMeters: alt})
	return s.sendFrame(frame)
}

// RequestBeacon encodes and sends a Beacon control frame.
func (s *Session) RequestBeacon(id string) error {
	frame, err := codec.EncodeBeacon(codec.BeaconMessage{ID: id})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotEnoughSpace, err)
	}
	return s.sendFrame(frame)
}

// Run is the blocking receive loop. It reads into a BufferSize buffer,
// invokes the sink with each chunk, and repeats until Disconnect is called
// (returns nil), the remote closes the connection in an orderly fashion
// after having sent at least some corrections bytes (ErrConnectionClosed),
// the remote closes the connection without ever sending anything since
// ConnectTo (ErrAuth: the token was rejected), a single read exceeds
// timeout without any bytes (ErrTimedOut), or any other read failure
// occurs (ErrSocket). At most one Run may be in flight per Session.
func (s *Session) Run(timeout time.Duration) error {
	s.writeMu.Lock()
	tr := s.transport
	s.writeMu.Unlock()

	if tr == nil {
		return ErrNotOpen
	}
	tr.SetReadTimeout(timeout)

	buf := make([]byte, BufferSize)
	received := false
	for {
		n, err := tr.Read(buf)
		switch {
		case errors.Is(err, transport.ErrClosed):
			s.state.Store(int32(StateClosed))
			return nil
		case errors.Is(err, transport.ErrTimeout):
			return ErrTimedOut
		case err != nil:
			return fmt.Errorf("%w: %v", ErrSocket, err)
		case n == 0:
			if !received {
				return ErrAuth
			}
			return ErrConnectionClosed
		default:
			received = true
			s.deliver(buf[:n])
		}
	}
}

func (s *Session) deliver(chunk []byte) {
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	if sink != nil {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		sink(cp)
	}
}

// Disconnect transitions to Draining and closes the Transport, which
// unblocks Run. Idempotent; safe to call from any goroutine.
func (s *Session) Disconnect() {
	s.state.Store(int32(StateDraining))
	s.writeMu.Lock()
	tr := s.transport
	s.writeMu.Unlock()
	if tr != nil {
		tr.Close()
	}
	s.state.Store(int32(StateClosed))
}
