package supervisor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/point-one/polaris-go/auth"
	"github.com/point-one/polaris-go/internal/testfake"
	"github.com/point-one/polaris-go/transport"
)

// fakeAuthenticator hands back a fixed token/error and counts calls, so
// tests can assert on how many times the Supervisor re-authenticates.
type fakeAuthenticator struct {
	mu    sync.Mutex
	calls int
	token auth.Token
	err   error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, creds auth.Credentials) (auth.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.token, f.err
}

func (f *fakeAuthenticator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func readControlFrame(t *testing.T, conn net.Conn) (byte, []byte) {
	t.Helper()
	header := make([]byte, 6)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	payloadLen := binary.LittleEndian.Uint16(header[4:6])
	rest := make([]byte, int(payloadLen)+2)
	if _, err := readFull(conn, rest); err != nil {
		t.Fatalf("read payload+checksum: %v", err)
	}
	return header[3], rest[:payloadLen]
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newTestSupervisor(t *testing.T, a tokenAuthenticator, srv *testfake.PipeServer, opts ...Option) *Supervisor {
	t.Helper()
	base := []Option{
		WithAuthenticator(a),
		WithTransportFactory(func() transport.Transport {
			return testfake.NewTransport(srv.Dial, transport.Config{})
		}),
		WithReconnectPause(10 * time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func TestSupervisorHappyPath(t *testing.T) {
	srv := testfake.NewPipeServer()
	fa := &fakeAuthenticator{token: "T"}
	metrics := NewDefaultMetrics()
	sup := newTestSupervisor(t, fa, srv, WithMetrics(metrics))
	sup.SetAPIKey("key", "unique")

	var mu sync.Mutex
	var received []byte
	sup.SetRTCMCallback(func(b []byte) {
		mu.Lock()
		received = append(received, b...)
		mu.Unlock()
	})

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := srv.Accept(context.Background())
		if err != nil {
			return
		}
		defer conn.Close()
		id, payload := readControlFrame(t, conn)
		if id != 1 {
			t.Errorf("message id = %d, want Auth(1)", id)
		}
		if string(payload) != "T" {
			t.Errorf("auth payload = %q, want T", payload)
		}
		conn.Write([]byte{1, 2, 3, 4})
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(2 * time.Second) }()

	time.Sleep(200 * time.Millisecond)
	sup.Disconnect()
	<-serverDone

	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(received, []byte{1, 2, 3, 4}) {
		t.Fatalf("received = %v, want [1 2 3 4]", received)
	}
	if fa.callCount() != 1 {
		t.Fatalf("authenticate calls = %d, want 1", fa.callCount())
	}

	if got := metrics.GetAuthAttemptCount(); got != 1 {
		t.Errorf("auth attempt count = %d, want 1", got)
	}
	if got := metrics.GetConnectAttemptCount(); got != 1 {
		t.Errorf("connect attempt count = %d, want 1", got)
	}
	if got := metrics.GetBytesReceived(); got != 4 {
		t.Errorf("bytes received = %d, want 4", got)
	}
	if got := metrics.GetReconnectCount(); got != 0 {
		t.Errorf("reconnect count = %d, want 0", got)
	}
}

func TestSupervisorAuthForbidden(t *testing.T) {
	srv := testfake.NewPipeServer()
	fa := &fakeAuthenticator{err: auth.ErrForbidden}
	sup := newTestSupervisor(t, fa, srv)
	sup.SetAPIKey("bad-key", "unique")

	err := sup.Run(time.Second)
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if fa.callCount() != 1 {
		t.Fatalf("authenticate calls = %d, want 1 (no retry on Forbidden)", fa.callCount())
	}
}

// TestSupervisorStickyReplayAcrossReconnect verifies that an LLA position
// request set before the first connection is replayed, unprompted, on a
// second connection established after the first is dropped remotely.
func TestSupervisorStickyReplayAcrossReconnect(t *testing.T) {
	srv := testfake.NewPipeServer()
	fa := &fakeAuthenticator{token: "T"}
	sup := newTestSupervisor(t, fa, srv)
	sup.SetAPIKey("key", "unique")
	sup.SendLLAPosition(37.5, -122.3, 10)

	var llaFrames atomic.Int32
	secondConnReady := make(chan struct{})
	go func() {
		for attempt := 1; attempt <= 2; attempt++ {
			conn, err := srv.Accept(context.Background())
			if err != nil {
				return
			}
			readControlFrame(t, conn) // Auth
			id, _ := readControlFrame(t, conn)
			if id == 4 { // LLAPosition
				llaFrames.Add(1)
			}
			if attempt == 1 {
				conn.Close() // drop the first connection to force a reconnect
				continue
			}
			close(secondConnReady)
			// Second connection: hold it open until the test disconnects.
			buf := make([]byte, 64)
			for {
				if _, err := conn.Read(buf); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(2 * time.Second) }()

	select {
	case <-secondConnReady:
	case <-time.After(3 * time.Second):
		t.Fatal("server scenario did not complete")
	}
	sup.Disconnect()
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if llaFrames.Load() != 2 {
		t.Fatalf("lla frames observed = %d, want 2 (initial send + sticky replay)", llaFrames.Load())
	}
}

// TestSupervisorMaxReconnectsTriggersReauth verifies that after more than
// MaxReconnects consecutive failed connection attempts, the Supervisor
// discards its token and re-authenticates.
func TestSupervisorMaxReconnectsTriggersReauth(t *testing.T) {
	srv := testfake.NewPipeServer()
	fa := &fakeAuthenticator{token: "T"}
	sup := newTestSupervisor(t, fa, srv, WithMaxReconnects(1))
	sup.SetAPIKey("key", "unique")

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for attempts.Load() < 3 {
			conn, err := srv.Accept(context.Background())
			if err != nil {
				return
			}
			attempts.Add(1)
			readControlFrame(t, conn) // Auth
			conn.Close()              // reject every attempt
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(2 * time.Second) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("server scenario did not complete")
	}
	sup.Disconnect()
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}

	// 3 failed connects with MaxReconnects=1 forces one re-authentication
	// (after the 2nd failure) in addition to the initial Authenticate call.
	if calls := fa.callCount(); calls < 2 {
		t.Fatalf("authenticate calls = %d, want >= 2", calls)
	}
}

func TestSupervisorDisconnectUnblocksRunAsync(t *testing.T) {
	srv := testfake.NewPipeServer()
	fa := &fakeAuthenticator{token: "T"}
	sup := newTestSupervisor(t, fa, srv)
	sup.SetAPIKey("key", "unique")

	go func() {
		conn, err := srv.Accept(context.Background())
		if err != nil {
			return
		}
		readControlFrame(t, conn)
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	sup.RunAsync(2 * time.Second)
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sup.Disconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not return promptly")
	}
}

func TestSupervisorSetAuthTokenBypassesAuthentication(t *testing.T) {
	srv := testfake.NewPipeServer()
	fa := &fakeAuthenticator{err: errors.New("should not be called")}
	sup := newTestSupervisor(t, fa, srv)
	sup.SetAuthToken("manual-token")

	go func() {
		conn, err := srv.Accept(context.Background())
		if err != nil {
			return
		}
		_, payload := readControlFrame(t, conn)
		if string(payload) != "manual-token" {
			t.Errorf("auth payload = %q, want manual-token", payload)
		}
		conn.Close()
	}()

	// Give the (rejected) connect attempt time to happen, then stop.
	go func() {
		time.Sleep(150 * time.Millisecond)
		sup.Disconnect()
	}()
	sup.Run(time.Second)

	if fa.callCount() != 0 {
		t.Fatalf("authenticate calls = %d, want 0 when a token is set manually", fa.callCount())
	}
}
