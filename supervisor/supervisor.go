// Package supervisor implements the high-level Polaris client: it owns
// authentication, the reconnect loop, and replay of the caller's most
// recent position/beacon request across reconnects. It is the Go
// equivalent of the reference client's PolarisClient wrapper, built on top
// of session.Session the way PolarisClient is built on top of
// PolarisInterface.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/point-one/polaris-go/auth"
	"github.com/point-one/polaris-go/session"
	"github.com/point-one/polaris-go/transport"
)

// DefaultEndpointHost and DefaultEndpointPort are the production Polaris
// corrections endpoint, ported from the reference client's
// POLARIS_ENDPOINT_URL / POLARIS_ENDPOINT_PORT.
const (
	DefaultEndpointHost     = "polaris.pointonenav.com"
	DefaultEndpointPort     = 8088
	DefaultMaxReconnects    = 2
	DefaultRunTimeout       = 15 * time.Second
	defaultReconnectBackoff = time.Second
)

// State is the Supervisor's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by Run (RunAsync logs Run's error instead of
// returning it). See spec.md §7.
var (
	ErrForbidden = auth.ErrForbidden
	// ErrAlreadyRunning is returned by Run if a previous Run or RunAsync
	// call on the same Supervisor has not yet returned.
	ErrAlreadyRunning = errors.New("supervisor: already running")
)

// tokenAuthenticator is satisfied by *auth.Authenticator; declared so tests
// can supply a fake without standing up an HTTP server.
type tokenAuthenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (auth.Token, error)
}

// Config holds a Supervisor's runtime settings. Zero value is not usable;
// build one with defaultConfig()/applyConfig, or more simply via New's
// functional options.
type Config struct {
	authenticator  tokenAuthenticator
	newTransport   func() transport.Transport
	endpointHost   string
	endpointPort   int
	maxReconnects  int
	reconnectPause time.Duration
	logger         zerolog.Logger
	metrics        Metrics
}

// Validate checks that cfg describes a usable Supervisor.
func (c *Config) Validate() error {
	if c.endpointHost == "" {
		return fmt.Errorf("%w: empty endpoint host", ErrInvalidConfig)
	}
	if c.endpointPort <= 0 || c.endpointPort > 65535 {
		return fmt.Errorf("%w: endpoint port %d out of range", ErrInvalidConfig, c.endpointPort)
	}
	if c.reconnectPause < 0 {
		return fmt.Errorf("%w: negative reconnect pause", ErrInvalidConfig)
	}
	return nil
}

// defaultConfig returns a Config with library defaults.
func defaultConfig() *Config {
	return &Config{
		endpointHost:   DefaultEndpointHost,
		endpointPort:   DefaultEndpointPort,
		maxReconnects:  DefaultMaxReconnects,
		reconnectPause: defaultReconnectBackoff,
		authenticator:  &auth.Authenticator{},
		logger:         zerolog.Nop(),
		metrics:        noopMetrics{},
		newTransport: func() transport.Transport {
			return transport.NewTCPTransport(transport.Config{})
		},
	}
}

// applyConfig builds a runtime Config by applying opts on top of defaults.
func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// ErrInvalidConfig is returned by Config.Validate (and therefore by Run) if
// the Supervisor was constructed with an unusable setting.
var ErrInvalidConfig = errors.New("supervisor: invalid config")

// Option configures a Supervisor constructed with New.
type Option func(*Config)

// WithEndpoint overrides the corrections endpoint host/port.
func WithEndpoint(host string, port int) Option {
	return func(c *Config) {
		c.endpointHost = host
		c.endpointPort = port
	}
}

// WithMaxReconnects overrides DefaultMaxReconnects. A value <= 0 disables
// the auth-token invalidation behavior: the Supervisor retries forever on
// the same token, matching the reference client's max_reconnect_attempts <
// 0 behavior.
func WithMaxReconnects(n int) Option {
	return func(c *Config) { c.maxReconnects = n }
}

// WithAuthenticator overrides the default auth.Authenticator, mainly for
// tests.
func WithAuthenticator(a tokenAuthenticator) Option {
	return func(c *Config) { c.authenticator = a }
}

// WithTransportFactory overrides how the Supervisor builds a
// transport.Transport for each connection attempt, mainly for tests.
func WithTransportFactory(f func() transport.Transport) Option {
	return func(c *Config) { c.newTransport = f }
}

// WithLogger overrides the package default no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithReconnectPause overrides the pause between failed connection
// attempts. The reference client retries in a tight loop; a small pause
// avoids hammering a down service from a Go goroutine that has no
// equivalent of the original's blocking socket syscalls pacing it.
func WithReconnectPause(d time.Duration) Option {
	return func(c *Config) { c.reconnectPause = d }
}

// NewUniqueID generates a random client identifier suitable for
// Credentials.UniqueID when the caller has no natural one of their own
// (e.g. a device serial number) to supply.
func NewUniqueID() string {
	return uuid.New().String()
}

// Supervisor is the high-level, reconnecting Polaris client. The zero value
// is not usable; construct with New.
type Supervisor struct {
	cfg *Config

	mu            sync.Mutex
	apiKey        string
	uniqueID      string
	token         string
	authValid     bool
	connectCount  int
	sticky        StickyRequest
	callback      session.Sink
	state         State
	running       bool
	sess          *session.Session
	stopRequested bool

	wg sync.WaitGroup
}

// New builds a Supervisor. Call SetAPIKey or SetAuthToken before Run.
func New(opts ...Option) *Supervisor {
	return &Supervisor{cfg: applyConfig(opts), sticky: stickyNone{}}
}

// Metrics returns the Supervisor's metrics collector (a no-op unless
// WithMetrics was passed to New).
func (s *Supervisor) Metrics() Metrics {
	return s.cfg.metrics
}

// State returns the Supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetAPIKey installs credentials to exchange for an access token on the
// next Run. Invalidates any previously-set auth token.
func (s *Supervisor) SetAPIKey(apiKey, uniqueID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = apiKey
	s.uniqueID = uniqueID
	s.authValid = false
}

// SetAuthToken installs a pre-obtained access token directly, bypassing
// authentication entirely. Clears any API key, matching the reference
// client: once a token is set manually there is no key to re-authenticate
// with, so a Supervisor configured this way retries the same token forever
// regardless of WithMaxReconnects.
func (s *Supervisor) SetAuthToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = ""
	s.uniqueID = ""
	s.token = token
	s.authValid = true
}

// SetRTCMCallback installs the sink invoked with each chunk of corrections
// bytes received while connected.
func (s *Supervisor) SetRTCMCallback(cb session.Sink) {
	s.mu.Lock()
	s.callback = cb
	s.mu.Unlock()
}

// SendECEFPosition sets the sticky ECEF position request, sending it
// immediately if currently connected.
func (s *Supervisor) SendECEFPosition(x, y, z float64) {
	s.mu.Lock()
	s.sticky = ECEFPosition{X: x, Y: y, Z: z}
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		_ = sess.SendECEF(x, y, z)
	}
}

// SendLLAPosition sets the sticky geodetic position request, sending it
// immediately if currently connected.
func (s *Supervisor) SendLLAPosition(latDeg, lonDeg, altM float64) {
	s.mu.Lock()
	s.sticky = LLAPosition{LatDeg: latDeg, LonDeg: lonDeg, AltM: altM}
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		_ = sess.SendLLA(latDeg, lonDeg, altM)
	}
}

// RequestBeacon sets the sticky beacon request, sending it immediately if
// currently connected.
func (s *Supervisor) RequestBeacon(id string) {
	s.mu.Lock()
	s.sticky = Beacon{ID: id}
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		_ = sess.RequestBeacon(id)
	}
}

// Run authenticates (if needed), connects, and blocks delivering
// corrections bytes until Disconnect is called or an unrecoverable
// authentication failure occurs (ErrForbidden). readTimeout bounds each
// underlying Session.Run call; a read timeout is treated as a retryable
// connection failure, not a fatal error, matching the reference client.
func (s *Supervisor) Run(readTimeout time.Duration) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if readTimeout <= 0 {
		readTimeout = DefaultRunTimeout
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopRequested = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.connectCount = 0
		s.sticky = stickyNone{}
		s.state = StateStopped
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		stop := s.stopRequested
		authValid := s.authValid
		apiKey := s.apiKey
		uniqueID := s.uniqueID
		s.mu.Unlock()
		if stop {
			return nil
		}

		if !authValid {
			s.setState(StateAuthenticating)
			s.cfg.metrics.IncrementAuthAttempt()
			token, err := s.cfg.authenticator.Authenticate(context.Background(), auth.Credentials{APIKey: apiKey, UniqueID: uniqueID})
			if errors.Is(err, auth.ErrForbidden) {
				s.cfg.metrics.IncrementAuthFailure()
				s.cfg.logger.Error().Msg("authentication rejected: is your API key valid?")
				return fmt.Errorf("supervisor: %w", auth.ErrForbidden)
			} else if err != nil {
				s.cfg.metrics.IncrementAuthFailure()
				s.cfg.logger.Warn().Err(err).Msg("authentication failed, retrying")
				time.Sleep(s.cfg.reconnectPause)
				continue
			}
			s.mu.Lock()
			s.token = string(token)
			s.authValid = true
			s.mu.Unlock()
		}

		s.cfg.logger.Info().Str("host", s.cfg.endpointHost).Int("port", s.cfg.endpointPort).Msg("authenticated, connecting to polaris")

		sess := session.New(s.cfg.newTransport)
		s.mu.Lock()
		sess.SetAuthToken(s.token)
		s.mu.Unlock()
		sess.SetSink(func(b []byte) {
			s.cfg.metrics.IncrementBytesReceived(int64(len(b)))
			s.mu.Lock()
			cb := s.callback
			s.mu.Unlock()
			if cb != nil {
				cb(b)
			}
		})

		s.cfg.metrics.IncrementConnectAttempt()
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		err := sess.ConnectTo(ctx, s.cfg.endpointHost, s.cfg.endpointPort)
		cancel()
		if err != nil {
			s.cfg.logger.Warn().Err(err).Msg("error connecting to polaris corrections stream, retrying")
			s.incrementRetryCount()
			s.setState(StateReconnecting)
			time.Sleep(s.cfg.reconnectPause)
			continue
		}

		s.cfg.logger.Info().Msg("connected to polaris")

		s.mu.Lock()
		s.sess = sess
		sticky := s.sticky
		s.mu.Unlock()
		if err := sticky.replay(sess); err != nil {
			s.cfg.logger.Warn().Err(err).Msg("error resending sticky request, reconnecting")
			sess.Disconnect()
			s.mu.Lock()
			s.sess = nil
			s.mu.Unlock()
			s.incrementRetryCount()
			s.setState(StateReconnecting)
			time.Sleep(s.cfg.reconnectPause)
			continue
		}

		s.setState(StateConnected)
		runErr := sess.Run(readTimeout)

		s.mu.Lock()
		s.sess = nil
		s.mu.Unlock()

		switch {
		case runErr == nil:
			// Disconnect() was called; loop around to check stopRequested.
			continue
		case errors.Is(runErr, session.ErrConnectionClosed):
			// The peer closed normally after delivering data; this is not a
			// failure, so it does not erode the retry budget.
			s.cfg.logger.Warn().Msg("connection terminated remotely, reconnecting")
			s.setState(StateReconnecting)
			continue
		case errors.Is(runErr, session.ErrAuth):
			s.cfg.logger.Warn().Msg("token rejected by corrections service, reconnecting")
		case errors.Is(runErr, session.ErrTimedOut):
			s.cfg.logger.Warn().Msg("connection timed out, reconnecting")
		default:
			s.cfg.logger.Warn().Err(runErr).Msg("unexpected error, reconnecting")
		}

		s.incrementRetryCount()
		s.setState(StateReconnecting)
	}
}

// RunAsync starts Run on a background goroutine. Disconnect joins it.
func (s *Supervisor) RunAsync(readTimeout time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(readTimeout); err != nil {
			s.cfg.logger.Error().Err(err).Msg("supervisor run exited with error")
		}
	}()
}

// Disconnect requests that Run (or RunAsync's goroutine) stop and return,
// joining it if it was started with RunAsync. Disconnect itself does not
// touch the sticky request; Run clears it as it returns, matching the
// reference client's behavior of clearing pending send-requests on
// disconnect.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.stopRequested = true
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		sess.Disconnect()
	}
	s.wg.Wait()
}

// incrementRetryCount mirrors the reference client's retry-budget logic:
// once more than maxReconnects attempts have failed since the last
// successful authentication, the current access token is invalidated and
// the next loop iteration re-authenticates. Has no effect if the
// Supervisor has no API key (a manually-set auth token can't be renewed).
func (s *Supervisor) incrementRetryCount() {
	s.cfg.metrics.IncrementReconnect()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiKey == "" || s.cfg.maxReconnects <= 0 {
		return
	}
	s.connectCount++
	if s.connectCount > s.cfg.maxReconnects {
		s.cfg.logger.Warn().Msg("max reconnects exceeded, clearing access token and retrying authentication")
		s.authValid = false
		s.connectCount = 0
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
