// Package polaris is a client library for Point One Navigation's Polaris
// GNSS corrections-distribution service. It authenticates with an API key
// or a pre-obtained access token, opens a TLS connection to the
// corrections stream, and delivers the RTCM correction bytes to a
// caller-supplied callback, transparently reconnecting (and re-sending the
// caller's last position or beacon request) as the link drops.
//
// Most programs only need this package: New, SetAPIKey or SetAuthToken,
// SetRTCMCallback, one of SendECEFPosition/SendLLAPosition/RequestBeacon,
// and Run or RunAsync. The codec, transport, auth, and session
// subpackages are exported for callers building a custom transport or
// wire-level integration; supervisor is re-exported here under its own
// names for convenience.
package polaris

import (
	"github.com/point-one/polaris-go/session"
	"github.com/point-one/polaris-go/supervisor"
)

// Supervisor is the reconnecting, high-level Polaris client. See
// supervisor.Supervisor.
type Supervisor = supervisor.Supervisor

// Option configures a Supervisor built with New. See supervisor.Option.
type Option = supervisor.Option

// State is a Supervisor's lifecycle state. See supervisor.State.
type State = supervisor.State

// Sink receives a chunk of corrections bytes. See session.Sink.
type Sink = session.Sink

// Metrics tracks cumulative connection/auth/byte counters. See
// supervisor.Metrics.
type Metrics = supervisor.Metrics

// Default corrections endpoint and retry/timeout settings, re-exported
// from supervisor for callers that don't import it directly.
const (
	DefaultEndpointHost  = supervisor.DefaultEndpointHost
	DefaultEndpointPort  = supervisor.DefaultEndpointPort
	DefaultMaxReconnects = supervisor.DefaultMaxReconnects
	DefaultRunTimeout    = supervisor.DefaultRunTimeout
)

// Supervisor lifecycle states, re-exported from supervisor.
const (
	StateIdle           = supervisor.StateIdle
	StateAuthenticating = supervisor.StateAuthenticating
	StateConnected      = supervisor.StateConnected
	StateReconnecting   = supervisor.StateReconnecting
	StateStopped        = supervisor.StateStopped
)

// Functional options, re-exported from supervisor.
var (
	WithEndpoint       = supervisor.WithEndpoint
	WithMaxReconnects  = supervisor.WithMaxReconnects
	WithLogger         = supervisor.WithLogger
	WithReconnectPause = supervisor.WithReconnectPause
	WithMetrics        = supervisor.WithMetrics
)

// NewUniqueID generates a random client identifier. See
// supervisor.NewUniqueID.
func NewUniqueID() string {
	return supervisor.NewUniqueID()
}

// New builds a Supervisor. Call SetAPIKey or SetAuthToken on the result
// before Run or RunAsync.
func New(opts ...Option) *Supervisor {
	return supervisor.New(opts...)
}
