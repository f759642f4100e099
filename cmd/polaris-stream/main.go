// Command polaris-stream connects to the Polaris corrections service and
// writes the raw RTCM byte stream it receives to stdout (or a file), for
// piping into a receiver or an NTRIP caster. It is glue only: all protocol
// and reconnect logic lives in the supervisor package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/point-one/polaris-go/supervisor"
)

var opt struct {
	Help bool

	APIKey        string
	UniqueID      string
	AuthToken     string
	Host          string
	Port          int
	MaxReconnects int
	ReadTimeout   time.Duration
	OutputPath    string
	Verbose       bool

	LatDeg, LonDeg, AltM float64
	UsePosition          bool
	BeaconID             string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")

	pflag.StringVar(&opt.APIKey, "api-key", "", "Polaris API key (mutually exclusive with --auth-token)")
	pflag.StringVar(&opt.UniqueID, "unique-id", "", "Unique client id; a random one is generated if omitted")
	pflag.StringVar(&opt.AuthToken, "auth-token", "", "Pre-obtained Polaris access token, bypassing authentication")

	pflag.StringVar(&opt.Host, "host", supervisor.DefaultEndpointHost, "Corrections endpoint host")
	pflag.IntVar(&opt.Port, "port", supervisor.DefaultEndpointPort, "Corrections endpoint port")
	pflag.IntVar(&opt.MaxReconnects, "max-reconnects", supervisor.DefaultMaxReconnects, "Failed connects before discarding the access token (<=0 disables)")
	pflag.DurationVar(&opt.ReadTimeout, "read-timeout", supervisor.DefaultRunTimeout, "Per-connection read timeout before reconnecting")

	pflag.StringVar(&opt.OutputPath, "output", "-", "Output file for the corrections byte stream ('-' for stdout)")
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Log at debug level instead of info")

	pflag.Float64Var(&opt.LatDeg, "lat", 0, "Receiver latitude in degrees, for single-base corrections")
	pflag.Float64Var(&opt.LonDeg, "lon", 0, "Receiver longitude in degrees")
	pflag.Float64Var(&opt.AltM, "alt", 0, "Receiver altitude in meters")
	pflag.BoolVar(&opt.UsePosition, "send-position", false, "Send --lat/--lon/--alt as the initial position request")
	pflag.StringVar(&opt.BeaconID, "beacon", "", "Request corrections from a specific named beacon instead of nearest-base")
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Fprintf(os.Stderr, "usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if opt.Verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if opt.APIKey == "" && opt.AuthToken == "" {
		logger.Error().Msg("one of --api-key or --auth-token is required")
		os.Exit(1)
	}

	out := os.Stdout
	if opt.OutputPath != "-" {
		f, err := os.Create(opt.OutputPath)
		if err != nil {
			logger.Error().Err(err).Str("path", opt.OutputPath).Msg("failed to open output file")
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	sup := supervisor.New(
		supervisor.WithEndpoint(opt.Host, opt.Port),
		supervisor.WithMaxReconnects(opt.MaxReconnects),
		supervisor.WithLogger(logger),
	)

	if opt.AuthToken != "" {
		sup.SetAuthToken(opt.AuthToken)
	} else {
		uniqueID := opt.UniqueID
		if uniqueID == "" {
			uniqueID = supervisor.NewUniqueID()
		}
		sup.SetAPIKey(opt.APIKey, uniqueID)
	}

	sup.SetRTCMCallback(func(b []byte) {
		if _, err := out.Write(b); err != nil {
			logger.Warn().Err(err).Msg("failed to write corrections bytes")
		}
	})

	if opt.UsePosition {
		sup.SendLLAPosition(opt.LatDeg, opt.LonDeg, opt.AltM)
	}
	if opt.BeaconID != "" {
		sup.RequestBeacon(opt.BeaconID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.RunAsync(opt.ReadTimeout)

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	sup.Disconnect()
}
