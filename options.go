package orchestrator

import (
	"log/slog"
	"time"

	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
)

// Option configures the engine using the functional options pattern.
type Option func(*config.Options)

// applyOptions applies functional options and fills defaults.
func applyOptions(opts []Option) *config.Options {
	options := &config.Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options.Defaults()
}

// WithLogger sets the logger for operation tracking.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *config.Options) {
		o.Logger = logger
	}
}

// WithStore sets the durable sink receiving lifecycle transitions,
// metrics snapshots and process log lines. If not set, records are
// discarded.
func WithStore(sink Sink) Option {
	return func(o *config.Options) {
		o.Sink = sink
	}
}

// WithMaxInstancesPerTenant caps concurrently registered instances per
// tenant. Exceeding it fails Create with ErrQuotaExceeded.
func WithMaxInstancesPerTenant(n int) Option {
	return func(o *config.Options) {
		o.MaxInstancesPerTenant = n
	}
}

// WithEventRingCapacity sets how many events are retained per instance
// for subscriber replay. Events evicted from the ring are unrecoverable.
func WithEventRingCapacity(n int) Option {
	return func(o *config.Options) {
		o.EventRingCapacity = n
	}
}

// WithCallTimeout sets the default deadline for Execute calls.
func WithCallTimeout(d time.Duration) Option {
	return func(o *config.Options) {
		o.CallTimeout = d
	}
}

// WithHandshakeTimeout bounds the startup initialize exchange.
// Zero (the default) disables the handshake entirely.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *config.Options) {
		o.HandshakeTimeout = d
	}
}

// WithStopGracePeriod sets how long a stopping process gets between the
// graceful termination request and the forced kill.
func WithStopGracePeriod(d time.Duration) Option {
	return func(o *config.Options) {
		o.StopGracePeriod = d
	}
}

// WithHeartbeatInterval sets the cadence of synthetic heartbeat events on
// every instance stream.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *config.Options) {
		o.HeartbeatInterval = d
	}
}

// WithWatchdogInterval sets the cadence of resource and idle checks.
func WithWatchdogInterval(d time.Duration) Option {
	return func(o *config.Options) {
		o.WatchdogInterval = d
	}
}
