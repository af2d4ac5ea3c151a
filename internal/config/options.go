package config

import (
	"log/slog"
	"time"

	"github.com/wagiedev/mcp-orchestrator-go/internal/store"
)

// Default tuning values. The ring capacity and heartbeat interval are
// operational knobs; see the corresponding With* options at the root.
// HandshakeTimeout deliberately has no default: zero keeps the startup
// handshake disabled.
const (
	DefaultMaxInstancesPerTenant = 10
	DefaultEventRingCapacity     = 1024
	DefaultCallTimeout           = 30 * time.Second
	DefaultStopGracePeriod       = 5 * time.Second
	DefaultHeartbeatInterval     = 15 * time.Second
	DefaultWatchdogInterval      = 5 * time.Second
)

// Options configures the orchestration engine.
type Options struct {
	// Logger is the slog logger for operation tracking.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Sink receives lifecycle transitions, metrics and log lines.
	// If nil, records are discarded.
	Sink store.Sink

	// MaxInstancesPerTenant caps concurrently registered instances per tenant.
	MaxInstancesPerTenant int

	// EventRingCapacity is the number of events retained per instance for
	// subscriber replay. Events evicted from the ring are unrecoverable.
	EventRingCapacity int

	// CallTimeout is the default deadline for Execute calls.
	CallTimeout time.Duration

	// HandshakeTimeout bounds the startup "initialize" call.
	// Zero disables the handshake entirely.
	HandshakeTimeout time.Duration

	// StopGracePeriod is how long to wait after a graceful termination
	// request before forcing a kill.
	StopGracePeriod time.Duration

	// HeartbeatInterval is the cadence of synthetic heartbeat events on
	// every instance's stream.
	HeartbeatInterval time.Duration

	// WatchdogInterval is the cadence of resource and idle checks.
	WatchdogInterval time.Duration
}

// Defaults fills unset fields and returns the receiver for chaining.
func (o *Options) Defaults() *Options {
	if o.Logger == nil {
		o.Logger = nopLogger()
	}

	if o.Sink == nil {
		o.Sink = store.Nop()
	}

	if o.MaxInstancesPerTenant <= 0 {
		o.MaxInstancesPerTenant = DefaultMaxInstancesPerTenant
	}

	if o.EventRingCapacity <= 0 {
		o.EventRingCapacity = DefaultEventRingCapacity
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}

	if o.StopGracePeriod <= 0 {
		o.StopGracePeriod = DefaultStopGracePeriod
	}

	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}

	return o
}
