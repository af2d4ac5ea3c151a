package orchestrator

import (
	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
	"github.com/wagiedev/mcp-orchestrator-go/internal/hub"
	"github.com/wagiedev/mcp-orchestrator-go/internal/instance"
	"github.com/wagiedev/mcp-orchestrator-go/internal/store"
)

// InstanceConfig describes how to spawn one instance. Immutable after
// creation: a new deployment produces a new InstanceConfig and a new
// instance id.
type InstanceConfig = config.InstanceConfig

// ResourceLimits bounds a single instance.
type ResourceLimits = config.ResourceLimits

// ConfigFile is the daemon configuration file format.
type ConfigFile = config.File

// LoadConfigFile reads and parses a daemon configuration file.
var LoadConfigFile = config.LoadFile

// Event is one entry in an instance's append-only stream.
type Event = hub.Event

// Subscription is one independent consumer of an instance's stream.
type Subscription = hub.Subscription

// Event types published on an instance's stream.
const (
	EventNotification = hub.TypeNotification
	EventRawOutput    = hub.TypeRawOutput
	EventStderr       = hub.TypeStderr
	EventHeartbeat    = hub.TypeHeartbeat
	EventDisconnected = hub.TypeDisconnected
)

// Instance is the manager for one supervised process.
type Instance = instance.Manager

// InstanceInfo is a point-in-time snapshot of an instance's bookkeeping.
type InstanceInfo = instance.Info

// MetricsSnapshot is the read-only metrics view of an instance.
type MetricsSnapshot = instance.Snapshot

// Status is the lifecycle state of an instance.
type Status = instance.Status

// Lifecycle states.
const (
	StatusCreated  = instance.StatusCreated
	StatusStarting = instance.StatusStarting
	StatusRunning  = instance.StatusRunning
	StatusStopping = instance.StatusStopping
	StatusStopped  = instance.StatusStopped
	StatusCrashed  = instance.StatusCrashed
)

// ExitReason records why an instance stopped.
type ExitReason = instance.ExitReason

// Exit reasons.
const (
	ExitNormal        = instance.ExitNormal
	ExitCrashed       = instance.ExitCrashed
	ExitKilled        = instance.ExitKilled
	ExitStartupFailed = instance.ExitStartupFailed
	ExitResourceLimit = instance.ExitResourceLimit
)

// Sink receives lifecycle transitions, metrics snapshots and log lines.
type Sink = store.Sink

// MetricsRecord is the persisted shape of a metrics snapshot.
type MetricsRecord = store.MetricsRecord

// NopSink returns a Sink that discards all records.
var NopSink = store.Nop

// OpenSQLiteStore opens a SQLite-backed sink at the given path.
func OpenSQLiteStore(path string) (Sink, error) {
	return store.OpenSQLite(path)
}
