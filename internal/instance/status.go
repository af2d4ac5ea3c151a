package instance

import (
	"time"

	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
)

// Status is the lifecycle state of an instance.
type Status int

const (
	// StatusCreated means bookkeeping exists but spawn was not attempted.
	StatusCreated Status = iota
	// StatusStarting means the process spawn/handshake is in progress.
	StatusStarting
	// StatusRunning means the process is alive and accepting requests.
	StatusRunning
	// StatusStopping means an explicit stop is in progress.
	StatusStopping
	// StatusStopped means the process exited after an explicit stop.
	StatusStopped
	// StatusCrashed is terminal: the process exited unexpectedly, failed
	// to start, or was killed for a resource breach.
	StatusCrashed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusStarting:
		return "Starting"
	case StatusRunning:
		return "Running"
	case StatusStopping:
		return "Stopping"
	case StatusStopped:
		return "Stopped"
	case StatusCrashed:
		return "Crashed"
	default:
		return "InvalidStatus"
	}
}

// ExitReason records why an instance stopped.
type ExitReason string

const (
	// ExitNormal is an explicit or idle-timeout stop.
	ExitNormal ExitReason = "normal"
	// ExitCrashed is an unexpected process exit while Running.
	ExitCrashed ExitReason = "crashed"
	// ExitKilled means the stop grace period elapsed and the process was
	// forcibly killed.
	ExitKilled ExitReason = "killed"
	// ExitStartupFailed means the process never reached Running.
	ExitStartupFailed ExitReason = "startup_failed"
	// ExitResourceLimit means the process sustainedly exceeded its
	// memory or CPU ceiling and was killed.
	ExitResourceLimit ExitReason = "resource_limit_exceeded"
)

// Info is a point-in-time snapshot of an instance's bookkeeping.
type Info struct {
	ID             string                `json:"id"`
	Tenant         string                `json:"tenant"`
	Status         string                `json:"status"`
	StartedAt      time.Time             `json:"started_at,omitzero"`
	StoppedAt      time.Time             `json:"stopped_at,omitzero"`
	LastActivityAt time.Time             `json:"last_activity_at,omitzero"`
	ExitReason     string                `json:"exit_reason,omitempty"`
	Config         config.InstanceConfig `json:"config"`
}

// Snapshot is the read-only metrics view sampled by an external collector.
type Snapshot struct {
	CPUPercent   float64       `json:"cpu"`
	MemoryMB     float64       `json:"memory"`
	Uptime       time.Duration `json:"uptime"`
	RequestCount int64         `json:"request_count"`
	ErrorCount   int64         `json:"error_count"`
}
