package config

import (
	"time"
)

// ResourceLimits bounds a single instance. Zero values mean unlimited
// (or, for IdleTimeout, no idle eviction).
type ResourceLimits struct {
	// MaxMemoryMB is the RSS ceiling in megabytes.
	MaxMemoryMB float64 `yaml:"max_memory_mb"`

	// MaxCPUPercent is the CPU usage ceiling in percent of one core.
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`

	// IdleTimeout stops an instance that has had no activity, no pending
	// requests and no subscribers for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// InstanceConfig describes how to spawn one instance. It is immutable
// after creation: a new deployment produces a new InstanceConfig and a new
// instance id rather than mutating one in place.
type InstanceConfig struct {
	// Command is the resolved executable path or name.
	Command string `yaml:"command"`

	// Args are the ordered command-line arguments.
	Args []string `yaml:"args"`

	// Env is merged over a restricted base environment.
	Env map[string]string `yaml:"env"`

	// Cwd is the working directory. Empty means the orchestrator's.
	Cwd string `yaml:"cwd"`

	// Limits are the per-instance resource ceilings.
	Limits ResourceLimits `yaml:"limits"`
}
