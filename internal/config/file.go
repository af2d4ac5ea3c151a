package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the daemon configuration file format. Durations are expressed
// in seconds.
type File struct {
	// StorePath is the SQLite database path for the durable sink.
	// Empty disables persistence.
	StorePath string `yaml:"store_path"`

	MaxInstancesPerTenant   int `yaml:"max_instances_per_tenant"`
	EventRingCapacity       int `yaml:"event_ring_capacity"`
	CallTimeoutSeconds      int `yaml:"call_timeout_seconds"`
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	StopGraceSeconds        int `yaml:"stop_grace_seconds"`
	HeartbeatSeconds        int `yaml:"heartbeat_seconds"`
	WatchdogSeconds         int `yaml:"watchdog_seconds"`

	// Instances are pre-created on daemon startup, one per entry.
	Instances []FileInstance `yaml:"instances"`
}

// FileInstance is one pre-created instance in the daemon config.
type FileInstance struct {
	Tenant             string            `yaml:"tenant"`
	Command            string            `yaml:"command"`
	Args               []string          `yaml:"args"`
	Env                map[string]string `yaml:"env"`
	Cwd                string            `yaml:"cwd"`
	MaxMemoryMB        float64           `yaml:"max_memory_mb"`
	MaxCPUPercent      float64           `yaml:"max_cpu_percent"`
	IdleTimeoutSeconds int               `yaml:"idle_timeout_seconds"`
}

// InstanceConfig converts the file entry into an InstanceConfig.
func (fi *FileInstance) InstanceConfig() InstanceConfig {
	return InstanceConfig{
		Command: fi.Command,
		Args:    fi.Args,
		Env:     fi.Env,
		Cwd:     fi.Cwd,
		Limits: ResourceLimits{
			MaxMemoryMB:   fi.MaxMemoryMB,
			MaxCPUPercent: fi.MaxCPUPercent,
			IdleTimeout:   time.Duration(fi.IdleTimeoutSeconds) * time.Second,
		},
	}
}

// LoadFile reads and parses a daemon configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	for i, inst := range f.Instances {
		if inst.Command == "" {
			return nil, fmt.Errorf("instances[%d]: command is required", i)
		}
	}

	return &f, nil
}

// Options converts the file settings into engine Options.
// The durable sink is wired separately by the caller.
func (f *File) Options() *Options {
	return (&Options{
		MaxInstancesPerTenant: f.MaxInstancesPerTenant,
		EventRingCapacity:     f.EventRingCapacity,
		CallTimeout:           time.Duration(f.CallTimeoutSeconds) * time.Second,
		HandshakeTimeout:      time.Duration(f.HandshakeTimeoutSeconds) * time.Second,
		StopGracePeriod:       time.Duration(f.StopGraceSeconds) * time.Second,
		HeartbeatInterval:     time.Duration(f.HeartbeatSeconds) * time.Second,
		WatchdogInterval:      time.Duration(f.WatchdogSeconds) * time.Second,
	}).Defaults()
}
