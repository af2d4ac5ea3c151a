package orchestrator

import (
	"github.com/wagiedev/mcp-orchestrator-go/internal/registry"
)

// Registry is the process-wide table of live instances. See New.
type Registry = registry.Registry

// New creates an empty orchestration registry.
//
// The registry always starts empty: a restarted orchestrator considers
// any previously running instances stopped as of restart and never
// reconstructs state from storage.
//
// Example:
//
//	reg := orchestrator.New(
//	    orchestrator.WithLogger(slog.Default()),
//	    orchestrator.WithMaxInstancesPerTenant(5),
//	)
//	defer reg.Close(ctx)
//
//	id, err := reg.Create(ctx, "tenant-a", orchestrator.InstanceConfig{
//	    Command: "my-mcp-server",
//	    Args:    []string{"--stdio"},
//	})
func New(opts ...Option) *Registry {
	return registry.New(applyOptions(opts))
}
