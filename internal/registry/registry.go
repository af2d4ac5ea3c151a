package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
	"github.com/wagiedev/mcp-orchestrator-go/internal/instance"
)

// Registry is the process-wide table of live instance managers, keyed by
// instance id. It coordinates creation, lookup and teardown across
// concurrent callers and enforces the per-tenant instance quota at
// admission time.
//
// The registry holds non-owning references: instance state is mutated
// only by each instance's own Manager.
type Registry struct {
	log  *slog.Logger
	opts *config.Options

	mu        sync.RWMutex
	instances map[string]*instance.Manager
	tenants   map[string]int // registered (incl. reserved) instances per tenant
	closed    bool
}

// New creates an empty registry. A restarted orchestrator always starts
// empty: previously running instances are considered stopped as of
// restart, never reconstructed from storage.
func New(opts *config.Options) *Registry {
	opts.Defaults()

	return &Registry{
		log:       opts.Logger.With("component", "registry"),
		opts:      opts,
		instances: make(map[string]*instance.Manager),
		tenants:   make(map[string]int),
	}
}

// Create allocates an id, starts a new instance for the tenant and
// registers it. The quota check and the reservation happen atomically
// with respect to concurrent Create calls from the same tenant, so the
// limit cannot be raced past.
//
// Returns ErrQuotaExceeded at the tenant limit and StartupError when the
// process cannot be started (the reservation is rolled back).
func (r *Registry) Create(ctx context.Context, tenant string, cfg config.InstanceConfig) (string, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return "", errors.ErrRegistryClosed
	}

	if r.tenants[tenant] >= r.opts.MaxInstancesPerTenant {
		r.mu.Unlock()
		r.log.Warn("Instance quota exceeded", "tenant", tenant)

		return "", errors.ErrQuotaExceeded
	}

	r.tenants[tenant]++

	id := ulid.Make().String()
	mgr := instance.New(r.opts.Logger, id, tenant, cfg, r.opts)
	r.instances[id] = mgr
	r.mu.Unlock()

	r.log.Info("Creating instance", "instance_id", id, "tenant", tenant, "command", cfg.Command)

	if err := mgr.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.instances, id)
		r.release(tenant)
		r.mu.Unlock()

		return "", err
	}

	return id, nil
}

// Get returns the manager registered under id, or ErrNotFound.
func (r *Registry) Get(id string) (*instance.Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mgr, ok := r.instances[id]
	if !ok {
		return nil, errors.ErrNotFound
	}

	return mgr, nil
}

// Remove stops the instance if it is still running and deletes it from
// the table. Safe to call concurrently with in-flight Execute or Stream
// calls on the same instance; those observe ErrInstanceNotRunning.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()

	mgr, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()

		return errors.ErrNotFound
	}

	delete(r.instances, id)
	r.release(mgr.Tenant())
	r.mu.Unlock()

	r.log.Info("Removing instance", "instance_id", id)

	return mgr.Stop(ctx)
}

// List returns a snapshot of every registered instance.
func (r *Registry) List() []instance.Info {
	r.mu.RLock()
	managers := make([]*instance.Manager, 0, len(r.instances))

	for _, mgr := range r.instances {
		managers = append(managers, mgr)
	}

	r.mu.RUnlock()

	infos := make([]instance.Info, 0, len(managers))
	for _, mgr := range managers {
		infos = append(infos, mgr.Info())
	}

	return infos
}

// Close stops every registered instance and rejects further Create calls.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return nil
	}

	r.closed = true
	managers := make([]*instance.Manager, 0, len(r.instances))

	for _, mgr := range r.instances {
		managers = append(managers, mgr)
	}

	r.instances = make(map[string]*instance.Manager)
	r.tenants = make(map[string]int)
	r.mu.Unlock()

	r.log.Info("Shutting down registry", "instances", len(managers))

	var wg sync.WaitGroup

	for _, mgr := range managers {
		wg.Add(1)

		go func(mgr *instance.Manager) {
			defer wg.Done()

			if err := mgr.Stop(ctx); err != nil {
				r.log.Warn("Failed to stop instance during shutdown",
					"instance_id", mgr.ID(), "error", err)
			}
		}(mgr)
	}

	wg.Wait()

	return nil
}

// release decrements a tenant's registration count. Caller must hold r.mu.
func (r *Registry) release(tenant string) {
	if r.tenants[tenant] <= 1 {
		delete(r.tenants, tenant)

		return
	}

	r.tenants[tenant]--
}
