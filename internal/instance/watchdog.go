package instance

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
	"github.com/wagiedev/mcp-orchestrator-go/internal/store"
)

// breachThreshold is how many consecutive over-limit samples it takes
// before an instance is killed. A single sampling spike is not a breach.
const breachThreshold = 3

// watchdog samples the process's CPU and memory, reports metrics to the
// durable sink, enforces the per-instance resource ceilings and evicts
// idle instances.
func (m *Manager) watchdog(ctx context.Context) error {
	proc, err := process.NewProcess(int32(m.handle.Pid()))
	if err != nil {
		// Sampling is unavailable (process already gone or restricted
		// platform); idle eviction still runs.
		m.log.Warn("Resource sampling unavailable", "error", err)

		proc = nil
	}

	ticker := time.NewTicker(m.opts.WatchdogInterval)
	defer ticker.Stop()

	var cpuBreaches, memBreaches int

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
		}

		if proc != nil {
			cpu, mem, sampled := m.sample(proc)
			if sampled {
				m.reportMetrics(ctx, cpu, mem)

				cpuBreaches = m.checkCeiling(cpu, m.cfg.Limits.MaxCPUPercent, cpuBreaches)
				memBreaches = m.checkCeiling(mem, m.cfg.Limits.MaxMemoryMB, memBreaches)

				if cpuBreaches >= breachThreshold {
					m.killForBreach("cpu", m.cfg.Limits.MaxCPUPercent, cpu)

					return nil
				}

				if memBreaches >= breachThreshold {
					m.killForBreach("memory", m.cfg.Limits.MaxMemoryMB, mem)

					return nil
				}
			}
		}

		if m.idleExpired() {
			m.log.Info("Idle timeout reached, stopping instance",
				"idle_timeout", m.cfg.Limits.IdleTimeout)

			// Stop waits for the reader loop; safe here because the
			// watchdog goroutine is independent of it.
			_ = m.Stop(context.Background())

			return nil
		}
	}
}

// sample reads one CPU/memory data point and stores it for Metrics.
func (m *Manager) sample(proc *process.Process) (cpu, mem float64, ok bool) {
	cpu, cpuErr := proc.CPUPercent()
	memInfo, memErr := proc.MemoryInfo()

	if cpuErr != nil || memErr != nil || memInfo == nil {
		m.log.Debug("Resource sample failed", "cpu_err", cpuErr, "mem_err", memErr)

		return 0, 0, false
	}

	mem = float64(memInfo.RSS) / (1024 * 1024)

	m.sampleMu.Lock()
	m.cpuPercent = cpu
	m.memoryMB = mem
	m.sampleMu.Unlock()

	return cpu, mem, true
}

// reportMetrics ships one snapshot to the durable sink.
func (m *Manager) reportMetrics(ctx context.Context, cpu, mem float64) {
	snap := m.Metrics()

	rec := store.MetricsRecord{
		CPUPercent:    cpu,
		MemoryMB:      mem,
		UptimeSeconds: int64(snap.Uptime.Seconds()),
		RequestCount:  snap.RequestCount,
		ErrorCount:    snap.ErrorCount,
		Timestamp:     time.Now().UTC(),
	}

	if err := m.opts.Sink.RecordMetrics(ctx, m.id, rec); err != nil {
		m.log.Debug("Failed to record metrics", "error", err)
	}
}

// checkCeiling advances or resets the consecutive-breach counter.
func (m *Manager) checkCeiling(observed, limit float64, breaches int) int {
	if limit <= 0 || observed <= limit {
		return 0
	}

	return breaches + 1
}

// killForBreach kills the process for a sustained resource breach. The
// exit flows through the reader loop, which settles the Crashed state with
// exit reason resource_limit_exceeded.
func (m *Manager) killForBreach(resource string, limit, observed float64) {
	limitErr := &errors.ResourceLimitError{
		Resource: resource,
		Limit:    limit,
		Observed: observed,
	}

	m.log.Error("Resource limit exceeded, killing instance", "error", limitErr)

	m.mu.Lock()
	m.killReason = ExitResourceLimit
	m.mu.Unlock()

	m.handle.Terminate(0)
}

// idleExpired reports whether the instance qualifies for idle eviction:
// Running, no pending requests, no subscribers, and no activity within the
// configured idle timeout.
func (m *Manager) idleExpired() bool {
	idle := m.cfg.Limits.IdleTimeout
	if idle <= 0 {
		return false
	}

	m.mu.Lock()
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running {
		return false
	}

	if m.corr.PendingCount() > 0 || m.hub.SubscriberCount() > 0 {
		return false
	}

	nanos := m.lastActivity.Load()
	if nanos == 0 {
		return false
	}

	return time.Since(time.Unix(0, nanos)) > idle
}
