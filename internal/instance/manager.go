package instance

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
	"github.com/wagiedev/mcp-orchestrator-go/internal/hub"
	"github.com/wagiedev/mcp-orchestrator-go/internal/protocol"
	"github.com/wagiedev/mcp-orchestrator-go/internal/subprocess"
)

// handshakeMethod is the startup call issued before an instance is
// considered Running. Servers that complete it get the initialized
// notification, matching the MCP session bootstrap.
const (
	handshakeMethod       = "initialize"
	initializedMethod     = "notifications/initialized"
	handshakeProtocolVers = "2024-11-05"
)

// Manager owns one instance end to end: the process handle, the request
// correlator, the event hub, the lifecycle state machine and the resource
// watchdog. The registry holds a non-owning reference; nothing else
// touches the raw pipes.
type Manager struct {
	log    *slog.Logger
	id     string
	tenant string
	cfg    config.InstanceConfig
	opts   *config.Options

	hub    *hub.Hub
	corr   *protocol.Correlator
	handle *subprocess.Handle

	eg     *errgroup.Group
	cancel context.CancelFunc
	done   chan struct{} // closed once process closure has been handled

	mu            sync.Mutex // guards lifecycle fields, never held across I/O
	status        Status
	startedAt     time.Time
	stoppedAt     time.Time
	exitReason    ExitReason
	killReason    ExitReason // set by the watchdog before a resource kill
	stopRequested bool

	lastActivity atomic.Int64 // unix nanos
	requestCount atomic.Int64
	errorCount   atomic.Int64

	sampleMu   sync.Mutex // guards the latest resource sample
	cpuPercent float64
	memoryMB   float64
}

// New creates a Manager in the Created state. Call Start to spawn the
// process.
func New(log *slog.Logger, id, tenant string, cfg config.InstanceConfig, opts *config.Options) *Manager {
	return &Manager{
		log:    log.With("component", "instance", "instance_id", id),
		id:     id,
		tenant: tenant,
		cfg:    cfg,
		opts:   opts,
		hub:    hub.New(log, id, opts.EventRingCapacity),
		status: StatusCreated,
		done:   make(chan struct{}),
	}
}

// ID returns the instance id.
func (m *Manager) ID() string { return m.id }

// Tenant returns the owning tenant.
func (m *Manager) Tenant() string { return m.tenant }

// Start spawns the process and, if a handshake timeout is configured,
// completes the initialize exchange before transitioning to Running.
//
// On any failure the instance lands in Crashed with exit reason
// startup_failed and a StartupError is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()

	if m.status != StatusCreated {
		// A concurrent Stop won the race, or Start was already called.
		m.mu.Unlock()

		return errors.ErrCancelled
	}

	m.status = StatusStarting
	m.mu.Unlock()

	m.record(StatusCreated, StatusStarting, "")

	handle, err := subprocess.Spawn(m.log, &m.cfg, m.onStderrLine)
	if err != nil {
		m.log.Error("Spawn failed", "error", err)
		m.markStartupFailure()

		return err
	}

	m.handle = handle
	m.corr = protocol.NewCorrelator(m.log, handle)

	// Background loops outlive the caller's ctx; the instance runs until
	// explicitly stopped or the process exits.
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	frames, readErrs := handle.ReadFrames(runCtx)

	m.eg, _ = errgroup.WithContext(runCtx)
	m.eg.Go(func() error {
		m.readLoop(frames, readErrs)

		return nil
	})
	m.eg.Go(func() error {
		return m.watchdog(runCtx)
	})
	m.eg.Go(func() error {
		return m.heartbeatLoop(runCtx)
	})

	if m.opts.HandshakeTimeout > 0 {
		if err := m.handshake(ctx); err != nil {
			m.log.Error("Startup handshake failed", "error", err)
			m.handle.Terminate(0)
			m.waitClosed()

			return &errors.StartupError{Command: m.cfg.Command, Err: err}
		}
	}

	m.mu.Lock()

	if m.stopRequested {
		// Stop arrived while startup was in flight. Tear the process down
		// here; the reader loop settles the Stopped state and releases the
		// waiting Stop caller.
		m.mu.Unlock()
		m.corr.FailAll(errors.ErrCancelled)
		m.handle.Terminate(0)
		m.waitClosed()

		return errors.ErrCancelled
	}

	if m.status != StatusStarting {
		// The process died during startup; readLoop already settled the
		// terminal state.
		m.mu.Unlock()

		return &errors.StartupError{Command: m.cfg.Command, Err: errors.ErrProcessExited}
	}

	m.status = StatusRunning
	m.startedAt = time.Now().UTC()
	m.mu.Unlock()

	m.touchActivity()
	m.record(StatusStarting, StatusRunning, "")
	m.log.Info("Instance running", "pid", handle.Pid())

	return nil
}

// handshake issues the initialize call and the initialized notification.
func (m *Manager) handshake(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": handshakeProtocolVers,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "mcp-orchestrator",
			"version": "1",
		},
	}

	if _, err := m.corr.Call(ctx, handshakeMethod, params, m.opts.HandshakeTimeout); err != nil {
		return err
	}

	return m.corr.Notify(ctx, initializedMethod, nil)
}

// Execute sends one request to the instance and waits for its correlated
// response. Valid only in Running; other states fail with
// ErrInstanceNotRunning.
func (m *Manager) Execute(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running {
		return nil, errors.ErrInstanceNotRunning
	}

	m.requestCount.Add(1)

	result, err := m.corr.Call(ctx, method, params, m.opts.CallTimeout)
	if err != nil {
		m.errorCount.Add(1)

		return nil, err
	}

	m.touchActivity()

	return result, nil
}

// Stream attaches a subscriber to the instance's event stream, resuming
// from the given cursor. Valid in Running and Stopping, and after Crashed
// for as long as the terminal events remain retained; other states fail
// with ErrInstanceNotRunning.
func (m *Manager) Stream(ctx context.Context, fromCursor uint64) (*hub.Subscription, error) {
	m.mu.Lock()
	st := m.status
	m.mu.Unlock()

	switch st {
	case StatusRunning, StatusStopping, StatusCrashed:
	default:
		return nil, errors.ErrInstanceNotRunning
	}

	return m.hub.Subscribe(ctx, fromCursor)
}

// Stop gracefully terminates the instance. Pending requests fail with
// ErrCancelled; the process gets the configured grace period before a
// forced kill. Stop is idempotent: repeat calls observe the same terminal
// state and never double-free.
//
// A stop that lands while Start is still in flight flags the startup to
// abort and waits for it to settle; Start then returns ErrCancelled.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()

	switch m.status {
	case StatusStopped, StatusCrashed:
		m.mu.Unlock()

		return nil

	case StatusCreated:
		m.status = StatusStopped
		m.exitReason = ExitNormal
		m.stoppedAt = time.Now().UTC()
		m.mu.Unlock()
		close(m.done)

		return nil

	case StatusStarting:
		// Startup is still in flight and the handle may not exist yet.
		// Flag the stop; Start observes it and tears the process down.
		m.stopRequested = true
		m.exitReason = ExitNormal
		m.mu.Unlock()

		return m.waitDone(ctx)

	case StatusStopping:
		m.mu.Unlock()

		return m.waitDone(ctx)
	}

	prev := m.status
	m.status = StatusStopping
	m.stopRequested = true
	m.exitReason = ExitNormal
	m.mu.Unlock()

	m.log.Info("Stopping instance")
	m.record(prev, StatusStopping, "")

	m.corr.FailAll(errors.ErrCancelled)

	if escalated := m.handle.Terminate(m.opts.StopGracePeriod); escalated {
		m.mu.Lock()
		m.exitReason = ExitKilled
		m.mu.Unlock()
	}

	return m.waitDone(ctx)
}

// Metrics returns the instance's counters and the latest resource sample.
// The manager only maintains the numbers; sampling cadence is the external
// collector's policy.
func (m *Manager) Metrics() Snapshot {
	m.sampleMu.Lock()
	cpu, mem := m.cpuPercent, m.memoryMB
	m.sampleMu.Unlock()

	m.mu.Lock()
	started, stopped := m.startedAt, m.stoppedAt
	m.mu.Unlock()

	var uptime time.Duration

	switch {
	case started.IsZero():
	case stopped.IsZero():
		uptime = time.Since(started)
	default:
		uptime = stopped.Sub(started)
	}

	return Snapshot{
		CPUPercent:   cpu,
		MemoryMB:     mem,
		Uptime:       uptime,
		RequestCount: m.requestCount.Load(),
		ErrorCount:   m.errorCount.Load(),
	}
}

// Info returns the instance's bookkeeping snapshot.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastActivity time.Time
	if nanos := m.lastActivity.Load(); nanos > 0 {
		lastActivity = time.Unix(0, nanos).UTC()
	}

	return Info{
		ID:             m.id,
		Tenant:         m.tenant,
		Status:         m.status.String(),
		StartedAt:      m.startedAt,
		StoppedAt:      m.stoppedAt,
		LastActivityAt: lastActivity,
		ExitReason:     string(m.exitReason),
		Config:         m.cfg,
	}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// Done is closed once the instance has reached a terminal state.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// readLoop is the only place frames are classified. It demultiplexes the
// process output into correlator resolutions and hub publishes, and it
// keeps running until the handle reports closure; per-frame failures never
// escape it.
func (m *Manager) readLoop(frames <-chan *protocol.Frame, readErrs <-chan error) {
	var exitErr *errors.ProcessExitError

	for frames != nil || readErrs != nil {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil

				continue
			}

			m.dispatchFrame(frame)

		case err, ok := <-readErrs:
			if !ok {
				readErrs = nil

				continue
			}

			var exit *errors.ProcessExitError
			if stderrors.As(err, &exit) {
				exitErr = exit

				continue
			}

			var dec *errors.FrameDecodeError
			if stderrors.As(err, &dec) {
				m.log.Warn("Malformed frame from process", "error", dec.Err)

				payload, _ := json.Marshal(dec.RawLine)
				m.hub.Publish(hub.TypeRawOutput, "", payload)

				continue
			}

			m.log.Debug("Reader error", "error", err)
		}
	}

	m.handleExit(exitErr)
}

// dispatchFrame routes one parsed frame.
func (m *Manager) dispatchFrame(frame *protocol.Frame) {
	if frame.IsResponse() {
		if !m.corr.Resolve(frame) {
			// No caller is waiting: the request timed out or was
			// cancelled. Ids are never reused, so dropping is safe.
			m.log.Debug("Discarding late response", "request_id", *frame.ID)
		}

		return
	}

	m.touchActivity()
	m.hub.Publish(hub.TypeNotification, frame.Method, frame.Params)
}

// handleExit settles the terminal state after the process went away.
func (m *Manager) handleExit(exitErr *errors.ProcessExitError) {
	m.mu.Lock()

	prev := m.status

	switch {
	case m.stopRequested:
		m.status = StatusStopped
		if m.exitReason == "" {
			m.exitReason = ExitNormal
		}

	case prev == StatusStarting:
		m.status = StatusCrashed
		m.exitReason = ExitStartupFailed

	default:
		m.status = StatusCrashed
		if m.killReason != "" {
			m.exitReason = m.killReason
		} else {
			m.exitReason = ExitCrashed
		}
	}

	m.stoppedAt = time.Now().UTC()
	status, reason := m.status, m.exitReason
	m.mu.Unlock()

	if status == StatusCrashed {
		m.corr.FailAll(errors.ErrProcessExited)

		if prev == StatusRunning {
			// Streaming subscribers learn about the crash out-of-band
			// instead of being silently starved.
			payload, _ := json.Marshal(map[string]string{"reason": string(reason)})
			m.hub.Publish(hub.TypeDisconnected, "", payload)
		}

		if exitErr != nil {
			m.log.Error("Process exited unexpectedly",
				"exit_code", exitErr.ExitCode, "reason", reason)
		}
	}

	m.record(prev, status, reason)
	m.hub.Close()
	m.cancel()
	close(m.done)

	m.log.Info("Instance terminated", "status", status.String(), "exit_reason", reason)
}

// markStartupFailure settles state when the spawn itself failed and no
// process ever existed.
func (m *Manager) markStartupFailure() {
	m.mu.Lock()
	prev := m.status
	m.status = StatusCrashed
	m.exitReason = ExitStartupFailed
	m.stoppedAt = time.Now().UTC()
	m.mu.Unlock()

	m.record(prev, StatusCrashed, ExitStartupFailed)
	m.hub.Close()
	close(m.done)
}

// onStderrLine publishes one stderr line as an event and reports it to the
// durable sink.
func (m *Manager) onStderrLine(line string) {
	payload, _ := json.Marshal(line)
	m.hub.Publish(hub.TypeStderr, "", payload)

	if err := m.opts.Sink.RecordLog(context.Background(), m.id, "stderr", line); err != nil {
		m.log.Debug("Failed to record log line", "error", err)
	}
}

// heartbeatLoop publishes a synthetic heartbeat on a fixed interval so
// idle subscribers can tell the stream is alive.
func (m *Manager) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.hub.Publish(hub.TypeHeartbeat, "", nil)
		case <-ctx.Done():
			return nil
		}
	}
}

// record reports a lifecycle transition to the durable sink.
func (m *Manager) record(from, to Status, reason ExitReason) {
	err := m.opts.Sink.RecordTransition(
		context.Background(), m.id, m.tenant, from.String(), to.String(), string(reason))
	if err != nil {
		m.log.Debug("Failed to record transition", "error", err)
	}
}

func (m *Manager) touchActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// waitDone blocks until the terminal state is settled or ctx expires.
func (m *Manager) waitDone(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitClosed waits for the read loop to settle without a caller deadline.
func (m *Manager) waitClosed() {
	<-m.done
}
