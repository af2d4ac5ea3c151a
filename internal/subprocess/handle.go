package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
	"github.com/wagiedev/mcp-orchestrator-go/internal/protocol"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr buffer kept for exit diagnostics.
	// The line callback still receives everything; only the buffer stops
	// growing past this limit.
	maxStderrBufferSize = 10 * 1024 * 1024 // 10MB
)

// baseEnvVars is the allowlist merged under each instance's Env.
// Tenant processes never inherit the orchestrator's full environment.
var baseEnvVars = []string{"PATH", "HOME", "LANG", "TMPDIR", "USER"}

// Handle owns exactly one subprocess and its pipes. All frame I/O for the
// instance goes through it: writes are serialized under a mutex, reads are
// owned by the single goroutine started by ReadFrames.
type Handle struct {
	log        *slog.Logger
	cfg        *config.InstanceConfig
	stderrLine func(string) // callback for each stderr line, may be nil

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu          sync.Mutex // protects stdin writes and the flags below
	closing     bool       // Terminate was called (intentional shutdown)
	stdinClosed bool

	waitDone chan struct{} // closed after cmd.Wait returns in the read loop
}

// Compile-time verification that Handle satisfies the correlator's writer.
var _ protocol.FrameWriter = (*Handle)(nil)

// Spawn launches the configured executable and returns a handle owning its
// pipes. It returns StartupError if the executable cannot be found or
// cannot be started.
//
// stderrLine, if non-nil, is invoked for every line the process writes to
// stderr.
func Spawn(
	log *slog.Logger,
	cfg *config.InstanceConfig,
	stderrLine func(string),
) (*Handle, error) {
	h := &Handle{
		log:        log.With("component", "process_handle"),
		cfg:        cfg,
		stderrLine: stderrLine,
		waitDone:   make(chan struct{}),
	}

	path := cfg.Command
	if !strings.Contains(path, string(os.PathSeparator)) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			h.log.Error("Executable not found", "command", path, "error", err)

			return nil, &errors.StartupError{Command: cfg.Command, Err: err}
		}

		path = resolved
	}

	//nolint:gosec // G204: spawning tenant-supplied executables is the point
	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = buildEnvironment(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.StartupError{Command: cfg.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &errors.StartupError{Command: cfg.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &errors.StartupError{Command: cfg.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		h.log.Error("Failed to start process", "command", cfg.Command, "error", err)

		return nil, &errors.StartupError{Command: cfg.Command, Err: err}
	}

	h.cmd = cmd
	h.stdin = stdin
	h.stdout = stdout
	h.stderr = stderr

	h.log.Info("Process started", "command", cfg.Command, "pid", cmd.Process.Pid)

	return h, nil
}

// buildEnvironment merges the instance env over the restricted base.
func buildEnvironment(env map[string]string) []string {
	out := make([]string, 0, len(baseEnvVars)+len(env))

	for _, name := range baseEnvVars {
		if _, override := env[name]; override {
			continue
		}

		if v, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+v)
		}
	}

	for k, v := range env {
		out = append(out, k+"="+v)
	}

	return out
}

// Pid returns the process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// ReadFrames reads newline-delimited frames from the process stdout.
//
// It starts the single reader goroutine for this handle. Decoded frames
// are sent to the frames channel; malformed lines are sent to the error
// channel as FrameDecodeError and do not stop the stream. When the
// process exits, a ProcessExitError carrying the exit code and captured
// stderr is sent (unless the exit was requested via Terminate), then both
// channels are closed.
//
// ReadFrames must be called exactly once per handle.
func (h *Handle) ReadFrames(ctx context.Context) (<-chan *protocol.Frame, <-chan error) {
	frames := make(chan *protocol.Frame)
	errs := make(chan error, 1)

	var stderrWg sync.WaitGroup

	var stderrBuffer strings.Builder

	var stderrMu sync.Mutex

	// Stderr must be drained before cmd.Wait.
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe
	stderrWg.Add(1)

	go func() {
		defer stderrWg.Done()

		scanner := bufio.NewScanner(h.stderr)
		for scanner.Scan() {
			line := scanner.Text()

			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			if h.stderrLine != nil {
				h.stderrLine(line)
			}
		}

		if err := scanner.Err(); err != nil {
			h.log.Debug("Stderr scanner error", "error", err)
		}
	}()

	go func() {
		defer close(frames)
		defer close(errs)
		defer h.log.Debug("Frame reader stopped")

		scanner := bufio.NewScanner(h.stdout)
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			frame, err := protocol.DecodeFrame(line)
			if err != nil {
				h.log.Debug("Malformed frame", "error", err)

				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}

				continue
			}

			select {
			case frames <- frame:
			case <-ctx.Done():
				h.log.Debug("Context cancelled during frame send")

				return
			}
		}

		if err := scanner.Err(); err != nil {
			h.log.Debug("Stdout scanner error", "error", err)
		}

		stderrWg.Wait()

		waitErr := h.cmd.Wait()
		close(h.waitDone)

		h.mu.Lock()
		isClosing := h.closing
		h.mu.Unlock()

		if isClosing {
			h.log.Debug("Process terminated during shutdown")

			return
		}

		stderrMu.Lock()
		stderrOutput := stderrBuffer.String()
		stderrMu.Unlock()

		exitCode := 0

		if waitErr != nil {
			var exitErr *exec.ExitError
			if stderrors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
		}

		h.log.Info("Process exited", "exit_code", exitCode)

		errs <- &errors.ProcessExitError{
			ExitCode: exitCode,
			Stderr:   stderrOutput,
			Err:      waitErr,
		}
	}()

	return frames, errs
}

// WriteFrame serializes v as one newline-terminated frame and writes it to
// the process stdin. Safe for concurrent use: one frame is fully written
// before the next begins.
func (h *Handle) WriteFrame(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdinClosed || h.closing {
		return errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Write in goroutine to respect context cancellation
	done := make(chan error, 1)

	go func() {
		_, err := h.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			h.log.Debug("Failed to write frame", "error", err)

			return fmt.Errorf("%w: %w", errors.ErrStdinClosed, err)
		}

		return nil

	case <-ctx.Done():
		h.log.Debug("Context cancelled during write, closing stdin")

		_ = h.stdin.Close()
		h.stdinClosed = true

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			h.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// Terminate requests graceful shutdown, escalating to a forced kill if the
// process has not exited within grace. Terminating an already-exited
// handle is a no-op. It reports whether the kill escalation fired.
func (h *Handle) Terminate(grace time.Duration) bool {
	h.mu.Lock()

	if h.closing {
		h.mu.Unlock()
		h.waitExit()

		return false
	}

	h.closing = true
	h.stdinClosed = true

	if h.stdin != nil {
		_ = h.stdin.Close()
	}

	proc := h.cmd.Process
	h.mu.Unlock()

	select {
	case <-h.waitDone:
		// Already exited.
		return false
	default:
	}

	if grace <= 0 {
		h.log.Debug("Killing process", "pid", proc.Pid)
		_ = proc.Kill()
		h.waitExit()

		return true
	}

	h.log.Debug("Sending SIGTERM", "pid", proc.Pid)

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Process may already be gone.
		h.log.Debug("SIGTERM failed", "pid", proc.Pid, "error", err)
	}

	select {
	case <-h.waitDone:
		return false
	case <-time.After(grace):
		h.log.Warn("Grace period elapsed, killing process", "pid", proc.Pid)
		_ = proc.Kill()
		h.waitExit()

		return true
	}
}

// waitExit blocks until the read loop has reaped the process.
func (h *Handle) waitExit() {
	select {
	case <-h.waitDone:
	case <-time.After(10 * time.Second):
		h.log.Warn("Timed out waiting for process reap")
	}
}
