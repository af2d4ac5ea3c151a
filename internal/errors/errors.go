package errors

import (
	"errors"
	"fmt"
)

// OrchestratorError is the base interface for all engine errors.
type OrchestratorError interface {
	error
	IsOrchestratorError() bool
}

// Compile-time verification that all error types implement OrchestratorError.
var (
	_ OrchestratorError = (*StartupError)(nil)
	_ OrchestratorError = (*ProcessExitError)(nil)
	_ OrchestratorError = (*FrameDecodeError)(nil)
	_ OrchestratorError = (*ResourceLimitError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrCallTimeout indicates no response arrived within the call deadline.
	// The instance is still running; the caller may retry.
	ErrCallTimeout = errors.New("call timeout")

	// ErrProcessExited indicates the process died while the request was pending.
	ErrProcessExited = errors.New("process exited")

	// ErrCancelled indicates the instance was stopped while the request was pending.
	ErrCancelled = errors.New("request cancelled")

	// ErrInstanceNotRunning indicates the instance is not in the Running state.
	ErrInstanceNotRunning = errors.New("instance not running")

	// ErrQuotaExceeded indicates the tenant is at its instance limit.
	ErrQuotaExceeded = errors.New("instance quota exceeded")

	// ErrNotFound indicates no instance is registered under the given id.
	ErrNotFound = errors.New("instance not found")

	// ErrCursorTooOld indicates the requested cursor fell outside the event
	// retention window. The subscriber must resync from a fresh snapshot
	// instead of assuming continuity.
	ErrCursorTooOld = errors.New("cursor outside retention window")

	// ErrSubscriberLagged indicates a live subscriber fell behind the
	// retention window and events were evicted before delivery.
	ErrSubscriberLagged = errors.New("subscriber lagged past retention window")

	// ErrStdinClosed indicates the process stdin pipe is no longer writable.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrRegistryClosed indicates the registry has been shut down.
	ErrRegistryClosed = errors.New("registry closed")
)

// StartupError indicates the instance executable could not be started.
// The instance never reached Running.
type StartupError struct {
	Command string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// IsOrchestratorError implements OrchestratorError.
func (e *StartupError) IsOrchestratorError() bool { return true }

// ProcessExitError indicates the instance process exited.
// Stderr carries the captured (capped) stderr output for diagnostics.
type ProcessExitError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process exited (code %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("process exited (code %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessExitError) Unwrap() error {
	return e.Err
}

// IsOrchestratorError implements OrchestratorError.
func (e *ProcessExitError) IsOrchestratorError() bool { return true }

// FrameDecodeError indicates a stdout line could not be parsed as a frame.
// This error preserves the raw line; it is surfaced as an event and never
// stops the reader loop.
type FrameDecodeError struct {
	RawLine string
	Err     error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v", e.Err)
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}

// IsOrchestratorError implements OrchestratorError.
func (e *FrameDecodeError) IsOrchestratorError() bool { return true }

// ResourceLimitError indicates an instance sustainedly exceeded a resource
// ceiling and was killed.
type ResourceLimitError struct {
	Resource string // "memory" or "cpu"
	Limit    float64
	Observed float64
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: observed %.1f, limit %.1f", e.Resource, e.Observed, e.Limit)
}

// IsOrchestratorError implements OrchestratorError.
func (e *ResourceLimitError) IsOrchestratorError() bool { return true }
