package orchestrator

import "github.com/wagiedev/mcp-orchestrator-go/internal/errors"

// Re-export error types from internal package

// StartupError indicates the instance executable could not be started.
type StartupError = errors.StartupError

// ProcessExitError indicates the instance process exited.
type ProcessExitError = errors.ProcessExitError

// FrameDecodeError indicates a stdout line could not be parsed as a frame.
type FrameDecodeError = errors.FrameDecodeError

// ResourceLimitError indicates an instance exceeded a resource ceiling.
type ResourceLimitError = errors.ResourceLimitError

// OrchestratorError is the base interface for all engine errors.
type OrchestratorError = errors.OrchestratorError

// Re-export sentinel errors from internal package.
var (
	// ErrCallTimeout indicates no response arrived within the call deadline.
	ErrCallTimeout = errors.ErrCallTimeout

	// ErrProcessExited indicates the process died while a request was pending.
	ErrProcessExited = errors.ErrProcessExited

	// ErrCancelled indicates the instance was stopped while a request was pending.
	ErrCancelled = errors.ErrCancelled

	// ErrInstanceNotRunning indicates the instance is not in the Running state.
	ErrInstanceNotRunning = errors.ErrInstanceNotRunning

	// ErrQuotaExceeded indicates the tenant is at its instance limit.
	ErrQuotaExceeded = errors.ErrQuotaExceeded

	// ErrNotFound indicates no instance is registered under the given id.
	ErrNotFound = errors.ErrNotFound

	// ErrCursorTooOld indicates the requested cursor fell outside the
	// event retention window.
	ErrCursorTooOld = errors.ErrCursorTooOld

	// ErrSubscriberLagged indicates a live subscriber fell behind the
	// retention window.
	ErrSubscriberLagged = errors.ErrSubscriberLagged

	// ErrRegistryClosed indicates the registry has been shut down.
	ErrRegistryClosed = errors.ErrRegistryClosed
)
