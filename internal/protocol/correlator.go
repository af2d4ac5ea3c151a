package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
)

// FrameWriter is the minimal write side of a process handle.
// Satisfied by subprocess.Handle; mocked in tests.
type FrameWriter interface {
	WriteFrame(ctx context.Context, v any) error
}

// Correlator turns the process's asynchronous frame stream into
// request/response pairs. Multiple callers may Call concurrently; writes
// are serialized by the FrameWriter, waiting is fully independent.
//
// Request ids are monotonically increasing and never reused within a
// process lifetime, so a late response for a timed-out id can never be
// delivered to the wrong caller.
type Correlator struct {
	log    *slog.Logger
	writer FrameWriter

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	failed  error // set once the process exited or the instance stopped
}

// pendingCall is the single-resolution slot for one in-flight request.
type pendingCall struct {
	method      string
	submittedAt time.Time
	outcome     chan callOutcome // buffered, written exactly once
}

type callOutcome struct {
	frame *Frame
	err   error
}

// NewCorrelator creates a correlator writing through the given writer.
func NewCorrelator(log *slog.Logger, writer FrameWriter) *Correlator {
	return &Correlator{
		log:     log.With("component", "correlator"),
		writer:  writer,
		pending: make(map[uint64]*pendingCall, 8),
	}
}

// Call sends a request and waits for its correlated response.
//
// It returns the response result on success, the process's RPCError if the
// response carries one, ErrCallTimeout when the deadline elapses, or the
// failure set by FailAll (ErrProcessExited, ErrCancelled) if the process
// went away while the request was pending.
func (c *Correlator) Call(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	id := c.nextID.Add(1)

	call := &pendingCall{
		method:      method,
		submittedAt: time.Now(),
		outcome:     make(chan callOutcome, 1),
	}

	c.mu.Lock()

	if c.failed != nil {
		err := c.failed
		c.mu.Unlock()

		return nil, err
	}

	c.pending[id] = call
	c.mu.Unlock()

	c.log.Debug("Sending request", "request_id", id, "method", method)

	req := &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	if err := c.writer.WriteFrame(ctx, req); err != nil {
		c.remove(id)

		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-call.outcome:
		if out.err != nil {
			return nil, out.err
		}

		return c.unwrapResponse(id, out.frame)

	case <-timer.C:
		c.remove(id)
		c.log.Warn("Request timed out", "request_id", id, "method", method, "timeout", timeout)

		return nil, fmt.Errorf("%w after %s", errors.ErrCallTimeout, timeout)

	case <-ctx.Done():
		c.remove(id)
		c.log.Debug("Request cancelled by caller", "request_id", id, "method", method)

		return nil, ctx.Err()
	}
}

// unwrapResponse converts a claimed response frame into a result or error.
func (c *Correlator) unwrapResponse(id uint64, frame *Frame) (json.RawMessage, error) {
	if frame.Error != nil {
		c.log.Debug("Request returned error", "request_id", id, "code", frame.Error.Code)

		return nil, frame.Error
	}

	c.log.Debug("Request resolved", "request_id", id)

	return frame.Result, nil
}

// Notify sends a fire-and-forget notification frame.
func (c *Correlator) Notify(ctx context.Context, method string, params any) error {
	n := &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
	if n.Params == nil {
		n.Params = map[string]any{}
	}

	return c.writer.WriteFrame(ctx, n)
}

// Resolve delivers a response frame to its waiting caller.
//
// It returns false when no caller is waiting for the id: the request
// already timed out, was cancelled, or the id is unknown. The reader loop
// logs and drops such frames.
func (c *Correlator) Resolve(frame *Frame) bool {
	if frame.ID == nil {
		return false
	}

	id := *frame.ID

	c.mu.Lock()

	call, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}

	c.mu.Unlock()

	if !exists {
		return false
	}

	call.outcome <- callOutcome{frame: frame}

	return true
}

// FailAll fails every pending call with err and rejects future calls.
// Called with ErrProcessExited when the read stream ends unexpectedly and
// with ErrCancelled on explicit stop.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()

	if c.failed == nil {
		c.failed = err
	}

	calls := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()

	for id, call := range calls {
		c.log.Debug("Failing pending request", "request_id", id, "method", call.method, "error", err)
		call.outcome <- callOutcome{err: err}
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// remove drops a pending call without resolving it.
func (c *Correlator) remove(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
