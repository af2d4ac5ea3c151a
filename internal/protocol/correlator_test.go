package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
)

// mockWriter implements FrameWriter and exposes every written frame on a
// channel so tests can respond like a process would.
type mockWriter struct {
	mu    sync.Mutex
	fail  error
	wrote chan json.RawMessage
}

func newMockWriter() *mockWriter {
	return &mockWriter{wrote: make(chan json.RawMessage, 100)}
}

func (w *mockWriter) WriteFrame(_ context.Context, v any) error {
	w.mu.Lock()
	fail := w.fail
	w.mu.Unlock()

	if fail != nil {
		return fail
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.wrote <- data

	return nil
}

func (w *mockWriter) failWith(err error) {
	w.mu.Lock()
	w.fail = err
	w.mu.Unlock()
}

// writtenRequest is the shape of frames the mock captures.
type writtenRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextWritten(t *testing.T, w *mockWriter) writtenRequest {
	t.Helper()

	select {
	case data := <-w.wrote:
		var req writtenRequest
		require.NoError(t, json.Unmarshal(data, &req))

		return req

	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a written frame")

		return writtenRequest{}
	}
}

func TestCall_ResolvesResult(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	type result struct {
		data json.RawMessage
		err  error
	}

	resultCh := make(chan result, 1)

	go func() {
		data, err := corr.Call(context.Background(), "tools/list", nil, 5*time.Second)
		resultCh <- result{data, err}
	}()

	req := nextWritten(t, writer)
	require.Equal(t, Version, req.JSONRPC)
	require.Equal(t, uint64(1), req.ID)
	require.Equal(t, "tools/list", req.Method)
	require.JSONEq(t, `{}`, string(req.Params))

	id := req.ID
	require.True(t, corr.Resolve(&Frame{
		JSONRPC: Version,
		ID:      &id,
		Result:  json.RawMessage(`{"tools":[]}`),
	}))

	out := <-resultCh
	require.NoError(t, out.err)
	require.JSONEq(t, `{"tools":[]}`, string(out.data))
	require.Equal(t, 0, corr.PendingCount())
}

func TestCall_ConcurrentNoCrosstalk(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	const callers = 10

	// Echo responder: every request is answered with its own params as the
	// result, so a misrouted response is immediately visible.
	responderDone := make(chan struct{})

	go func() {
		defer close(responderDone)

		for n := 0; n < callers; n++ {
			req := nextWritten(t, writer)
			id := req.ID
			corr.Resolve(&Frame{JSONRPC: Version, ID: &id, Result: req.Params})
		}
	}()

	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			params := map[string]int{"caller": i}

			data, err := corr.Call(context.Background(), "tools/call", params, 5*time.Second)
			require.NoError(t, err)
			require.JSONEq(t, fmt.Sprintf(`{"caller":%d}`, i), string(data))
		}(i)
	}

	wg.Wait()
	<-responderDone

	require.Equal(t, 0, corr.PendingCount())
}

func TestCall_MonotonicIDs(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	for want := uint64(1); want <= 3; want++ {
		go func() {
			_, _ = corr.Call(context.Background(), "ping", nil, 5*time.Second)
		}()

		req := nextWritten(t, writer)
		require.Equal(t, want, req.ID)

		id := req.ID
		corr.Resolve(&Frame{JSONRPC: Version, ID: &id, Result: json.RawMessage(`{}`)})
	}
}

func TestCall_Timeout(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	_, err := corr.Call(context.Background(), "tools/call", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrCallTimeout)

	// The pending entry is reclaimed; a late response is simply dropped.
	require.Equal(t, 0, corr.PendingCount())

	id := uint64(1)
	require.False(t, corr.Resolve(&Frame{JSONRPC: Version, ID: &id, Result: json.RawMessage(`{}`)}))
}

func TestCall_ContextCancelled(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		_, err := corr.Call(ctx, "tools/call", nil, 5*time.Second)
		errCh <- err
	}()

	nextWritten(t, writer)
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Equal(t, 0, corr.PendingCount())
}

func TestCall_RPCError(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	errCh := make(chan error, 1)

	go func() {
		_, err := corr.Call(context.Background(), "tools/call", nil, 5*time.Second)
		errCh <- err
	}()

	req := nextWritten(t, writer)
	id := req.ID
	corr.Resolve(&Frame{
		JSONRPC: Version,
		ID:      &id,
		Error:   &RPCError{Code: -32602, Message: "invalid params"},
	})

	err := <-errCh
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32602, rpcErr.Code)
}

func TestCall_WriteFailureReclaimsPending(t *testing.T) {
	writer := newMockWriter()
	writer.failWith(errors.ErrStdinClosed)

	corr := NewCorrelator(testLogger(), writer)

	_, err := corr.Call(context.Background(), "tools/call", nil, 5*time.Second)
	require.ErrorIs(t, err, errors.ErrStdinClosed)
	require.Equal(t, 0, corr.PendingCount())
}

func TestFailAll_FailsPendingAndRejectsFuture(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	const pending = 3

	errCh := make(chan error, pending)

	for n := 0; n < pending; n++ {
		go func() {
			_, err := corr.Call(context.Background(), "tools/call", nil, 5*time.Second)
			errCh <- err
		}()
	}

	for n := 0; n < pending; n++ {
		nextWritten(t, writer)
	}

	require.Equal(t, pending, corr.PendingCount())

	corr.FailAll(errors.ErrProcessExited)

	for n := 0; n < pending; n++ {
		require.ErrorIs(t, <-errCh, errors.ErrProcessExited)
	}

	// Future calls fail fast without writing anything.
	_, err := corr.Call(context.Background(), "tools/call", nil, 5*time.Second)
	require.ErrorIs(t, err, errors.ErrProcessExited)
	require.Empty(t, writer.wrote)
}

func TestFailAll_FirstErrorWins(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	corr.FailAll(errors.ErrCancelled)
	corr.FailAll(errors.ErrProcessExited)

	_, err := corr.Call(context.Background(), "ping", nil, time.Second)
	require.ErrorIs(t, err, errors.ErrCancelled)
}

func TestResolve_UnknownID(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	id := uint64(99)
	require.False(t, corr.Resolve(&Frame{JSONRPC: Version, ID: &id}))
	require.False(t, corr.Resolve(&Frame{JSONRPC: Version, Method: "notifications/progress"}))
}

func TestNotify_WritesNotificationFrame(t *testing.T) {
	writer := newMockWriter()
	corr := NewCorrelator(testLogger(), writer)

	require.NoError(t, corr.Notify(context.Background(), "notifications/initialized", nil))

	select {
	case data := <-writer.wrote:
		var frame map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &frame))
		require.NotContains(t, frame, "id")
		require.JSONEq(t, `"notifications/initialized"`, string(frame["method"]))
		require.JSONEq(t, `{}`, string(frame["params"]))

	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the notification frame")
	}
}
