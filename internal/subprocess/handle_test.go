package subprocess

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-orchestrator-go/internal/config"
	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
	"github.com/wagiedev/mcp-orchestrator-go/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript materializes a shell script standing in for a tool-server
// executable.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "server.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

// echoServer responds to every request with its own id.
const echoServer = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  [ -n "$id" ] && printf '{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}\n' "$id"
done`

func spawnScript(t *testing.T, body string, stderrLine func(string)) *Handle {
	t.Helper()

	cfg := &config.InstanceConfig{Command: writeScript(t, body)}

	h, err := Spawn(testLogger(), cfg, stderrLine)
	require.NoError(t, err)

	return h
}

func TestSpawn_ExecutableNotFound(t *testing.T) {
	cfg := &config.InstanceConfig{Command: "definitely-not-a-real-server-acbd18db"}

	_, err := Spawn(testLogger(), cfg, nil)

	var startupErr *errors.StartupError
	require.True(t, stderrors.As(err, &startupErr))
	require.Equal(t, cfg.Command, startupErr.Command)
}

func TestWriteAndReadFrames(t *testing.T) {
	h := spawnScript(t, echoServer, nil)
	defer h.Terminate(0)

	require.Positive(t, h.Pid())

	ctx := context.Background()
	frames, _ := h.ReadFrames(ctx)

	req := &protocol.Request{JSONRPC: protocol.Version, ID: 7, Method: "ping", Params: map[string]any{}}
	require.NoError(t, h.WriteFrame(ctx, req))

	select {
	case frame := <-frames:
		require.True(t, frame.IsResponse())
		require.Equal(t, uint64(7), *frame.ID)
		require.JSONEq(t, `{"ok":true}`, string(frame.Result))

	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the response frame")
	}
}

func TestWriteFrame_SerializedUnderConcurrency(t *testing.T) {
	h := spawnScript(t, echoServer, nil)
	defer h.Terminate(0)

	ctx := context.Background()
	frames, _ := h.ReadFrames(ctx)

	const writers = 8

	var wg sync.WaitGroup

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			req := &protocol.Request{
				JSONRPC: protocol.Version,
				ID:      uint64(i + 1),
				Method:  "ping",
				Params:  map[string]any{},
			}
			require.NoError(t, h.WriteFrame(ctx, req))
		}(i)
	}

	wg.Wait()

	// Interleaved writes would produce malformed lines; every frame must
	// come back intact.
	seen := make(map[uint64]bool)

	for n := 0; n < writers; n++ {
		select {
		case frame := <-frames:
			require.True(t, frame.IsResponse())
			seen[*frame.ID] = true

		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %d of %d responses", len(seen), writers)
		}
	}

	require.Len(t, seen, writers)
}

func TestReadFrames_MalformedLineDoesNotStopStream(t *testing.T) {
	h := spawnScript(t, `printf 'Server listening on port 8080\n'
printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'
sleep 5`, nil)
	defer h.Terminate(0)

	frames, errs := h.ReadFrames(context.Background())

	select {
	case err := <-errs:
		var decodeErr *errors.FrameDecodeError
		require.True(t, stderrors.As(err, &decodeErr))
		require.Equal(t, "Server listening on port 8080", decodeErr.RawLine)

	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the decode error")
	}

	select {
	case frame := <-frames:
		require.Equal(t, uint64(1), *frame.ID)

	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the frame after the malformed line")
	}
}

func TestReadFrames_ProcessExitCarriesCodeAndStderr(t *testing.T) {
	var mu sync.Mutex

	var stderrLines []string

	h := spawnScript(t, `echo "fatal: config missing" >&2
exit 3`, func(line string) {
		mu.Lock()
		stderrLines = append(stderrLines, line)
		mu.Unlock()
	})

	_, errs := h.ReadFrames(context.Background())

	var exitErr *errors.ProcessExitError

	deadline := time.After(5 * time.Second)

	for exitErr == nil {
		select {
		case err, ok := <-errs:
			require.True(t, ok, "error channel closed without an exit error")

			var exit *errors.ProcessExitError
			if stderrors.As(err, &exit) {
				exitErr = exit
			}

		case <-deadline:
			t.Fatal("timed out waiting for the exit error")
		}
	}

	require.Equal(t, 3, exitErr.ExitCode)
	require.Contains(t, exitErr.Stderr, "fatal: config missing")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"fatal: config missing"}, stderrLines)
}

func TestReadFrames_NoExitErrorAfterTerminate(t *testing.T) {
	h := spawnScript(t, `while :; do sleep 0.1; done`, nil)

	frames, errs := h.ReadFrames(context.Background())

	require.True(t, h.Terminate(0))

	// Intentional shutdown: the stream just ends.
	for frames != nil || errs != nil {
		select {
		case _, ok := <-frames:
			if !ok {
				frames = nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			require.NotErrorIs(t, err, errors.ErrProcessExited)

			var exit *errors.ProcessExitError
			require.False(t, stderrors.As(err, &exit), "unexpected exit error after Terminate")

		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the stream to end")
		}
	}
}

func TestTerminate_GracefulBeatsKill(t *testing.T) {
	h := spawnScript(t, `trap 'exit 0' TERM
while :; do sleep 0.05; done`, nil)

	_, _ = h.ReadFrames(context.Background())

	escalated := h.Terminate(5 * time.Second)
	require.False(t, escalated, "process honored SIGTERM, kill must not fire")
}

func TestTerminate_EscalatesAfterGrace(t *testing.T) {
	h := spawnScript(t, `trap '' TERM
while :; do sleep 0.05; done`, nil)

	_, _ = h.ReadFrames(context.Background())

	escalated := h.Terminate(100 * time.Millisecond)
	require.True(t, escalated, "process ignores SIGTERM, kill must fire")
}

func TestTerminate_Idempotent(t *testing.T) {
	h := spawnScript(t, `while :; do sleep 0.05; done`, nil)

	_, _ = h.ReadFrames(context.Background())

	h.Terminate(0)
	require.False(t, h.Terminate(0))
}

func TestWriteFrame_AfterTerminate(t *testing.T) {
	h := spawnScript(t, echoServer, nil)

	_, _ = h.ReadFrames(context.Background())
	h.Terminate(0)

	err := h.WriteFrame(context.Background(), &protocol.Notification{
		JSONRPC: protocol.Version,
		Method:  "ping",
		Params:  map[string]any{},
	})
	require.ErrorIs(t, err, errors.ErrStdinClosed)
}

func TestBuildEnvironment(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("HOME", "/home/orchestrator")

	env := buildEnvironment(map[string]string{
		"API_KEY": "secret",
		"HOME":    "/srv/instance",
	})

	require.Contains(t, env, "PATH=/usr/bin")
	require.Contains(t, env, "API_KEY=secret")
	require.Contains(t, env, "HOME=/srv/instance")
	require.NotContains(t, env, "HOME=/home/orchestrator")
}
