package hub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed early")

		return ev

	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")

		return Event{}
	}
}

func requireClosed(t *testing.T, ch <-chan Event) {
	t.Helper()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected the event channel to be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the event channel to close")
	}
}

func TestPublish_AssignsGaplessSequences(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)
	require.Zero(t, h.LastSequence())

	for want := uint64(1); want <= 3; want++ {
		ev := h.Publish(TypeNotification, "notifications/progress", nil)
		require.Equal(t, want, ev.Sequence)
		require.Equal(t, "inst-1", ev.InstanceID)
		require.False(t, ev.Timestamp.IsZero())
	}

	require.Equal(t, uint64(3), h.LastSequence())
}

func TestSubscribe_ReplayThenLive(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	for n := 0; n < 3; n++ {
		h.Publish(TypeNotification, "notifications/progress", nil)
	}

	sub, err := h.Subscribe(context.Background(), 1)
	require.NoError(t, err)

	defer sub.Close()

	// Replay: everything after the cursor.
	require.Equal(t, uint64(2), recvEvent(t, sub.Events()).Sequence)
	require.Equal(t, uint64(3), recvEvent(t, sub.Events()).Sequence)

	// Live tail.
	h.Publish(TypeHeartbeat, "", nil)
	ev := recvEvent(t, sub.Events())
	require.Equal(t, uint64(4), ev.Sequence)
	require.Equal(t, TypeHeartbeat, ev.Type)
}

func TestSubscribe_CursorZeroReplaysEverything(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	h.Publish(TypeStderr, "", nil)
	h.Publish(TypeStderr, "", nil)

	sub, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	defer sub.Close()

	require.Equal(t, uint64(1), recvEvent(t, sub.Events()).Sequence)
	require.Equal(t, uint64(2), recvEvent(t, sub.Events()).Sequence)
}

func TestSubscribe_CursorTooOld(t *testing.T) {
	h := New(testLogger(), "inst-1", 4)

	// Sequences 1..10 published, ring retains 7..10.
	for n := 0; n < 10; n++ {
		h.Publish(TypeNotification, "", nil)
	}

	_, err := h.Subscribe(context.Background(), 5)
	require.ErrorIs(t, err, errors.ErrCursorTooOld)

	// Cursor 6 is the oldest still resumable: its successor 7 is retained.
	sub, err := h.Subscribe(context.Background(), 6)
	require.NoError(t, err)

	defer sub.Close()

	require.Equal(t, uint64(7), recvEvent(t, sub.Events()).Sequence)
}

// A cursor past the last assigned sequence can only come from a different
// stream; it is rejected instead of blocking forever.
func TestSubscribe_CursorBeyondLastSequence(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	for n := 0; n < 3; n++ {
		h.Publish(TypeNotification, "", nil)
	}

	_, err := h.Subscribe(context.Background(), 7)
	require.ErrorIs(t, err, errors.ErrCursorTooOld)

	// The exact last sequence is a caught-up subscriber, not a stale one.
	sub, err := h.Subscribe(context.Background(), 3)
	require.NoError(t, err)

	defer sub.Close()

	h.Publish(TypeHeartbeat, "", nil)
	require.Equal(t, uint64(4), recvEvent(t, sub.Events()).Sequence)

	// On a hub with no history any positive cursor is stale.
	empty := New(testLogger(), "inst-2", 16)

	_, err = empty.Subscribe(context.Background(), 1)
	require.ErrorIs(t, err, errors.ErrCursorTooOld)
}

func TestSubscribe_IndependentCursors(t *testing.T) {
	h := New(testLogger(), "inst-1", 128)

	for n := 0; n < 60; n++ {
		h.Publish(TypeNotification, "", nil)
	}

	subA, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	defer subA.Close()

	subB, err := h.Subscribe(context.Background(), 50)
	require.NoError(t, err)

	defer subB.Close()

	for want := uint64(1); want <= 60; want++ {
		require.Equal(t, want, recvEvent(t, subA.Events()).Sequence)
	}

	for want := uint64(51); want <= 60; want++ {
		require.Equal(t, want, recvEvent(t, subB.Events()).Sequence)
	}

	// Both see the same new event.
	h.Publish(TypeHeartbeat, "", nil)
	require.Equal(t, uint64(61), recvEvent(t, subA.Events()).Sequence)
	require.Equal(t, uint64(61), recvEvent(t, subB.Events()).Sequence)
}

func TestSubscribe_DetachLeavesOthersRunning(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	subA, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	subB, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	defer subB.Close()

	subA.Close()
	requireClosed(t, subA.Events())
	require.NoError(t, subA.Err())

	h.Publish(TypeNotification, "notifications/progress", nil)
	require.Equal(t, uint64(1), recvEvent(t, subB.Events()).Sequence)

	require.Eventually(t, func() bool {
		return h.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_LaggedSubscriberGetsError(t *testing.T) {
	h := New(testLogger(), "inst-1", 4)

	sub, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	defer sub.Close()

	// Consume one event so the subscriber has a positive cursor, then
	// flood the ring far past it without letting the subscriber drain.
	h.Publish(TypeNotification, "", nil)
	require.Equal(t, uint64(1), recvEvent(t, sub.Events()).Sequence)

	for n := 0; n < 20; n++ {
		h.Publish(TypeNotification, "", nil)
	}

	// The delivery loop eventually notices the eviction. Some retained
	// events may still arrive first; the stream must end with
	// ErrSubscriberLagged rather than silently skipping.
	deadline := time.After(5 * time.Second)

	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				require.ErrorIs(t, sub.Err(), errors.ErrSubscriberLagged)

				return
			}

		case <-deadline:
			t.Fatal("timed out waiting for the lagged stream to end")
		}
	}
}

func TestClose_DrainsBacklogThenEnds(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	h.Publish(TypeNotification, "", nil)
	h.Publish(TypeDisconnected, "", nil)

	sub, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	h.Close()

	require.Equal(t, uint64(1), recvEvent(t, sub.Events()).Sequence)
	require.Equal(t, uint64(2), recvEvent(t, sub.Events()).Sequence)
	requireClosed(t, sub.Events())
	require.NoError(t, sub.Err())
}

func TestSubscribe_AfterCloseReplaysRetained(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	h.Publish(TypeStderr, "", nil)
	h.Close()

	sub, err := h.Subscribe(context.Background(), 0)
	require.NoError(t, err)

	require.Equal(t, uint64(1), recvEvent(t, sub.Events()).Sequence)
	requireClosed(t, sub.Events())
	require.NoError(t, sub.Err())
}

func TestPublish_AfterCloseIsNoop(t *testing.T) {
	h := New(testLogger(), "inst-1", 16)

	h.Publish(TypeNotification, "", nil)
	h.Close()

	ev := h.Publish(TypeNotification, "", nil)
	require.Zero(t, ev.Sequence)
	require.Equal(t, uint64(1), h.LastSequence())
}
