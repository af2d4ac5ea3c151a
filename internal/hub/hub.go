package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/wagiedev/mcp-orchestrator-go/internal/errors"
)

// Event types published on an instance's stream.
const (
	// TypeNotification is an unsolicited protocol message from the process.
	TypeNotification = "notification"
	// TypeRawOutput is a stdout line that failed to parse as a frame.
	TypeRawOutput = "raw_output"
	// TypeStderr is one line of process stderr.
	TypeStderr = "stderr"
	// TypeHeartbeat is a synthetic keep-alive with no payload.
	TypeHeartbeat = "heartbeat"
	// TypeDisconnected is the terminal event published when the process
	// exits unexpectedly.
	TypeDisconnected = "disconnected"
)

// Event is one entry in an instance's append-only stream. Sequence is
// strictly increasing per instance with no gaps, starting at 1.
type Event struct {
	Sequence   uint64          `json:"sequence"`
	InstanceID string          `json:"instance_id"`
	Type       string          `json:"type"`
	Method     string          `json:"method,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Hub is the per-instance broadcast of asynchronous events with a bounded
// replay ring. Publishing never blocks on subscriber presence; every
// subscriber consumes at its own pace from the ring.
type Hub struct {
	log        *slog.Logger
	instanceID string
	capacity   int

	mu      sync.Mutex
	cond    *sync.Cond
	ring    []Event // retained events, oldest first
	nextSeq uint64
	closed  bool
	subs    int
}

// New creates a hub retaining up to capacity events for replay.
func New(log *slog.Logger, instanceID string, capacity int) *Hub {
	h := &Hub{
		log:        log.With("component", "event_hub"),
		instanceID: instanceID,
		capacity:   capacity,
		ring:       make([]Event, 0, capacity),
		nextSeq:    1,
	}
	h.cond = sync.NewCond(&h.mu)

	return h
}

// Publish appends an event with the next sequence number and wakes all
// subscribers. It succeeds even with zero subscribers; once an event ages
// out of the ring it is unrecoverable.
func (h *Hub) Publish(typ, method string, payload json.RawMessage) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Event{}
	}

	ev := Event{
		Sequence:   h.nextSeq,
		InstanceID: h.instanceID,
		Type:       typ,
		Method:     method,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
	h.nextSeq++

	if len(h.ring) >= h.capacity {
		h.ring = h.ring[1:]
	}

	h.ring = append(h.ring, ev)

	h.cond.Broadcast()

	return ev
}

// LastSequence returns the most recently assigned sequence number, 0 if
// nothing was published yet.
func (h *Hub) LastSequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.nextSeq - 1
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.subs
}

// Close ends all subscriptions once they have drained the retained
// backlog. Publishing after Close is a no-op. Subscribers may still
// attach to a closed hub to replay retained events; their streams end
// immediately after the replay.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true
	h.cond.Broadcast()
}

// Subscription is one independent consumer of a hub's stream.
type Subscription struct {
	hub    *Hub
	cancel context.CancelFunc

	ch chan Event

	mu  sync.Mutex
	err error
}

// Events returns the ordered event channel. It is closed when the
// subscriber detaches, the hub closes after the backlog is drained, or the
// subscriber lags past the retention window (see Err).
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Err reports why the event channel closed. It returns
// ErrSubscriberLagged when events were evicted before delivery; nil for a
// normal end of stream.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close detaches the subscriber. It never affects the instance or other
// subscribers.
func (s *Subscription) Close() {
	s.cancel()
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe attaches a new independent subscriber.
//
// Events with Sequence > fromCursor are delivered first from the retained
// backlog, then live as they are published. fromCursor 0 means "replay
// everything retained, then continue live". If fromCursor is positive and
// already fell outside the retention window — or lies beyond the last
// assigned sequence, which only a cursor from a different stream can do —
// ErrCursorTooOld is returned so the caller can resync from a fresh
// snapshot instead of assuming continuity.
//
// Cancelling ctx detaches the subscriber with no other side effect.
func (h *Hub) Subscribe(ctx context.Context, fromCursor uint64) (*Subscription, error) {
	h.mu.Lock()

	if fromCursor > h.nextSeq-1 {
		// A stale cursor from a previous incarnation of the stream would
		// otherwise block silently on sequences that may never arrive.
		h.mu.Unlock()

		return nil, errors.ErrCursorTooOld
	}

	if fromCursor > 0 && len(h.ring) > 0 && fromCursor+1 < h.ring[0].Sequence {
		// Everything between the cursor and the retained window has been
		// evicted.
		h.mu.Unlock()

		return nil, errors.ErrCursorTooOld
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		hub:    h,
		cancel: cancel,
		ch:     make(chan Event),
	}

	h.subs++
	h.mu.Unlock()

	// Wake the delivery loop out of cond.Wait on detach.
	go func() {
		<-subCtx.Done()
		h.cond.Broadcast()
	}()

	go sub.run(subCtx, fromCursor)

	return sub, nil
}

// run is the per-subscriber delivery loop. Each subscriber paces itself:
// it reads batches from the ring by cursor, so a slow consumer never
// blocks the publisher or any other subscriber.
func (s *Subscription) run(ctx context.Context, cursor uint64) {
	h := s.hub

	defer func() {
		h.mu.Lock()
		h.subs--
		h.mu.Unlock()

		close(s.ch)
	}()

	for {
		h.mu.Lock()

		for !h.hasNewer(cursor) && !h.closed && ctx.Err() == nil {
			h.cond.Wait()
		}

		if ctx.Err() != nil {
			h.mu.Unlock()

			return
		}

		if cursor > 0 && len(h.ring) > 0 && cursor+1 < h.ring[0].Sequence {
			// The consumer fell behind and the ring evicted events it has
			// not seen. Tell it explicitly rather than silently skipping.
			h.mu.Unlock()
			s.setErr(errors.ErrSubscriberLagged)
			h.log.Warn("Subscriber lagged past retention window", "cursor", cursor)

			return
		}

		batch := h.collect(cursor)
		closed := h.closed
		h.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.ch <- ev:
				cursor = ev.Sequence
			case <-ctx.Done():
				return
			}
		}

		if closed && len(batch) == 0 {
			return
		}
	}
}

// hasNewer reports whether the ring holds an event past the cursor.
// Caller must hold h.mu.
func (h *Hub) hasNewer(cursor uint64) bool {
	return len(h.ring) > 0 && h.ring[len(h.ring)-1].Sequence > cursor
}

// collect copies the retained events past the cursor. Caller must hold h.mu.
func (h *Hub) collect(cursor uint64) []Event {
	start := len(h.ring)

	for i, ev := range h.ring {
		if ev.Sequence > cursor {
			start = i

			break
		}
	}

	if start == len(h.ring) {
		return nil
	}

	batch := make([]Event, len(h.ring)-start)
	copy(batch, h.ring[start:])

	return batch
}
