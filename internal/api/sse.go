package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/contentapi/internal/posts"
)

const (
	// heartbeatInterval is how often idle streams receive a heartbeat event.
	heartbeatInterval = 30 * time.Second

	// streamBuffer is how many undelivered events a stream may hold before
	// further events are dropped for it.
	streamBuffer = 64
)

// SSEEvent is one frame on the /api/events stream.
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ---------------------------------------------------------------------------
// SSEBroadcaster
// ---------------------------------------------------------------------------

// SSEBroadcaster is the posts.Notifier behind GET /api/events. It fans every
// change event out to the open streams without blocking the writer that
// produced it.
type SSEBroadcaster struct {
	mu      sync.RWMutex
	streams map[string]chan SSEEvent
	dropped atomic.Int64
}

// NewSSEBroadcaster creates a broadcaster with no open streams.
func NewSSEBroadcaster() *SSEBroadcaster {
	return &SSEBroadcaster{streams: make(map[string]chan SSEEvent)}
}

// open registers a stream under a fresh id. The returned func removes it
// and must be called once the stream ends.
func (b *SSEBroadcaster) open() (string, <-chan SSEEvent, func()) {
	id := uuid.NewString()
	ch := make(chan SSEEvent, streamBuffer)

	b.mu.Lock()
	b.streams[id] = ch
	n := len(b.streams)
	b.mu.Unlock()
	slog.Debug("sse: stream opened", "client_id", id, "open", n)

	return id, ch, func() {
		b.mu.Lock()
		delete(b.streams, id)
		n := len(b.streams)
		b.mu.Unlock()
		slog.Debug("sse: stream closed", "client_id", id, "open", n)
	}
}

// Notify queues ev, under its type name, on every open stream. A stream
// whose buffer is full misses the event.
func (b *SSEBroadcaster) Notify(ev posts.Event) {
	frame := SSEEvent{Event: ev.Type, Data: ev}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.streams {
		select {
		case ch <- frame:
		default:
			b.dropped.Add(1)
			slog.Warn("sse: dropping event for slow client", "event", ev.Type, "client_id", id)
		}
	}
}

// ClientCount returns the number of open streams.
func (b *SSEBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams)
}

// Dropped returns how many events slow streams have missed.
func (b *SSEBroadcaster) Dropped() int64 { return b.dropped.Load() }

// ---------------------------------------------------------------------------
// HTTP handler: GET /api/events
// ---------------------------------------------------------------------------

// handleSSE streams change events. The first frame is "ready" and carries
// the stream id; idle streams get a heartbeat. The stream ends when the
// client goes away or the server shuts down.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE_NOT_SUPPORTED",
			"streaming unsupported")
		return
	}

	// Register before the headers go out so a client that has seen the
	// response never misses an event.
	id, events, done := s.sse.open()
	defer done()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)

	ready := SSEEvent{Event: "ready", Data: map[string]string{"client_id": id}}
	if err := writeSSEEvent(w, flusher, ready); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		var evt SSEEvent
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case evt = <-events:
		case t := <-heartbeat.C:
			evt = SSEEvent{Event: "heartbeat", Data: map[string]int64{"t": t.Unix()}}
		}
		if err := writeSSEEvent(w, flusher, evt); err != nil {
			return
		}
	}
}

// writeSSEEvent writes one "event:/data:" frame and flushes it.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, evt SSEEvent) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
