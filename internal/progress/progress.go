// Package progress routes per-client progress events to server-push streams.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Event is a single progress update for one client.
type Event struct {
	ClientID string
	Percent  int
}

// Sink is somewhere to push progress events, independent of transport framing.
// Emit reports whether the event was written; after Close it writes nothing
// and returns false.
type Sink interface {
	Emit(Event) bool
	Close()
}

// StreamSink writes server-sent event frames to an underlying writer and
// flushes after every frame.
type StreamSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	done    chan struct{}
	err     error
}

// NewStreamSink wraps w. If w implements http.Flusher every frame is flushed
// immediately.
func NewStreamSink(w io.Writer) *StreamSink {
	s := &StreamSink{w: w, done: make(chan struct{})}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

type progressPayload struct {
	Progress int `json:"progress"`
}

// Emit writes `event: <clientID>` with a {"progress": N} payload.
func (s *StreamSink) Emit(e Event) bool {
	data, err := json.Marshal(progressPayload{Progress: e.Percent})
	if err != nil {
		return false
	}
	return s.write(e.ClientID, string(data))
}

// Identify sends the initial identity frame a client uses to learn its ID.
func (s *StreamSink) Identify(clientID string) {
	s.write("GUID", clientID)
}

// Keepalive writes an SSE comment line so proxies keep the connection open.
func (s *StreamSink) Keepalive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.writeLocked(": keepalive\n\n")
}

func (s *StreamSink) write(event, data string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.writeLocked(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

func (s *StreamSink) writeLocked(frame string) bool {
	if _, err := io.WriteString(s.w, frame); err != nil {
		// A broken transport ends the stream; later emits are dropped.
		s.err = err
		s.closeLocked()
		return false
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return true
}

// Close marks the sink closed. Safe to call more than once.
func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *StreamSink) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Done is closed once the sink has been closed, either explicitly or because
// a write to the transport failed.
func (s *StreamSink) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport error that closed the sink, if any.
func (s *StreamSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
