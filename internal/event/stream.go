package event

import (
	"fmt"
	"io"
	"net/http"
)

// Stream writes events to w in Server-Sent-Events framing, one
// "data: <json>\n\n" unit per event, flushing after each one.
type Stream struct {
	w       io.Writer
	flusher http.Flusher
}

// NewStream wraps w. If w is an http.Flusher every event is flushed immediately.
func NewStream(w io.Writer) *Stream {
	s := &Stream{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}

	return s
}

// Send encodes and writes a single event.
func (s *Stream) Send(ev Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if s.flusher != nil {
		s.flusher.Flush()
	}

	return nil
}

// SetHeaders sets the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
