package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Writer serializes frames onto an HTTP response.
type Writer interface {
	WriteFrame(f Frame) error
	ContentType() string
}

// NegotiateWriter picks SSE when the client accepts text/event-stream,
// otherwise NDJSON.
func NegotiateWriter(w http.ResponseWriter, r *http.Request) Writer {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return NewSSEWriter(w)
	}
	return NewNDJSONWriter(w)
}

// SSEWriter emits frames as server-sent events, one event per frame with
// the frame kind as the event name.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps a response writer for SSE output.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

func (s *SSEWriter) ContentType() string { return "text/event-stream" }

func (s *SSEWriter) WriteFrame(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %d\ndata: %s\n\n", f.Kind, f.Seq, payload); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// NDJSONWriter emits one JSON object per line.
type NDJSONWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewNDJSONWriter wraps a response writer for NDJSON output.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	flusher, _ := w.(http.Flusher)
	return &NDJSONWriter{w: w, flusher: flusher}
}

func (n *NDJSONWriter) ContentType() string { return "application/x-ndjson" }

func (n *NDJSONWriter) WriteFrame(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := n.w.Write(append(payload, '\n')); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}
