// Package stream carries ordered event frames from the orchestrator to one
// client, over SSE or NDJSON.
package stream

import (
	"context"
	"sync"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// FrameKind enumerates the stream frame types.
type FrameKind string

const (
	FrameStart           FrameKind = "start"
	FrameProgress        FrameKind = "progress"
	FramePartial         FrameKind = "partial"
	FrameChart           FrameKind = "chart"
	FrameInsights        FrameKind = "insights"
	FrameRecommendations FrameKind = "recommendations"
	FrameComplete        FrameKind = "complete"
	FrameError           FrameKind = "error"
)

// Frame is one event on the stream. Seq is monotonically increasing within
// a session; consumers de-duplicate by it.
type Frame struct {
	Seq  uint64    `json:"seq"`
	Kind FrameKind `json:"kind"`
	Data any       `json:"data,omitempty"`
}

// StartData is the payload of the opening frame.
type StartData struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// CompleteData is the payload of the terminal success frame.
type CompleteData struct {
	Cached bool `json:"cached,omitempty"`
}

// ErrorData is the payload of the terminal failure frame.
type ErrorData struct {
	Message         string                  `json:"message"`
	ClassifiedError *models.ClassifiedError `json:"classifiedError,omitempty"`
}

// Session owns the bounded frame channel for one request. Emit never blocks
// on a full buffer for progress frames: the newest progress frame for a
// stage replaces queueing and is coalesced by dropping the older update.
// Terminal and payload frames block until the consumer drains.
type Session struct {
	frames chan Frame
	cancel context.CancelFunc
	done   <-chan struct{}

	mu       sync.Mutex
	seq      uint64
	terminal bool
	closed   bool

	// last progress sequence per stage, for coalescing accounting.
	droppedProgress int
}

// NewSession creates a session whose run context is cancelled when the
// client goes away. buffer must be at least 1.
func NewSession(parent context.Context, buffer int) (*Session, context.Context) {
	if buffer < 1 {
		buffer = 1
	}
	runCtx, cancel := context.WithCancel(parent)
	return &Session{
		frames: make(chan Frame, buffer),
		cancel: cancel,
		done:   runCtx.Done(),
	}, runCtx
}

// Frames is the consumer side of the stream. It is closed after the
// terminal frame is emitted.
func (s *Session) Frames() <-chan Frame {
	return s.frames
}

// Cancel propagates a client disconnect into the run context.
func (s *Session) Cancel() {
	s.cancel()
}

// DroppedProgress reports how many progress frames were coalesced away.
func (s *Session) DroppedProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedProgress
}

// Emit appends a frame. After a terminal frame every further emit is a
// silent no-op, preserving the exactly-one-terminal guarantee. Returns
// false when the frame was dropped (coalesced or post-terminal).
func (s *Session) Emit(kind FrameKind, data any) bool {
	s.mu.Lock()
	if s.terminal || s.closed {
		s.mu.Unlock()
		return false
	}
	s.seq++
	frame := Frame{Seq: s.seq, Kind: kind, Data: data}
	isTerminal := kind == FrameComplete || kind == FrameError
	if isTerminal {
		s.terminal = true
	}

	if kind == FrameProgress && !isTerminal {
		// Progress is lossy under backpressure.
		select {
		case s.frames <- frame:
			s.mu.Unlock()
			return true
		default:
			s.droppedProgress++
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()

	// Payload and terminal frames block until delivered, unless the run
	// context is gone: a disconnected client stops draining, and a send
	// with no receiver would pin the producing goroutine forever.
	delivered := true
	select {
	case s.frames <- frame:
	case <-s.done:
		delivered = false
	}
	if isTerminal {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.frames)
		}
		s.mu.Unlock()
	}
	return delivered
}

// EmitProgress sends a progress frame built from the workflow state.
func (s *Session) EmitProgress(p models.Progress) bool {
	return s.Emit(FrameProgress, p)
}

// EmitError sends the terminal failure frame.
func (s *Session) EmitError(message string, cerr *models.ClassifiedError) bool {
	return s.Emit(FrameError, ErrorData{Message: message, ClassifiedError: cerr})
}

// EmitComplete sends the terminal success frame.
func (s *Session) EmitComplete(cached bool) bool {
	return s.Emit(FrameComplete, CompleteData{Cached: cached})
}
