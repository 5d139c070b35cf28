package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Session is the server-side state for one client connection. The username
// stays empty until login succeeds and is assigned exactly once.
//
// Every session owns a FIFO queue of pending outbound payloads drained by
// a single writer goroutine, so at most one write is in flight per
// connection and everything queued by concurrent producers is delivered in
// enqueue order.
type Session struct {
	ID   string
	conn Conn

	username string

	mu     sync.Mutex
	closed bool
	out    chan string
}

func newSession(conn Conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Session{
		ID:   uuid.NewString(),
		conn: conn,
		out:  make(chan string, queueSize),
	}
}

// Username returns the authenticated username, or "" before login.
func (s *Session) Username() string {
	return s.username
}

// Push enqueues a text payload for delivery. Returns false if the session
// is closed or its queue is full; the payload is then dropped and the
// slow or dead connection is left to the transport error path to close.
func (s *Session) Push(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- text:
		return true
	default:
		return false
	}
}

// PushJSON marshals v and enqueues it as a single frame.
func (s *Session) PushJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.Push(string(data))
}

// Close marks the session closed and wakes the writer. Queued-but-unsent
// payloads are discarded. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	_ = s.conn.Close()
}

// writeLoop drains the outbound queue onto the connection, one frame at a
// time. Returns nil once the session is closed, or the first write error.
func (s *Session) writeLoop(ctx context.Context) error {
	for text := range s.out {
		if err := s.conn.WriteText(ctx, text); err != nil {
			return err
		}
	}
	return nil
}
