package core

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akarpov/chatrelay/internal/store"
	"github.com/akarpov/chatrelay/internal/store/sqlite"
)

const testWait = 2 * time.Second

// testConn is an in-memory Conn driven by channels, standing in for the
// websocket transport.
type testConn struct {
	in   chan string
	out  chan string
	done chan struct{}
	once sync.Once
}

func newTestConn() *testConn {
	return &testConn{
		in:   make(chan string, 16),
		out:  make(chan string, 256),
		done: make(chan struct{}),
	}
}

func (c *testConn) ReadText(ctx context.Context) (string, error) {
	select {
	case s := <-c.in:
		return s, nil
	case <-c.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *testConn) WriteText(ctx context.Context, text string) error {
	select {
	case c.out <- text:
		return nil
	case <-c.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *testConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *testConn) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- frame:
	case <-time.After(testWait):
		t.Fatal("send timed out")
	}
}

// next returns the next outbound frame or fails the test.
func (c *testConn) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.out:
		return s
	case <-time.After(testWait):
		t.Fatal("expected frame not received")
		return ""
	}
}

// nextContaining skips frames until one contains substr.
func (c *testConn) nextContaining(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.After(testWait)
	for {
		select {
		case s := <-c.out:
			if strings.Contains(s, substr) {
				return s
			}
		case <-deadline:
			t.Fatalf("no frame containing %q received", substr)
			return ""
		}
	}
}

// nextTyped skips frames until a JSON frame with the given type arrives.
func (c *testConn) nextTyped(t *testing.T, typ string) string {
	t.Helper()
	deadline := time.After(testWait)
	for {
		select {
		case s := <-c.out:
			var env struct {
				Type string `json:"type"`
			}
			if json.Unmarshal([]byte(s), &env) == nil && env.Type == typ {
				return s
			}
		case <-deadline:
			t.Fatalf("no %q frame received", typ)
			return ""
		}
	}
}

// collectUntil returns every frame received before the first one
// containing sentinel (exclusive).
func (c *testConn) collectUntil(t *testing.T, sentinel string) []string {
	t.Helper()
	deadline := time.After(testWait)
	var frames []string
	for {
		select {
		case s := <-c.out:
			if strings.Contains(s, sentinel) {
				return frames
			}
			frames = append(frames, s)
		case <-deadline:
			t.Fatalf("sentinel %q never received", sentinel)
			return nil
		}
	}
}

func newTestHub(t *testing.T) (*Hub, store.Store) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	return NewHub(st, &logger, Options{}), st
}

// seedUser registers an account directly through the store.
func seedUser(t *testing.T, st store.Store, user, pass string) {
	t.Helper()
	if err := st.RegisterUser(context.Background(), user, pass); err != nil {
		t.Fatalf("seed user %s: %v", user, err)
	}
}

// startSession connects a fresh testConn to the hub.
func startSession(t *testing.T, h *Hub) *testConn {
	t.Helper()

	conn := newTestConn()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.HandleSession(ctx, conn)
		close(done)
	}()
	t.Cleanup(func() {
		conn.Close()
		select {
		case <-done:
		case <-time.After(testWait):
			t.Error("session did not shut down")
		}
		cancel()
	})
	return conn
}

// login drives the credential exchange for an already-registered user.
func login(t *testing.T, c *testConn, user, pass string) {
	t.Helper()
	c.nextContaining(t, "enter username")
	c.send(t, user+","+pass)
	c.nextContaining(t, "welcome "+user)
}
