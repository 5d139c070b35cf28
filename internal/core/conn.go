package core

import "context"

// Conn is the transport capability the core needs: complete text frames
// in, complete text frames out. Framing, fragmentation, and the close
// handshake live below this interface.
type Conn interface {
	// ReadText blocks until the next whole text frame arrives.
	ReadText(ctx context.Context) (string, error)

	// WriteText sends one whole text frame.
	WriteText(ctx context.Context, text string) error

	// Close tears down the connection. Safe to call more than once.
	Close() error
}
