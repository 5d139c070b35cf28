package http

import (
	"context"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/akarpov/chatrelay/internal/core"
)

// wsConn adapts a websocket connection to the core.Conn capability: whole
// text frames in, whole text frames out.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadText(ctx context.Context) (string, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return "", err
		}
		if typ != websocket.MessageText {
			// Binary frames are not part of the protocol.
			continue
		}
		return string(data), nil
	}
}

func (c *wsConn) WriteText(ctx context.Context, text string) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

// WSHandler upgrades HTTP connections and hands them to the hub for their
// whole lifetime.
type WSHandler struct {
	hub     *core.Hub
	log     *zerolog.Logger
	limiter *rateLimiter
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, logger *zerolog.Logger, limiter *rateLimiter) *WSHandler {
	return &WSHandler{hub: hub, log: logger, limiter: limiter}
}

// Handle is the gin entry point for /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	if !h.limiter.allow() {
		h.log.Warn().Str("remote", c.ClientIP()).Msg("connection rate limit hit")
		c.JSON(stdhttp.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// Blocks until the connection is gone; the request context is
	// canceled by the client disconnecting or server shutdown.
	h.hub.HandleSession(c.Request.Context(), &wsConn{conn: conn})

	conn.Close(websocket.StatusNormalClosure, "closing")
}
