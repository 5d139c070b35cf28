package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/akarpov/chatrelay/internal/core"
)

// APIHandlers serves the read-only REST surface next to the websocket.
type APIHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{hub: hub, log: logger}
}

// HistoryEntry is one public message as exposed over REST.
type HistoryEntry struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /health.
func (h *APIHandlers) Health(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// Online handles GET /api/online: usernames of registered sessions.
func (h *APIHandlers) Online(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"users": h.hub.OnlineUsers()})
}

// History handles GET /api/history: recent public messages, newest first.
func (h *APIHandlers) History(c *gin.Context) {
	msgs, err := h.hub.RecentHistory(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("query history")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}

	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, HistoryEntry{
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Body:      m.Body,
			Timestamp: m.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	c.JSON(stdhttp.StatusOK, gin.H{"messages": entries})
}
