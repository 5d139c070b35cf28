package http

import (
	stdhttp "net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/akarpov/chatrelay/internal/config"
	"github.com/akarpov/chatrelay/internal/core"
)

// NewServer builds the HTTP server: websocket entry point plus the
// read-only REST surface. The returned stop function releases the rate
// limiter's reset goroutine; the caller runs it on every exit path, not
// just graceful shutdown. It is safe to call more than once.
func NewServer(hub *core.Hub, cfg config.Config, logger *zerolog.Logger) (*stdhttp.Server, func()) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	limiter := newRateLimiter(cfg.ConnRateLimit)
	stop := make(chan struct{})
	limiter.startReset(stop)

	api := NewAPIHandlers(hub, logger)
	router.GET("/health", api.Health)
	router.GET("/api/online", api.Online)
	router.GET("/api/history", api.History)

	ws := NewWSHandler(hub, logger, limiter)
	router.GET("/ws", ws.Handle)

	server := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	var once sync.Once
	return server, func() { once.Do(func() { close(stop) }) }
}
