package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/akarpov/chatrelay/internal/config"
	"github.com/akarpov/chatrelay/internal/core"
	"github.com/akarpov/chatrelay/internal/store"
	"github.com/akarpov/chatrelay/internal/store/sqlite"
	transporthttp "github.com/akarpov/chatrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	stopLimiter     func()
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	hub := core.NewHub(st, logger, core.Options{
		HistoryLimit:      cfg.HistoryLimit,
		GroupHistoryLimit: cfg.GroupHistoryLimit,
		SessionQueueSize:  cfg.SessionQueueSize,
	})
	server, stopLimiter := transporthttp.NewServer(hub, cfg, logger)

	return &App{
		server:          server,
		stopLimiter:     stopLimiter,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup releases background helpers and closes the database. Run calls
// it on every exit path, including ListenAndServe failures.
func (a *App) cleanup() {
	if a.stopLimiter != nil {
		a.stopLimiter()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
