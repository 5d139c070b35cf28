package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/akarpov/chatrelay/internal/app"
	"github.com/akarpov/chatrelay/internal/config"
	"github.com/akarpov/chatrelay/internal/log"
)

func main() {
	var (
		configPath string
		overrides  config.Config
	)

	rootCmd := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Real-time text messaging relay server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapLogger := log.New("info")

			cfg, path, err := config.Load(bootstrapLogger, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting chatrelay server")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to config.yaml")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.DatabasePath, "db", "", "path to the SQLite database")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.IntVar(&overrides.ConnRateLimit, "conn-rate-limit", 0, "max new connections per minute (0 disables)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
