package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/auth"
	"github.com/syncboard/syncboard/internal/config"
	"github.com/syncboard/syncboard/internal/gateway"
	"github.com/syncboard/syncboard/internal/observability"
	"github.com/syncboard/syncboard/internal/presence"
	"github.com/syncboard/syncboard/internal/registry"
	"github.com/syncboard/syncboard/internal/store"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "syncboard",
		Short:   "Realtime collaborative task board server",
		Version: version,
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if debug {
				cfg.Logging.Level = "debug"
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pg, err := store.NewPostgres(store.PostgresConfig{
				URL:             cfg.Database.URL,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pg.Close()

			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			logger.Info("database ready")

			metrics := observability.NewMetrics(nil)

			connReg := registry.New()
			pres := presence.New(presence.Config{
				ExistenceWindow: cfg.Presence.ExistenceWindow,
				ActiveWindow:    cfg.Presence.ActiveWindow,
				MaxEntries:      cfg.Presence.MaxEntries,
				MaxProfileCache: cfg.Presence.MaxProfileCache,
			}, pg, logger)

			authSvc := auth.NewService(auth.Config{
				JWTSecret:   cfg.Auth.JWTSecret,
				TokenExpiry: cfg.Auth.TokenExpiry,
			}, pg)

			disp := gateway.NewDispatcher(connReg, logger, metrics)
			router := gateway.NewRouter(connReg, pres, disp, pg, authSvc, logger, metrics)
			timers := gateway.NewTimers(connReg, pres, disp, logger, metrics,
				cfg.Presence.RebroadcastInterval, cfg.Presence.SweepInterval)

			srv := gateway.NewServer(cfg.Server, cfg.Gateway, connReg, pres, disp, router, timers, logger, metrics, nil)

			logger.Info("starting syncboard", "version", version, "port", cfg.Server.Port)
			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}
