package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fin-news/internal/database"
	"fin-news/internal/handlers"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background workers",
		Long: `Start the HTTP API. Unless worker.enabled is false, feeds are polled and
pending articles are processed in the background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "HTTP port (default from config: 8080)")
	return cmd
}

func runServe(ctx context.Context, port string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start")
		return err
	}
	defer a.Close()

	if err := database.Migrate(a.db, log); err != nil {
		return err
	}

	ws := a.workerService()
	if cfg.Worker.Enabled {
		if err := ws.Start(); err != nil {
			return eris.Wrap(err, "failed to start background workers")
		}
	}
	defer ws.Stop()

	router := handlers.NewRouter(handlers.RouterDeps{
		API:     handlers.NewAPIHandler(a.articles, a.events, ws),
		Docs:    handlers.NewDocsHandler(cfg.Server.DocsDir),
		GinMode: cfg.Server.GinMode,
		Logger:  log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server starting")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server error")
		}
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown failed")
		}
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
