package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxharrison/podcast-adblocker/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for triggering and inspecting runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cfg, logger, err := ctx.dependencies()
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.Port
			}

			logger.Info("starting podcast adblocker",
				slog.Int("port", port),
				slog.String("log_format", cfg.LogFormat),
				slog.String("log_level", cfg.LogLevel),
				slog.String("cache_dir", cfg.CacheDir),
				slog.String("output_dir", cfg.OutputDir),
				slog.Bool("publish_enabled", cfg.PublishEnabled()),
			)

			handlers := server.NewHandlers(deps.Service, logger)
			router := server.NewRouter(handlers, logger, server.Config{AllowedOrigins: cfg.CORSAllowedOrigins})

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", port),
				Handler:      router,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP server listening",
					slog.String("addr", srv.Addr),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("server failed: %w", err)
				}
			}()

			// Wait for shutdown signal or error
			select {
			case <-cmd.Context().Done():
				logger.Info("received shutdown signal")
			case err := <-errCh:
				return err
			}

			// Graceful shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			logger.Info("shutting down server...")
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown failed: %w", err)
			}

			// A background run holds the run lock; give it the same grace period.
			done := make(chan struct{})
			go func() {
				deps.Service.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-shutdownCtx.Done():
				logger.Warn("run still in progress at shutdown")
			}

			logger.Info("server stopped gracefully")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (defaults to PORT)")
	return cmd
}
