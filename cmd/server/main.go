// Package main provides the entry point for the photo recap API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/photo-recap/internal/bootstrap"
	"github.com/maauso/photo-recap/internal/config"
	"github.com/maauso/photo-recap/internal/job"
	"github.com/maauso/photo-recap/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting photo recap API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("job_store", cfg.JobStore),
		slog.Int("max_concurrent_renders", cfg.MaxConcurrentRenders),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	handlers := server.NewHandlers(deps.RecapService, logger,
		server.WithContainer(deps.Pipeline.Container()),
	)
	router := server.NewRouter(handlers, logger, server.Config{AllowedOrigins: cfg.AllowedOrigins})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go purgeLoop(ctx, deps.RecapService, cfg.JobRetention, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := deps.RecapService.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stop renders: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// purgeLoop removes expired jobs and their videos until ctx ends.
func purgeLoop(ctx context.Context, svc *job.RecapService, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}

	interval := min(retention/4, time.Hour)
	ticker := time.NewTicker(max(interval, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.PurgeExpired(ctx, retention); err != nil {
				logger.Warn("job purge failed", slog.String("error", err.Error()))
			}
		}
	}
}
