// Package main provides the HTTP trigger server for kbingest.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/kbingest/internal/app"
	"github.com/raphaelgruber/kbingest/internal/config"
	"github.com/raphaelgruber/kbingest/internal/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Dual output: stderr text + file JSON
	logger, cleanup := config.SetupLogger(cfg.Log.File, cfg.LogLevel())
	defer func() { _ = cleanup() }()

	logger.Info("starting kbingest-server",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"graph", cfg.Store.Graph,
		"poll", cfg.Server.Poll,
	)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			logger.Error("failed to close connections", "error", err)
		}
	}()

	srv := server.New(application.Jobs, application.Dispatcher, application.Metrics, cfg.Dispatch.BatchSize, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute, // a manual cycle runs inside the request
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("trigger endpoint available", "url", fmt.Sprintf("http://localhost:%d/ingest/run", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if cfg.Server.Poll {
		g.Go(func() error {
			return application.Dispatcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
