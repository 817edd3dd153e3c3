package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts the observer API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the observer HTTP API",
	Long: `Start the cartrush observer HTTP API.

The server will:
  - Load configuration from the specified YAML file
  - Expose status, logs and a Server-Sent Events stream under /api
  - Start and stop sessions on POST and DELETE /api/session

The server runs until interrupted (Ctrl+C) or receives SIGTERM. Sessions
still polling at that point are stopped with reason "shutdown".

Example:
  cartrush serve -c cartrush.yaml
  curl -X POST localhost:8080/api/session -d '{"url":"...","arrival_date":"2026-05-17","nights":2}'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addConfigFlag(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("config loaded",
		"port", cfg.Server.Port,
		"credentials", cfg.Credentials.Source,
		"stats", cfg.Stats.Enabled(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Serve(gctx)
	})
	g.Go(func() error {
		return a.watch(gctx)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	select {
	case err := <-errChan:
		return serveResult(err)
	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err := serveResult(err); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

func serveResult(err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
