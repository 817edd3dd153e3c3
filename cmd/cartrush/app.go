package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/cartrush"
	"github.com/jpalmerr/cartrush/config"
	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/stats"
)

// app is an engine plus the resources the CLI owns around it.
type app struct {
	cfg      *config.Config
	engine   *cartrush.Engine
	provider credentials.Provider
	watcher  *credentials.File
	recorder *stats.RedisRecorder
	rdb      *redis.Client
	logger   *slog.Logger
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newApp builds the engine described by cfg. When stats are configured the
// Redis connection is verified before the engine is created.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...cartrush.Option) (*app, error) {
	provider, err := config.BuildCredentials(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, provider: provider, logger: logger}
	if f, ok := provider.(*credentials.File); ok && cfg.Credentials.Watch {
		a.watcher = f
	}

	opts := config.BuildOptions(cfg)
	opts = append(opts,
		cartrush.WithCredentials(provider),
		cartrush.WithLogger(logger),
	)

	if cfg.Stats.Enabled() {
		rdb, err := stats.Dial(ctx, cfg.Stats.RedisAddr, cfg.Stats.Password, cfg.Stats.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to stats redis: %w", err)
		}
		sopts := []stats.Option{stats.WithLogger(logger)}
		if cfg.Stats.Prefix != "" {
			sopts = append(sopts, stats.WithPrefix(cfg.Stats.Prefix))
		}
		if cfg.Stats.TTL != 0 {
			sopts = append(sopts, stats.WithTTL(cfg.Stats.TTL.Duration()))
		}
		a.rdb = rdb
		a.recorder = stats.NewRedisRecorder(rdb, sopts...)
		opts = append(opts, cartrush.WithStatsRecorder(a.recorder))
		logger.Info("stats enabled", "redis_addr", cfg.Stats.RedisAddr)
	}

	e, err := cartrush.New(append(opts, extra...)...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = e
	return a, nil
}

// watch keeps file credentials current until ctx is done. It returns
// immediately when watching is not configured.
func (a *app) watch(ctx context.Context) error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Watch(ctx, a.logger, func(credentials.Credentials) {
		a.logger.Info("credentials reloaded", "dir", a.watcher.Dir)
	})
}

// close stops the engine, then flushes stats and drops the Redis connection.
func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.recorder != nil {
		a.recorder.Close()
		if n := a.recorder.Dropped(); n > 0 {
			a.logger.Warn("stats events dropped", "count", n)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
