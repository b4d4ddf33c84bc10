package app

import (
	"context"
	"fmt"
	"os"

	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/internal/execution/host"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/lambda-feedback/hotserve/util/conf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewLauncher creates the worker launcher selected by the isolation mode.
// A positive pool size keeps that many workers started ahead of time.
func NewLauncher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (worker.Launcher, error) {
	base, err := newBaseLauncher(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Worker.Pool <= 0 {
		return base, nil
	}

	pool, err := worker.NewPooledLauncher(base, cfg.Worker.Pool, log)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pool.Warm(ctx)
		},
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newBaseLauncher(cfg config.Config, log *zap.Logger) (worker.Launcher, error) {
	switch cfg.Worker.Isolation {
	case config.IsolationProcess, "":
		return worker.NewProcessLauncher(startConfig(cfg), log)
	case config.IsolationInProcess:
		return worker.NewInProcessLauncher(serveInProcess(log), log), nil
	default:
		return nil, fmt.Errorf("invalid isolation mode: %s", cfg.Worker.Isolation)
	}
}

// startConfig passes the logging setup on to worker processes, so that
// they log in the same format as the supervisor.
func startConfig(cfg config.Config) worker.StartConfig {
	start := cfg.Worker.Start

	logEnv := map[string]string{}
	if cfg.LogLevel != "" {
		logEnv["LOG_LEVEL"] = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		logEnv["LOG_FORMAT"] = cfg.LogFormat
	}

	start.Env = conf.MergeEnv(logEnv, start.Env)
	start.Stdout = os.Stdout
	start.Stderr = os.Stderr

	return start
}

func serveInProcess(log *zap.Logger) worker.ServeFunc {
	return func(ctx context.Context, conn *ipc.Conn) error {
		return host.Serve(ctx, conn, host.Options{
			Log: log.Named("host"),
		})
	}
}
