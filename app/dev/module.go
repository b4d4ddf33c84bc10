package dev

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/internal/build"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/server"
	"github.com/lambda-feedback/hotserve/util/logging"
)

// Module watches a source directory and serves the latest build through
// the development server.
func Module(cfg config.Config) fx.Option {
	return fx.Module(
		"dev",
		// rename logger for module
		logging.DecorateLogger("dev"),
		// provide watch config
		fx.Supply(cfg.Watch),
		// provide build source
		fx.Provide(NewSource),
		// run build source
		fx.Provide(build.NewLifecycleRunner),
		fx.Invoke(func(*build.Runner) {}),
		// provide server
		server.Module(cfg.Http, cfg.Proxy),
	)
}

func NewSource(config build.WatchConfig, s supervisor.Supervisor, log *zap.Logger) (build.Source, error) {
	return build.NewWatchSource(config, s, log)
}
