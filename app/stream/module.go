package stream

import (
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/internal/build"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/server"
	"github.com/lambda-feedback/hotserve/util/logging"
)

// Module reads build events from r and serves the latest build through
// the development server. The application stops when r ends.
func Module(cfg config.Config, r io.Reader) fx.Option {
	return fx.Module(
		"stream",
		// rename logger for module
		logging.DecorateLogger("stream"),
		// provide build source
		fx.Provide(func(s supervisor.Supervisor, log *zap.Logger) build.Source {
			return build.NewStreamSource(r, s, log)
		}),
		// run build source
		fx.Provide(build.NewLifecycleRunner),
		fx.Invoke(func(*build.Runner) {}),
		// provide server
		server.Module(cfg.Http, cfg.Proxy),
	)
}
