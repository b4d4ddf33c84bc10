package server

import (
	"context"

	"github.com/lambda-feedback/hotserve/internal/control"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module(config HttpConfig, proxy ProxyConfig) fx.Option {
	return fx.Module("server",
		// provide config
		fx.Supply(config, proxy),
		// provide handlers
		fx.Provide(
			func(s supervisor.Supervisor, config ProxyConfig, log *zap.Logger) HttpHandlerResult {
				return AsHttpHandler("/", NewProxyHandler(s, config, log))
			},
			func() HttpHandlerResult {
				return AsHttpHandler(HealthPath, NewHealthHandler())
			},
			func(s supervisor.Supervisor, log *zap.Logger) HttpHandlerResult {
				return AsHttpHandler(StatusPath, NewStatusHandler(s, log))
			},
			NewControlHandler,
		),
		// provide server
		fx.Provide(NewLifecycleServer),
		// invoke server
		fx.Invoke(func(*HttpServer) {}),
	)
}

// NewControlHandler mounts the control service of the supervisor. The rpc
// server is stopped with the application.
func NewControlHandler(s supervisor.Supervisor, lc fx.Lifecycle, log *zap.Logger) (HttpHandlerResult, error) {
	srv, err := control.NewServer(s, log)
	if err != nil {
		return HttpHandlerResult{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			srv.Stop()
			return nil
		},
	})

	return AsHttpHandler(RPCPath, control.NewHandler(srv, []string{"*"})), nil
}
