package app

import (
	"context"

	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/util/conf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewSupervisor creates the supervisor and terminates the active
// generation when the application stops.
func NewSupervisor(lc fx.Lifecycle, cfg config.Config, launcher worker.Launcher, log *zap.Logger) (supervisor.Supervisor, error) {
	env, err := conf.ReadEnvFile(cfg.Worker.EnvFile)
	if err != nil {
		return nil, err
	}

	supervisorConfig := cfg.Supervisor
	supervisorConfig.Env = conf.MergeEnv(env, supervisorConfig.Env)

	s, err := supervisor.New(supervisor.Params{
		Config:   supervisorConfig,
		Launcher: launcher,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Terminate(ctx)
		},
	})

	return s, nil
}
