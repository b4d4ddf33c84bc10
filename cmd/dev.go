package cmd

import (
	"github.com/lambda-feedback/hotserve/app"
	"github.com/lambda-feedback/hotserve/app/dev"
	"github.com/lambda-feedback/hotserve/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	devCmdDescription = `The dev command watches a source directory, and runs every
build of it as a new generation of the program. The development
server proxies requests to the generation that is currently
listening, holding them back while a new generation starts.

With --hmr, programs that register a hot.Accept handler are
patched in place instead of being restarted.`
	devCmd = &cli.Command{
		Name:        "dev",
		Usage:       "Watch a source directory and serve its latest build.",
		Description: devCmdDescription,
		Action:      devAction,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     "dir",
				Aliases:  []string{"d"},
				Usage:    "the source directory to watch.",
				Category: "watch",
			},
			&cli.StringSliceFlag{
				Name:     "include",
				Usage:    "glob patterns of files that are part of a build.",
				Category: "watch",
			},
			&cli.StringSliceFlag{
				Name:     "exclude",
				Usage:    "glob patterns of files that are never part of a build.",
				Category: "watch",
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "the root under which build output is keyed. Defaults to the source directory.",
				Category: "watch",
			},
			&cli.DurationFlag{
				Name:     "debounce",
				Usage:    "the quiet period after a change before rebuilding.",
				Category: "watch",
			},
		},
	}
)

func devAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := parseConfig(ctx)
	if err != nil {
		return err
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	log.Info("starting development server",
		zap.String("dir", cfg.Watch.Dir),
		zap.String("entry", cfg.Supervisor.MainEntry),
		zap.Bool("hmr", cfg.Supervisor.HMR),
		zap.Int("port", cfg.Http.Port),
	)

	return app.Run(ctx.Context, dev.Module(cfg))
}

func init() {
	devCmd.Flags = append(devCmd.Flags, supervisorFlags...)
	devCmd.Flags = append(devCmd.Flags, workerFlags...)
	devCmd.Flags = append(devCmd.Flags, serverFlags...)

	rootApp.Commands = append(rootApp.Commands, devCmd)
}
