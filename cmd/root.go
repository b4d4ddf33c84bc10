package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/internal/shell"
	"github.com/lambda-feedback/hotserve/util/conf"
	"github.com/lambda-feedback/hotserve/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	appName  = "hotserve"
	appUsage = `A development server that hot-reloads Go programs. Each build
runs as a new generation of a long-lived server, with requests
routed to the generation that is currently listening.`
	rootApp = &cli.App{
		Name:            appName,
		Usage:           appUsage,
		HideHelpCommand: true,
		Args:            true,
		Flags: []cli.Flag{
			// general flags
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level. Options: debug, info, warn, error, panic, fatal.",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "set the log format. Options: production, development.",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.PathFlag{
				Name:    "config",
				Usage:   "path to a JSON or dotenv configuration file.",
				EnvVars: []string{"HOTSERVE_CONFIG"},
			},
		},
		Before: func(ctx *cli.Context) error {
			// create the logger
			log, err := createLogger(ctx)
			if err != nil {
				return err
			}

			// inject logger into cli context
			ctx.Context = logging.ContextWithLogger(ctx.Context, log)

			// parse config using file and env
			cfg, err := conf.Parse[config.Config](conf.ParseOptions{
				Defaults:  config.DefaultConfig,
				EnvPrefix: config.EnvPrefix,
				FileName:  ctx.Path("config"),
				Log:       log,
			})
			if err != nil {
				return err
			}

			// inject the config into the cli context
			ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

			return nil
		},
		After: func(ctx *cli.Context) error {
			log, err := logging.LoggerFromContext(ctx.Context)
			if err != nil {
				return err
			}

			log.Sync()

			return nil
		},
	}
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version",
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

type ExecuteParams struct {
	Version  string
	Compiled time.Time
}

func Execute(params ExecuteParams) {
	rootApp.Version = params.Version
	rootApp.Compiled = params.Compiled

	run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) {
	err := rootApp.RunContext(ctx, args)

	// if app exited without error, return
	if err == nil {
		return
	}

	exitCode := shell.ExitCode(err)
	if exitCode == 0 {
		return
	}

	// exit errors carry their own code, everything else is unexpected
	if !shell.IsExitError(err) {
		fmt.Fprintf(os.Stderr, "exit error: %s\n", err.Error())
		sentry.CaptureException(err)
	}

	sentry.Flush(2 * time.Second)

	os.Exit(exitCode)
}

func createLogger(ctx *cli.Context) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:  ctx.String("log-level"),
		Format: ctx.String("log-format"),
		App:    appName,
	})
}
