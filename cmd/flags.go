package cmd

import (
	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/util/conf"
	"github.com/lambda-feedback/hotserve/util/logging"
	"github.com/urfave/cli/v2"
)

// flagConfigKeys maps command line flags to their config keys.
var flagConfigKeys = map[string]string{
	"log-level":          "log_level",
	"log-format":         "log_format",
	"entry":              "supervisor.entry",
	"hmr":                "supervisor.hmr",
	"wait-for-app-ready": "supervisor.wait_for_app_ready",
	"gopath":             "supervisor.gopath",
	"arg":                "supervisor.args",
	"stop-timeout":       "supervisor.stop.timeout",
	"ready-timeout":      "supervisor.ready_timeout",
	"patch-timeout":      "supervisor.patch_timeout",
	"isolation":          "worker.isolation",
	"pool":               "worker.pool",
	"env-file":           "worker.env_file",
	"worker-command":     "worker.cmd",
	"host":               "http.host",
	"port":               "http.port",
	"h2c":                "http.h2c",
	"proxy-mode":         "proxy.mode",
	"queue-timeout":      "proxy.queue_timeout",
	"dir":                "watch.dir",
	"include":            "watch.include",
	"exclude":            "watch.exclude",
	"out":                "watch.out",
	"debounce":           "watch.debounce",
}

var (
	supervisorFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "entry",
			Aliases:  []string{"e"},
			Usage:    "the entry to run, matched against the build output.",
			Category: "supervisor",
			EnvVars:  []string{"HOTSERVE_ENTRY"},
		},
		&cli.BoolFlag{
			Name:     "hmr",
			Usage:    "patch running generations instead of restarting them, where the program accepts updates.",
			Category: "supervisor",
			EnvVars:  []string{"HOTSERVE_HMR"},
		},
		&cli.BoolFlag{
			Name:     "wait-for-app-ready",
			Usage:    "wait for the program to call hot.Ready instead of detecting the first listener.",
			Category: "supervisor",
		},
		&cli.StringFlag{
			Name:     "gopath",
			Usage:    "the GOPATH used to resolve imports of the program.",
			Category: "supervisor",
			EnvVars:  []string{"GOPATH"},
		},
		&cli.StringSliceFlag{
			Name:     "arg",
			Aliases:  []string{"a"},
			Usage:    "arguments to pass to the program.",
			Category: "supervisor",
		},
		&cli.DurationFlag{
			Name:     "stop-timeout",
			Usage:    "how long a generation may take to exit before it is killed.",
			Category: "supervisor",
		},
		&cli.DurationFlag{
			Name:     "ready-timeout",
			Usage:    "how long to wait for a generation to become ready. 0 waits forever.",
			Category: "supervisor",
		},
		&cli.DurationFlag{
			Name:     "patch-timeout",
			Usage:    "how long to wait for a patch result before restarting.",
			Category: "supervisor",
		},
	}

	workerFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "isolation",
			Usage:    "how generations are isolated. Options: process, inprocess.",
			Category: "worker",
			EnvVars:  []string{"HOTSERVE_ISOLATION"},
		},
		&cli.IntFlag{
			Name:     "pool",
			Usage:    "the number of idle workers kept ready for the next generation.",
			Category: "worker",
		},
		&cli.PathFlag{
			Name:     "env-file",
			Usage:    "a dotenv file with environment variables for the program.",
			Category: "worker",
		},
		&cli.StringFlag{
			Name:     "worker-command",
			Usage:    "the command started for every worker process. Defaults to this binary.",
			Category: "worker",
		},
	}

	serverFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "host",
			Aliases:  []string{"H"},
			Usage:    "The host to listen on.",
			Category: "http",
			EnvVars:  []string{"HTTP_HOST"},
		},
		&cli.IntFlag{
			Name:     "port",
			Aliases:  []string{"P"},
			Usage:    "The port to listen on.",
			Category: "http",
			EnvVars:  []string{"HTTP_PORT", "PORT"},
		},
		&cli.BoolFlag{
			Name:     "h2c",
			Usage:    "Enable HTTP/2 cleartext upgrade.",
			Category: "http",
			EnvVars:  []string{"HTTP_H2C"},
		},
		&cli.StringFlag{
			Name:     "proxy-mode",
			Usage:    "how requests are handled while no generation is listening. Options: queue, refresh.",
			Category: "http",
		},
		&cli.DurationFlag{
			Name:     "queue-timeout",
			Usage:    "how long a request is queued before it is answered with a refresh.",
			Category: "http",
		},
	}
)

// parseConfig parses the config again, now including the flags of the
// command, and replaces the config in the cli context.
func parseConfig(ctx *cli.Context) (config.Config, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Cli:       ctx,
		CliMap:    flagConfigKeys,
		Defaults:  config.DefaultConfig,
		EnvPrefix: config.EnvPrefix,
		FileName:  ctx.Path("config"),
		Log:       log,
	})
	if err != nil {
		return cfg, err
	}

	ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

	return cfg, nil
}
