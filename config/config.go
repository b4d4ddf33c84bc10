package config

import (
	"github.com/lambda-feedback/hotserve/internal/build"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/server"
	"github.com/lambda-feedback/hotserve/util/conf"
)

// EnvPrefix is the prefix of all environment variables read into Config.
const EnvPrefix = "HOTSERVE_"

type Isolation string

const (
	// IsolationProcess runs every generation in its own worker process.
	IsolationProcess Isolation = "process"

	// IsolationInProcess runs every generation on a goroutine of the
	// supervisor process.
	IsolationInProcess Isolation = "inprocess"
)

type WorkerConfig struct {
	// Isolation selects how generations are isolated from each other.
	Isolation Isolation `conf:"isolation"`

	// Pool is the number of idle workers kept ready for the next
	// generation. 0 disables pooling.
	Pool int32 `conf:"pool"`

	// EnvFile is a dotenv file whose variables are added to the
	// environment of the hosted program.
	EnvFile string `conf:"env_file"`

	// Start configures how worker processes are started.
	Start worker.StartConfig `conf:",squash"`
}

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Supervisor configures generations and their transitions
	Supervisor supervisor.Config `conf:"supervisor"`

	// Worker configures how generations are hosted
	Worker WorkerConfig `conf:"worker"`

	// Http configures the development server
	Http server.HttpConfig `conf:"http"`

	// Proxy configures the request handling of the development server
	Proxy server.ProxyConfig `conf:"proxy"`

	// Watch configures the source watcher
	Watch build.WatchConfig `conf:"watch"`
}

var DefaultConfig = conf.Combine(
	conf.DefaultConfig{
		"log_format": "production",
	},
	conf.Namespace("supervisor", conf.DefaultConfig{
		"entry":         "main",
		"stop.timeout":  "5s",
		"patch_timeout": "10s",
	}),
	conf.Namespace("worker", conf.DefaultConfig{
		"isolation": string(IsolationProcess),
	}),
	conf.Namespace("http", conf.DefaultConfig{
		"host": "localhost",
		"port": 3000,
	}),
	conf.Namespace("proxy", conf.DefaultConfig{
		"mode":          string(server.ProxyQueue),
		"queue_timeout": "30s",
	}),
	conf.Namespace("watch", conf.DefaultConfig{
		"dir":      ".",
		"debounce": "100ms",
	}),
)
