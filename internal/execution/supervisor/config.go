package supervisor

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
)

// StopConfig describes the configuration for stopping a generation.
type StopConfig = worker.StopConfig

type Config struct {
	// MainEntry is the entry name looked up in the build output when a
	// build does not name one. Default is "main".
	MainEntry string `conf:"entry"`

	// HMR enables the incremental patch path. Programs that do not
	// register an accept handler are restarted instead.
	HMR bool `conf:"hmr"`

	// WaitForAppReady disables automatic readiness detection. The
	// program has to call hot.Ready itself.
	WaitForAppReady bool `conf:"wait_for_app_ready"`

	// GoPath is the GOPATH the interpreter resolves source imports from.
	GoPath string `conf:"gopath"`

	// Args are passed to the hosted program.
	Args []string `conf:"args"`

	// Env is added to the environment of the hosted program.
	Env map[string]string `conf:"env"`

	// Stop configures how long a generation may take to exit after
	// the termination signal, before it is killed.
	Stop StopConfig `conf:"stop"`

	// ReadyTimeout bounds the wait for readiness. 0 waits forever.
	ReadyTimeout time.Duration `conf:"ready_timeout"`

	// PatchTimeout bounds the wait for a patch result. A timeout is
	// treated as reload-required. 0 waits forever.
	PatchTimeout time.Duration `conf:"patch_timeout"`
}

func (c Config) withDefaults() Config {
	if c.MainEntry == "" {
		c.MainEntry = "main"
	}
	return c
}

func (c Config) readyMode() ipc.ReadyMode {
	if c.WaitForAppReady {
		return ipc.ReadyExplicit
	}
	return ipc.ReadyOnListen
}

// environ is the environment of the hosted program. PORT defaults to 0 so
// that a program reading it binds a free port instead of the proxy's.
func (c Config) environ() []string {
	env := append(os.Environ(), "PORT=0")

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}

	return env
}
