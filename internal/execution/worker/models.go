package worker

import (
	"errors"
	"io"
	"time"
)

var (
	ErrKillTimeout      = errors.New("kill timeout")
	ErrWorkerNotStarted = errors.New("worker not started")
	ErrLauncherClosed   = errors.New("launcher closed")
)

type StartConfig struct {
	// Cmd is the path or name of the worker binary. If empty, the
	// running executable is started with the worker sub-command.
	Cmd string `conf:"cmd"`

	// Cwd is the working directory in which
	// the binary should be executed
	Cwd string `conf:"cwd"`

	// Args is the list of arguments to pass to the command
	Args []string `conf:"args"`

	// Env is a map of environment variables added to the
	// environment of the supervisor
	Env map[string]string `conf:"env"`

	// Stdout and Stderr receive a copy of the worker's output.
	Stdout io.Writer `conf:"-"`
	Stderr io.Writer `conf:"-"`
}

type StopConfig struct {
	// Timeout is the duration to wait for the worker to stop
	// after the termination signal, before it is killed
	Timeout time.Duration `conf:"timeout"`
}

type ExitEvent struct {
	// Code is the exit code of the worker
	Code *int

	// Signal is the signal that caused the worker to exit
	Signal *int

	// Stderr is the captured stderr output of the worker
	Stderr string
}
