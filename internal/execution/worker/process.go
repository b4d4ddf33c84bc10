package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"go.uber.org/zap"
)

// ProcessLauncher starts each worker as a child process.
type ProcessLauncher struct {
	config StartConfig
	log    *zap.Logger
}

var _ Launcher = (*ProcessLauncher)(nil)

// NewProcessLauncher creates a launcher for config. Without a command the
// running executable is re-executed with the worker sub-command.
func NewProcessLauncher(config StartConfig, log *zap.Logger) (*ProcessLauncher, error) {
	if config.Cmd == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}

		config.Cmd = exe
		config.Args = append([]string{"worker"}, config.Args...)
	}

	return &ProcessLauncher{
		config: config,
		log:    log.Named("launcher"),
	}, nil
}

func (l *ProcessLauncher) Launch(ctx context.Context) (Handle, error) {
	// exit early if the context is already cancelled
	if ctx.Err() != nil {
		return nil, fmt.Errorf("failed to start process: %w", ctx.Err())
	}

	id := uuid.NewString()
	log := l.log.With(zap.String("worker", id))

	log.Debug("starting worker process",
		zap.String("command", l.config.Cmd),
		zap.Strings("args", l.config.Args),
		zap.String("cwd", l.config.Cwd),
	)

	p, rwc, err := startProc(l.config, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	h := &processHandle{
		id:        id,
		proc:      p,
		conn:      ipc.NewConn(rwc, log),
		exitState: newExitState(),
	}

	go func() {
		p.Wait()

		// the child end is gone, unblock readers
		h.conn.Close()

		event := p.exitEvent()

		log.Info("worker exited",
			zap.Int("pid", p.pid),
			zap.Any("code", event.Code),
			zap.Any("signal", event.Signal),
		)

		h.finish(event)
	}()

	return h, nil
}

type processHandle struct {
	*exitState

	id   string
	proc *proc
	conn *ipc.Conn
}

func (h *processHandle) ID() string {
	return h.id
}

func (h *processHandle) Pid() int {
	return h.proc.pid
}

func (h *processHandle) Conn() *ipc.Conn {
	return h.conn
}

func (h *processHandle) Terminate() error {
	return h.proc.Terminate()
}

func (h *processHandle) Kill() error {
	return h.proc.Kill()
}

// ChildTransport opens the control channel of a worker process started
// by a ProcessLauncher.
func ChildTransport() (*os.File, *os.File, error) {
	r := os.NewFile(ControlReadFD, "control-in")
	w := os.NewFile(ControlWriteFD, "control-out")

	if r == nil || w == nil {
		return nil, nil, fmt.Errorf("%w: control channel not inherited", ErrWorkerNotStarted)
	}

	if _, err := r.Stat(); err != nil {
		return nil, nil, fmt.Errorf("%w: control channel not inherited", ErrWorkerNotStarted)
	}

	return r, w, nil
}

