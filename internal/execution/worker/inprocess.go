package worker

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"go.uber.org/zap"
)

// ServeFunc runs the worker side of a control channel until ctx is
// cancelled.
type ServeFunc func(ctx context.Context, conn *ipc.Conn) error

// InProcessLauncher runs each worker on a goroutine of the supervisor's
// process, connected by an in-memory pipe.
type InProcessLauncher struct {
	serve ServeFunc
	log   *zap.Logger
}

var _ Launcher = (*InProcessLauncher)(nil)

func NewInProcessLauncher(serve ServeFunc, log *zap.Logger) *InProcessLauncher {
	return &InProcessLauncher{
		serve: serve,
		log:   log.Named("launcher"),
	}
}

func (l *InProcessLauncher) Launch(ctx context.Context) (Handle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	id := uuid.NewString()
	log := l.log.With(zap.String("worker", id))

	a, b := ipc.Pipe()

	parent := ipc.NewConn(a, log)
	child := ipc.NewConn(b, log)

	// the worker lives until it is terminated, not until the launch
	// request is done
	wctx, cancel := context.WithCancel(context.Background())

	h := &inProcessHandle{
		id:        id,
		conn:      parent,
		child:     child,
		cancel:    cancel,
		exitState: newExitState(),
	}

	go func() {
		err := l.serve(wctx, child)

		cancel()
		child.Close()
		parent.Close()

		if err != nil {
			log.Info("worker exited", zap.Error(err))
		} else {
			log.Debug("worker exited")
		}

		h.finish(exitEventOf(err))
	}()

	return h, nil
}

type inProcessHandle struct {
	*exitState

	id     string
	conn   *ipc.Conn
	child  *ipc.Conn
	cancel context.CancelFunc
}

func (h *inProcessHandle) ID() string {
	return h.id
}

func (h *inProcessHandle) Pid() int {
	return os.Getpid()
}

func (h *inProcessHandle) Conn() *ipc.Conn {
	return h.conn
}

func (h *inProcessHandle) Terminate() error {
	h.cancel()
	return nil
}

func (h *inProcessHandle) Kill() error {
	h.cancel()
	return h.child.Close()
}

func exitEventOf(err error) ExitEvent {
	if err == nil {
		return ExitEvent{Code: intPtr(0)}
	}

	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return ExitEvent{Code: intPtr(coder.ExitCode()), Stderr: err.Error()}
	}

	return ExitEvent{Code: intPtr(1), Stderr: err.Error()}
}
