package worker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/lambda-feedback/hotserve/internal/ipc"
	"go.uber.org/zap"
)

const (
	// ControlReadFD is the descriptor a worker process reads control
	// messages from.
	ControlReadFD = 3

	// ControlWriteFD is the descriptor a worker process writes control
	// messages to.
	ControlWriteFD = 4
)

type proc struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error

	stderr *syncBuffer

	log *zap.Logger
}

// startProc starts the worker binary with the control channel on the
// inherited descriptors 3 and 4.
func startProc(config StartConfig, log *zap.Logger) (*proc, io.ReadWriteCloser, error) {
	if config.Cmd == "" {
		return nil, nil, fmt.Errorf("%w: no command", ErrWorkerNotStarted)
	}

	cmd := exec.Command(config.Cmd, config.Args...)

	if config.Env != nil {
		env := os.Environ()
		for k, v := range config.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	// parent -> child
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}

	// child -> parent
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		childIn.Close()
		parentOut.Close()
		return nil, nil, err
	}

	cmd.ExtraFiles = []*os.File{childIn, childOut}

	stderr := &syncBuffer{}
	cmd.Stderr = mirror(stderr, config.Stderr)
	cmd.Stdout = config.Stdout
	cmd.WaitDelay = time.Second

	initCmd(cmd)

	err = cmd.Start()

	// the child owns its ends now
	childIn.Close()
	childOut.Close()

	if err != nil {
		parentIn.Close()
		parentOut.Close()
		return nil, nil, err
	}

	p := &proc{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
		stderr: stderr,
		log:    log.Named("proc").With(zap.Int("pid", cmd.Process.Pid)),
	}

	go func() {
		// block until the process exits
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, ipc.Join(parentIn, parentOut), nil
}

func (p *proc) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *proc) Kill() error {
	return p.signal(syscall.SIGKILL)
}

// Wait blocks until the process exited and returns the error of
// exec.Cmd.Wait.
func (p *proc) Wait() error {
	<-p.done
	return p.err
}

func (p *proc) signal(signal syscall.Signal) error {
	// signalling should report success if the process terminated by the
	// time the request arrives.
	select {
	case <-p.done:
		p.log.Debug("process already terminated")
		return nil
	default:
	}

	p.log.Debug("sending signal", zap.Stringer("signal", signal))

	if err := sendSignal(p.cmd, signal); err != nil {
		select {
		case <-p.done:
			return nil
		default:
		}
		return fmt.Errorf("failed to send %s: %w", signal, err)
	}

	return nil
}

func (p *proc) exitEvent() ExitEvent {
	return getExitEvent(p.err, p.stderr.String())
}

// getExitEvent derives the exit code or signal from the result of
// exec.Cmd.Wait.
func getExitEvent(err error, stderr string) ExitEvent {
	event := ExitEvent{Stderr: stderr}

	if err == nil {
		event.Code = intPtr(0)
		return event
	}

	if exitError, ok := err.(*exec.ExitError); ok {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			event.Signal = intPtr(int(status.Signal()))
			return event
		}

		if code := exitError.ExitCode(); code >= 0 {
			event.Code = intPtr(code)
			return event
		}
	}

	// could not determine the exit status or signal
	event.Code = intPtr(1)

	return event
}

func mirror(buf *syncBuffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
