// Package worker starts workers that host one generation of the program
// and connects them to the supervisor over a control channel.
package worker

import (
	"context"
	"time"

	"github.com/lambda-feedback/hotserve/internal/ipc"
)

// Handle is a started worker.
type Handle interface {
	// ID identifies the worker in logs.
	ID() string

	// Pid is the process id of the worker.
	Pid() int

	// Conn is the supervisor end of the control channel.
	Conn() *ipc.Conn

	// Terminate asks the worker to stop and returns immediately.
	Terminate() error

	// Kill stops the worker without further ado and returns immediately.
	Kill() error

	// Done is closed once the worker exited.
	Done() <-chan struct{}

	// Wait blocks until the worker exited.
	Wait(context.Context) (ExitEvent, error)

	// WaitFor blocks until the worker exited or the timeout is reached.
	WaitFor(context.Context, time.Duration) (ExitEvent, error)
}

// Launcher starts workers.
type Launcher interface {
	Launch(context.Context) (Handle, error)
}

// exitState records the exit of a worker exactly once.
type exitState struct {
	done  chan struct{}
	event ExitEvent
}

func newExitState() *exitState {
	return &exitState{done: make(chan struct{})}
}

func (s *exitState) finish(event ExitEvent) {
	s.event = event
	close(s.done)
}

func (s *exitState) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the worker exits. If the worker already terminated,
// Wait returns immediately.
func (s *exitState) Wait(ctx context.Context) (ExitEvent, error) {
	select {
	case <-ctx.Done():
		return ExitEvent{}, ctx.Err()
	case <-s.done:
		return s.event, nil
	}
}

// WaitFor blocks until the worker exits or the deadline is reached. A
// deadline <= 0 waits without a timeout.
func (s *exitState) WaitFor(ctx context.Context, deadline time.Duration) (ExitEvent, error) {
	var waitCtx context.Context
	var cancel context.CancelFunc

	if deadline <= 0 {
		waitCtx, cancel = context.WithCancel(ctx)
	} else {
		waitCtx, cancel = context.WithTimeout(ctx, deadline)
	}

	defer cancel()

	return s.Wait(waitCtx)
}

// Stop terminates h and waits up to timeout for it to exit before it is
// killed.
func Stop(ctx context.Context, h Handle, config StopConfig) (ExitEvent, error) {
	select {
	case <-h.Done():
		return h.Wait(ctx)
	default:
	}

	if err := h.Terminate(); err != nil {
		return ExitEvent{}, err
	}

	event, err := h.WaitFor(ctx, config.Timeout)
	if err == nil {
		return event, nil
	}

	if ctx.Err() != nil {
		return ExitEvent{}, ctx.Err()
	}

	if err := h.Kill(); err != nil {
		return ExitEvent{}, err
	}

	return h.Wait(ctx)
}

func intPtr(v int) *int {
	return &v
}
