package supervisor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errCrashed = errors.New("crashed")

// fakeWorkers imitates the worker host: it reports readiness on a port
// derived from the spawn order and answers patches with a fixed status.
type fakeWorkers struct {
	mu      sync.Mutex
	spawned []ipc.Spawn
	gate    chan struct{}
	crash   chan struct{}

	// patchStatus is the answer to patches. Empty leaves patches
	// unanswered.
	patchStatus ipc.PatchStatus

	running atomic.Int32
}

func newFakeWorkers() *fakeWorkers {
	return &fakeWorkers{crash: make(chan struct{})}
}

// hold delays readiness until release is called.
func (f *fakeWorkers) hold() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gate = make(chan struct{})
}

func (f *fakeWorkers) release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *fakeWorkers) spawns() []ipc.Spawn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]ipc.Spawn(nil), f.spawned...)
}

func (f *fakeWorkers) serve(ctx context.Context, conn *ipc.Conn) error {
	f.running.Add(1)
	defer f.running.Add(-1)

	if err := conn.Send(ipc.TagOnline, ipc.Online{Pid: 1}); err != nil {
		return err
	}

	msg, err := conn.WaitFor(ctx, ipc.TagSpawn)
	if err != nil {
		return nil
	}

	var spawn ipc.Spawn
	if err := msg.Decode(&spawn); err != nil {
		return err
	}

	f.mu.Lock()
	f.spawned = append(f.spawned, spawn)
	port := 1000 + len(f.spawned)
	gate := f.gate
	status := f.patchStatus
	f.mu.Unlock()

	if status != "" {
		conn.Handle(ipc.TagPatch, func(ipc.Message) {
			conn.Send(ipc.TagPatchResult, ipc.PatchResult{Status: status})
		})
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil
		}
	}

	if err := conn.Send(ipc.TagReady, ipc.Ready{Address: ipc.Address{
		Network: "tcp",
		Host:    "127.0.0.1",
		Port:    port,
	}}); err != nil {
		return nil
	}

	select {
	case <-ctx.Done():
	case <-conn.Done():
	case <-f.crash:
		return errCrashed
	}

	return nil
}

func newSupervisor(t *testing.T, f *fakeWorkers, config supervisor.Config) *supervisor.WorkerSupervisor {
	if config.Stop.Timeout == 0 {
		config.Stop.Timeout = time.Second
	}

	s, err := supervisor.New(supervisor.Params{
		Config:   config,
		Launcher: worker.NewInProcessLauncher(f.serve, zap.NewNop()),
		Log:      zap.NewNop(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		f.release()
		s.Terminate(context.Background())
	})

	return s
}

func assets(content string) *artifact.Set {
	return artifact.New(map[string]string{
		"/app/main.go":     "package main",
		"/app/message.txt": content,
	})
}

func request(content string) supervisor.Request {
	return supervisor.Request{Assets: assets(content)}
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type eventLog struct {
	mu     sync.Mutex
	events []supervisor.Event
}

func record(s supervisor.Supervisor) *eventLog {
	l := &eventLog{}
	s.Subscribe(func(e supervisor.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) types() []supervisor.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()

	types := make([]supervisor.EventType, len(l.events))
	for i, e := range l.events {
		types[i] = e.Type
	}
	return types
}
