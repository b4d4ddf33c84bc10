package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/lambda-feedback/hotserve/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// onlineScript announces itself on the control channel and then echoes
// the control input until it is closed.
const onlineScript = `printf 'Content-Length: 16\r\n\r\n{"tag":"online"}' >&4; cat <&3 >/dev/null`

func newShellLauncher(t *testing.T, script string) *worker.ProcessLauncher {
	l, err := worker.NewProcessLauncher(worker.StartConfig{
		Cmd:  "sh",
		Args: []string{"-c", script},
	}, zap.NewNop())
	require.NoError(t, err)
	return l
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestProcessLauncher_DefaultsToWorkerCommand(t *testing.T) {
	l, err := worker.NewProcessLauncher(worker.StartConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestProcessLauncher_ControlChannel(t *testing.T) {
	l := newShellLauncher(t, onlineScript)

	h, err := l.Launch(context.Background())
	require.NoError(t, err)
	defer h.Kill()

	assert.NotEmpty(t, h.ID())
	assert.True(t, util.IsProcessAlive(h.Pid()))

	msg, err := h.Conn().WaitFor(timeout(t), ipc.TagOnline)
	require.NoError(t, err)
	assert.Equal(t, ipc.TagOnline, msg.Tag)
}

func TestProcessLauncher_Stop_Terminates(t *testing.T) {
	l := newShellLauncher(t, onlineScript)

	h, err := l.Launch(context.Background())
	require.NoError(t, err)

	event, err := worker.Stop(timeout(t), h, worker.StopConfig{Timeout: time.Second})
	require.NoError(t, err)
	require.NotNil(t, event.Signal)

	<-h.Done()
	assert.False(t, util.IsProcessAlive(h.Pid()))

	// the control channel is closed with the process
	<-h.Conn().Done()
}

func TestProcessLauncher_Stop_KillsAfterTimeout(t *testing.T) {
	l := newShellLauncher(t, `trap '' TERM; while true; do sleep 0.05; done`)

	h, err := l.Launch(context.Background())
	require.NoError(t, err)

	// give the shell time to install the trap
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	event, err := worker.Stop(timeout(t), h, worker.StopConfig{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	require.NotNil(t, event.Signal)
	assert.Equal(t, 9, *event.Signal)
}

func TestProcessLauncher_FailsIfContextCancelled(t *testing.T) {
	l := newShellLauncher(t, onlineScript)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Launch(ctx)
	assert.Error(t, err)
}

func TestProcessLauncher_CrashIsReported(t *testing.T) {
	l := newShellLauncher(t, `echo crashed >&2; exit 2`)

	h, err := l.Launch(context.Background())
	require.NoError(t, err)

	event, err := h.Wait(timeout(t))
	require.NoError(t, err)

	require.NotNil(t, event.Code)
	assert.Equal(t, 2, *event.Code)
	assert.Contains(t, event.Stderr, "crashed")
}
