package supervisor

import (
	"context"
	"testing"

	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newIdleSupervisor(t *testing.T) *WorkerSupervisor {
	s, err := New(Params{
		Launcher: worker.NewInProcessLauncher(func(ctx context.Context, conn *ipc.Conn) error {
			return nil
		}, zap.NewNop()),
	})
	require.NoError(t, err)
	return s
}

func readyMessage(t *testing.T, port int) ipc.Message {
	msg, err := ipc.NewMessage(ipc.TagReady, ipc.Ready{Address: ipc.Address{
		Network: "tcp",
		Host:    "127.0.0.1",
		Port:    port,
	}})
	require.NoError(t, err)
	return msg
}

func TestOnReady_SupersededGenerationKeepsState(t *testing.T) {
	s := newIdleSupervisor(t)

	g := &generation{id: 1, token: 1, log: zap.NewNop()}

	s.mu.Lock()
	s.gen = g
	s.token = 2
	s.state = StateStarting
	s.mu.Unlock()

	var events []Event
	s.Subscribe(func(e Event) {
		events = append(events, e)
	})

	s.onReady(g, readyMessage(t, 1001))

	status := s.Status()
	assert.Equal(t, StateStarting, status.State)
	assert.False(t, status.Listening)
	assert.True(t, status.Address.IsZero())
	assert.Empty(t, events)
}

func TestOnReady_CurrentGenerationListens(t *testing.T) {
	s := newIdleSupervisor(t)

	g := &generation{id: 1, token: 1, log: zap.NewNop()}

	s.mu.Lock()
	s.gen = g
	s.token = 1
	s.state = StateStarting
	s.mu.Unlock()

	s.onReady(g, readyMessage(t, 1001))

	status := s.Status()
	assert.Equal(t, StateListening, status.State)
	assert.True(t, status.Listening)
	assert.Equal(t, 1001, status.Address.Port)
}
