package server_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lambda-feedback/hotserve/internal/control"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/lambda-feedback/hotserve/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestControlHandler_ServesSupervisorStatus(t *testing.T) {
	sup, err := supervisor.New(supervisor.Params{
		Launcher: worker.NewInProcessLauncher(func(ctx context.Context, conn *ipc.Conn) error {
			return nil
		}, zap.NewNop()),
	})
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)

	res, err := server.NewControlHandler(sup, lc, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, server.RPCPath, res.Handler.Pattern)

	lc.RequireStart()
	defer lc.RequireStop()

	ts := httptest.NewServer(res.Handler.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := control.Dial(ctx, ts.URL)
	require.NoError(t, err)
	defer c.Close()

	status, err := c.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, supervisor.StateIdle, status.State)
	assert.False(t, status.Listening)
}
