package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingLauncher struct {
	base     worker.Launcher
	launched atomic.Int32
}

func (l *countingLauncher) Launch(ctx context.Context) (worker.Handle, error) {
	l.launched.Add(1)
	return l.base.Launch(ctx)
}

func newPool(t *testing.T, size int32) (*worker.PooledLauncher, *countingLauncher) {
	base := &countingLauncher{base: worker.NewInProcessLauncher(blockingServe, zap.NewNop())}

	pool, err := worker.NewPooledLauncher(base, size, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(pool.Close)

	return pool, base
}

func TestPooledLauncher_Warm(t *testing.T) {
	pool, base := newPool(t, 2)

	require.NoError(t, pool.Warm(context.Background()))

	assert.Equal(t, int32(2), pool.Idle())
	assert.Equal(t, int32(2), base.launched.Load())
}

func TestPooledLauncher_Launch_HandsOutIdleWorkerAndRefills(t *testing.T) {
	pool, base := newPool(t, 1)

	require.NoError(t, pool.Warm(context.Background()))

	h, err := pool.Launch(context.Background())
	require.NoError(t, err)
	defer h.Kill()

	// the idle worker already announced itself
	_, err = h.Conn().WaitFor(timeout(t), ipc.TagOnline)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pool.Idle() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(2), base.launched.Load())
}

func TestPooledLauncher_Launch_SkipsExitedWorkers(t *testing.T) {
	var launched atomic.Int32

	// the first worker exits while it is idle
	base := worker.NewInProcessLauncher(func(ctx context.Context, conn *ipc.Conn) error {
		if launched.Add(1) == 1 {
			return nil
		}
		return blockingServe(ctx, conn)
	}, zap.NewNop())

	var first worker.Handle
	recording := launcherFunc(func(ctx context.Context) (worker.Handle, error) {
		h, err := base.Launch(ctx)
		if first == nil {
			first = h
		}
		return h, err
	})

	pool, err := worker.NewPooledLauncher(recording, 1, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Warm(context.Background()))
	<-first.Done()

	h, err := pool.Launch(context.Background())
	require.NoError(t, err)
	defer h.Kill()

	assert.NotEqual(t, first.ID(), h.ID())

	select {
	case <-h.Done():
		t.Fatal("handed out an exited worker")
	default:
	}
}

func TestPooledLauncher_Close_KillsIdleWorkers(t *testing.T) {
	base := worker.NewInProcessLauncher(blockingServe, zap.NewNop())

	var handles []worker.Handle
	recording := launcherFunc(func(ctx context.Context) (worker.Handle, error) {
		h, err := base.Launch(ctx)
		if err == nil {
			handles = append(handles, h)
		}
		return h, err
	})

	pool, err := worker.NewPooledLauncher(recording, 1, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, pool.Warm(context.Background()))
	require.Len(t, handles, 1)

	pool.Close()

	select {
	case <-handles[0].Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle worker was not stopped")
	}

	_, err = pool.Launch(context.Background())
	assert.ErrorIs(t, err, worker.ErrLauncherClosed)
}

type launcherFunc func(context.Context) (worker.Handle, error)

func (f launcherFunc) Launch(ctx context.Context) (worker.Handle, error) {
	return f(ctx)
}
