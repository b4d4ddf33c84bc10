package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"
)

// PooledLauncher keeps pre-started idle workers around, so that a new
// generation does not wait for a worker to boot. Acquired workers leave
// the pool and the pool is refilled in the background.
type PooledLauncher struct {
	pool *puddle.Pool[Handle]
	size int32

	log *zap.Logger
}

var _ Launcher = (*PooledLauncher)(nil)

func NewPooledLauncher(base Launcher, size int32, log *zap.Logger) (*PooledLauncher, error) {
	if size < 1 {
		size = 1
	}

	log = log.Named("pool")

	pool, err := puddle.NewPool(&puddle.Config[Handle]{
		Constructor: func(ctx context.Context) (Handle, error) {
			return base.Launch(ctx)
		},
		Destructor: func(h Handle) {
			if err := h.Kill(); err != nil {
				log.Debug("failed to kill idle worker", zap.Error(err))
			}
		},
		MaxSize: size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &PooledLauncher{
		pool: pool,
		size: size,
		log:  log,
	}, nil
}

// Warm starts idle workers until the pool is full.
func (l *PooledLauncher) Warm(ctx context.Context) error {
	for l.pool.Stat().TotalResources() < l.size {
		if err := l.pool.CreateResource(ctx); err != nil {
			if errors.Is(err, puddle.ErrNotAvailable) {
				return nil
			}
			return err
		}
	}

	return nil
}

func (l *PooledLauncher) Launch(ctx context.Context) (Handle, error) {
	// a worker may have died while idle, retry with a fresh one
	for attempt := int32(0); attempt <= l.size; attempt++ {
		res, err := l.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, ErrLauncherClosed
			}
			return nil, err
		}

		h := res.Value()

		select {
		case <-h.Done():
			l.log.Debug("discarding exited idle worker", zap.String("worker", h.ID()))
			res.Destroy()
			continue
		default:
		}

		// the caller owns the worker from now on
		res.Hijack()

		go l.refill()

		return h, nil
	}

	return nil, fmt.Errorf("%w: idle workers keep exiting", ErrWorkerNotStarted)
}

// Idle returns the number of idle workers.
func (l *PooledLauncher) Idle() int32 {
	return l.pool.Stat().IdleResources()
}

// Close kills all idle workers. Workers handed out by Launch are not
// affected.
func (l *PooledLauncher) Close() {
	l.pool.Close()
}

func (l *PooledLauncher) refill() {
	if err := l.Warm(context.Background()); err != nil && !errors.Is(err, puddle.ErrClosedPool) {
		l.log.Warn("failed to refill worker pool", zap.Error(err))
	}
}
