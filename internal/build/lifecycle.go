package build

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Source produces builds for a sink until ctx is cancelled or it runs out
// of builds.
type Source interface {
	Run(ctx context.Context) error
}

var (
	_ Source = (*WatchSource)(nil)
	_ Source = (*StreamSource)(nil)
)

// RunnerParams represents the parameters required for the Runner.
type RunnerParams struct {
	fx.In

	// Source is the build source to run.
	Source Source

	// Context is the application context.
	Context context.Context

	// Shutdowner stops the application once the source returns on its own.
	Shutdowner fx.Shutdowner

	// Logger is the logger for the runner.
	Logger *zap.Logger
}

// Runner runs a build source in the background for the lifetime of the
// application. A source that returns before the application stops shuts
// the application down, with exit code 1 if it failed.
type Runner struct {
	source     Source
	ctx        context.Context
	cancel     context.CancelFunc
	shutdowner fx.Shutdowner

	done chan struct{}
	mu   sync.Mutex
	err  error

	log *zap.Logger
}

func NewRunner(params RunnerParams) *Runner {
	ctx, cancel := context.WithCancel(params.Context)

	return &Runner{
		source:     params.Source,
		ctx:        ctx,
		cancel:     cancel,
		shutdowner: params.Shutdowner,
		done:       make(chan struct{}),
		log:        params.Logger.Named("runner"),
	}
}

// NewLifecycleRunner creates a Runner and attaches lifecycle hooks to
// start and stop it.
func NewLifecycleRunner(params RunnerParams, lc fx.Lifecycle) *Runner {
	runner := NewRunner(params)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return runner.Shutdown(ctx)
		},
	})
	return runner
}

// Start runs the source on a new goroutine.
func (r *Runner) Start() {
	go func() {
		defer close(r.done)

		err := r.source.Run(r.ctx)

		r.mu.Lock()
		r.err = err
		r.mu.Unlock()

		// the application is already stopping
		if r.ctx.Err() != nil {
			return
		}

		exitCode := 0
		if err != nil {
			r.log.Error("build source failed", zap.Error(err))
			exitCode = 1
		} else {
			r.log.Info("build source finished")
		}

		if r.shutdowner == nil {
			return
		}

		if err := r.shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
			r.log.Warn("failed to shut down", zap.Error(err))
		}
	}()
}

// Shutdown cancels the source and waits for it to return.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the source returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns the error the source returned with.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
