// Package host is the worker side of a generation: it receives the spawn
// message, installs the module resolution shim and runs the entry with an
// embedded Go interpreter until the supervisor terminates it.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"

	"github.com/lambda-feedback/hotserve/hot"
	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/lambda-feedback/hotserve/internal/shim"
	"github.com/spf13/afero"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDisconnected = errors.New("supervisor disconnected")
	ErrClosing      = errors.New("host is closing")
)

// ExitError is returned by Serve when the hosted program requested an exit
// with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("program exited with %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}

type Options struct {
	// Base is the real filesystem the shim delegates to. Defaults to the
	// OS filesystem.
	Base afero.Fs

	// Stdin, Stdout and Stderr are handed to the hosted program.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Log is the logger of the worker runtime.
	Log *zap.Logger
}

// Host runs one generation of a hosted program.
type Host struct {
	conn *ipc.Conn
	shim *shim.Shim
	mode ipc.ReadyMode
	mux  *http.ServeMux

	stderr io.Writer

	mu        sync.Mutex
	listeners []net.Listener
	acceptors []hot.AcceptFunc
	ready     bool
	closing   bool
	exitCode  int

	cancel context.CancelFunc

	log *zap.Logger
}

var _ hot.Runtime = (*Host)(nil)

// Serve announces the worker on conn, waits for the spawn message and runs
// the hosted program. It returns when the program's main function returns,
// when ctx is cancelled or when the supervisor disconnects.
func Serve(ctx context.Context, conn *ipc.Conn, opts Options) error {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Base == nil {
		opts.Base = afero.NewOsFs()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	log := opts.Log.Named("host")

	if err := conn.Send(ipc.TagOnline, ipc.Online{Pid: os.Getpid()}); err != nil {
		return fmt.Errorf("failed to announce worker: %w", err)
	}

	log.Debug("waiting for spawn message")

	msg, err := conn.WaitFor(ctx, ipc.TagSpawn)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to receive spawn message: %w", err)
	}

	var spawn ipc.Spawn
	if err := msg.Decode(&spawn); err != nil {
		return err
	}

	h := &Host{
		conn:   conn,
		shim:   shim.New(opts.Base, artifact.New(spawn.Assets)),
		mode:   spawn.ReadyMode,
		mux:    http.NewServeMux(),
		stderr: opts.Stderr,
		log:    log.With(zap.String("entry", spawn.Entry)),
	}

	if h.mode == "" {
		h.mode = ipc.ReadyOnListen
	}

	err = h.run(ctx, spawn, opts)
	if err != nil {
		h.report("error", err.Error())
	}

	return err
}

func (h *Host) run(ctx context.Context, spawn ipc.Spawn, opts Options) error {
	entry, err := h.shim.Resolve(spawn.Entry)
	if err != nil {
		return fmt.Errorf("failed to resolve entry: %w", err)
	}

	i := interp.New(interp.Options{
		GoPath:               spawn.GoPath,
		SourcecodeFilesystem: h.shim.FS(),
		Stdin:                opts.Stdin,
		Stdout:               opts.Stdout,
		Stderr:               opts.Stderr,
		Args:                 append([]string{entry}, spawn.Args...),
		Env:                  spawn.Env,
	})

	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if err := i.Use(h.symbols()); err != nil {
		return fmt.Errorf("failed to load runtime symbols: %w", err)
	}

	h.conn.Handle(ipc.TagPatch, h.onPatch)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	active.Store(h)
	defer active.CompareAndSwap(h, nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		h.log.Info("evaluating entry")

		if _, err := i.EvalPathWithContext(gctx, entry); err != nil && gctx.Err() == nil {
			return fmt.Errorf("failed to run entry: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		var err error

		select {
		case <-gctx.Done():
		case <-h.conn.Done():
			err = ErrDisconnected
			cancel()
		}

		h.close()

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exitCode != 0 {
		return &ExitError{Code: h.exitCode}
	}

	return nil
}

// Ready reports addr as the address of the generation. Only the first
// report of a generation is forwarded.
func (h *Host) Ready(addr string) error {
	address, err := ipc.ParseAddress("tcp", addr)
	if err != nil {
		return err
	}
	return h.reportReady(address)
}

// Listen opens a tracked listener. In listen mode the first listener
// reports the generation as ready.
func (h *Host) Listen(network, address string) (net.Listener, error) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil, ErrClosing
	}
	h.mu.Unlock()

	l, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		l.Close()
		return nil, ErrClosing
	}
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()

	h.log.Info("listening", zap.String("address", l.Addr().String()))

	if h.mode == ipc.ReadyOnListen {
		addr, err := ipc.AddressOf(l.Addr())
		if err == nil {
			err = h.reportReady(addr)
		}
		if err != nil {
			h.log.Warn("failed to report readiness", zap.Error(err))
		}
	}

	return l, nil
}

// Accept registers an update handler for incremental patches.
func (h *Host) Accept(fn hot.AcceptFunc) {
	if fn == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.acceptors = append(h.acceptors, fn)
}

// ReadFileAsync reads name through the shim.
func (h *Host) ReadFileAsync(name string, cb func([]byte, error)) {
	h.shim.ReadFileAsync(name, cb)
}

func (h *Host) reportReady(addr ipc.Address) error {
	h.mu.Lock()
	if h.ready {
		h.mu.Unlock()
		return nil
	}
	h.ready = true
	h.mu.Unlock()

	h.log.Info("reporting ready", zap.Stringer("address", addr))

	return h.conn.Send(ipc.TagReady, ipc.Ready{Address: addr})
}

func (h *Host) onPatch(msg ipc.Message) {
	res := h.applyPatch(msg)

	h.log.Info("patch processed",
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
	)

	if err := h.conn.Send(ipc.TagPatchResult, res); err != nil {
		h.log.Warn("failed to send patch result", zap.Error(err))
	}
}

func (h *Host) applyPatch(msg ipc.Message) ipc.PatchResult {
	var patch ipc.Patch
	if err := msg.Decode(&patch); err != nil {
		return ipc.PatchResult{Status: ipc.ReloadRequired, Reason: err.Error()}
	}

	h.shim.Swap(h.shim.Assets().Apply(patch))

	h.mu.Lock()
	acceptors := make([]hot.AcceptFunc, len(h.acceptors))
	copy(acceptors, h.acceptors)
	h.mu.Unlock()

	if len(acceptors) == 0 {
		return ipc.PatchResult{Status: ipc.ReloadRequired, Reason: "no accept handler registered"}
	}

	update := hot.Update{
		Changed: patch.ChangedPaths(),
		Removed: patch.Removed,
	}

	for _, fn := range acceptors {
		if err := callAccept(fn, update); err != nil {
			return ipc.PatchResult{Status: ipc.ReloadRequired, Reason: err.Error()}
		}
	}

	return ipc.PatchResult{Status: ipc.Patched}
}

func callAccept(fn hot.AcceptFunc, update hot.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("accept handler panicked: %v", r)
		}
	}()

	return fn(update)
}

// exit stops the generation on behalf of the hosted program. Like os.Exit
// it never returns to its caller.
func (h *Host) exit(code int) {
	h.mu.Lock()
	h.exitCode = code
	cancel := h.cancel
	h.mu.Unlock()

	h.log.Info("program requested exit", zap.Int("code", code))

	if cancel != nil {
		cancel()
	}

	runtime.Goexit()
}

// close closes all tracked listeners so that the program's serve loops
// return.
func (h *Host) close() {
	h.mu.Lock()
	h.closing = true
	listeners := h.listeners
	h.listeners = nil
	h.mu.Unlock()

	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			h.log.Debug("failed to close listener", zap.Error(err))
		}
	}
}

func (h *Host) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closing
}

func (h *Host) report(level, message string) {
	if err := h.conn.Send(ipc.TagLog, ipc.Log{Level: level, Message: message}); err != nil {
		h.log.Debug("failed to forward log", zap.Error(err))
	}
}
