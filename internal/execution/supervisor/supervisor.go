package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/lambda-feedback/hotserve/util/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Supervisor interface {
	// Reload runs req as the next generation and blocks until it reports
	// readiness. Only the latest request completes with an address,
	// superseded callers receive ErrSuperseded.
	Reload(ctx context.Context, req Request) (ipc.Address, error)

	// Apply hosts a completed build. It returns once the build has been
	// handed to a generation, without waiting for readiness. Only
	// configuration errors are returned.
	Apply(ctx context.Context, event BuildEvent) error

	// BuildStarted marks the supervisor as not listening until the next
	// build is hosted.
	BuildStarted()

	// Terminate stops the active generation and returns to idle.
	// Pending reload callers receive ErrTerminated.
	Terminate(ctx context.Context) error

	// Subscribe registers a listener for readiness notifications.
	Subscribe(fn func(Event)) func()

	// WaitListening blocks until a generation is listening.
	WaitListening(ctx context.Context) (ipc.Address, error)

	// Listening reports whether a generation accepts traffic.
	Listening() bool

	// Address is the address of the listening generation. It is only
	// valid while Listening reports true.
	Address() ipc.Address

	// Status returns a snapshot of the supervisor.
	Status() Status
}

type WorkerSupervisor struct {
	config   Config
	launcher worker.Launcher

	// control serializes the terminate, spawn and patch steps
	control *semaphore.Weighted

	mu          sync.Mutex
	state       State
	token       uint64
	nextGen     uint64
	gen         *generation
	lastBuildID string
	waiters     []*waiter
	listening   bool
	address     ipc.Address
	listeningCh chan struct{}

	subLock     sync.Mutex
	subscribers map[int]func(Event)
	nextSub     int

	log *zap.Logger
}

var _ Supervisor = (*WorkerSupervisor)(nil)

type Params struct {
	// Config is the config used to set up the supervisor and its
	// generations.
	Config Config

	// Launcher starts the workers of new generations.
	Launcher worker.Launcher

	// Log is the logger to use for the supervisor
	Log *zap.Logger
}

func New(params Params) (*WorkerSupervisor, error) {
	if params.Launcher == nil {
		return nil, errors.New("no worker launcher")
	}

	if params.Log == nil {
		params.Log = zap.NewNop()
	}

	return &WorkerSupervisor{
		config:      params.Config.withDefaults(),
		launcher:    params.Launcher,
		control:     semaphore.NewWeighted(1),
		state:       StateIdle,
		listeningCh: make(chan struct{}),
		subscribers: make(map[int]func(Event)),
		log:         params.Log.Named("supervisor"),
	}, nil
}

func (s *WorkerSupervisor) Reload(ctx context.Context, req Request) (ipc.Address, error) {
	req, err := s.resolve(req)
	if err != nil {
		return ipc.Address{}, err
	}

	w, err := s.begin(ctx, req)
	if err != nil {
		return ipc.Address{}, err
	}

	select {
	case res := <-w.ch:
		return res.address, res.err
	case <-ctx.Done():
		s.dropWaiter(w)
		return ipc.Address{}, ctx.Err()
	}
}

func (s *WorkerSupervisor) Apply(ctx context.Context, event BuildEvent) error {
	log := s.log.With(zap.String("build", event.BuildID))

	if !event.Watch {
		log.Debug("ignoring build outside of watch mode")
		return nil
	}

	if len(event.Errors) > 0 {
		log.Warn("build failed, skipping reload", zap.Strings("errors", event.Errors))
		s.restoreListening()
		return nil
	}

	req, err := s.resolve(Request{
		Assets:  event.Assets,
		Entry:   event.Entry,
		BuildID: event.BuildID,
	})
	if err != nil {
		return err
	}

	if _, err := s.begin(ctx, req); err != nil && !errors.Is(err, ErrNotListening) {
		log.Warn("failed to host build", zap.Error(err))
	}

	return nil
}

func (s *WorkerSupervisor) BuildStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setListeningLocked(false, ipc.Address{})
}

func (s *WorkerSupervisor) Terminate(ctx context.Context) error {
	s.mu.Lock()
	s.token++
	waiters := s.waiters
	s.waiters = nil
	s.lastBuildID = ""
	s.mu.Unlock()

	for _, w := range waiters {
		w.resolve(result{err: ErrTerminated})
	}

	if err := s.control.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.control.Release(1)

	if g := s.current(); g != nil {
		s.stop(g)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Info("terminated")

	return nil
}

func (s *WorkerSupervisor) WaitListening(ctx context.Context) (ipc.Address, error) {
	for {
		s.mu.Lock()
		if s.listening {
			addr := s.address
			s.mu.Unlock()
			return addr, nil
		}
		ch := s.listeningCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ipc.Address{}, ctx.Err()
		}
	}
}

func (s *WorkerSupervisor) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listening
}

func (s *WorkerSupervisor) Address() ipc.Address {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.address
}

func (s *WorkerSupervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:     s.state,
		Listening: s.listening,
		Address:   s.address,
	}

	if s.gen != nil {
		status.Generation = s.gen.id
		status.BuildID = s.gen.buildID
		status.Entry = s.gen.entry
	}

	return status
}

// resolve fills in the entry and build id of req.
func (s *WorkerSupervisor) resolve(req Request) (Request, error) {
	name := req.Entry
	if name == "" {
		name = s.config.MainEntry
	}

	entry, err := artifact.FindEntry(req.Assets, name)
	if err != nil {
		return req, &ConfigError{Entry: name, Err: err}
	}

	req.Entry = entry

	if req.BuildID == "" {
		req.BuildID = req.Assets.Hash()
	}

	return req, nil
}

// begin registers a waiter for req and runs the control path. It returns
// once req has been handed to a generation or was superseded.
func (s *WorkerSupervisor) begin(ctx context.Context, req Request) (*waiter, error) {
	log := s.log.With(zap.String("build", req.BuildID))

	s.mu.Lock()

	if req.BuildID == s.lastBuildID {
		s.mu.Unlock()
		return s.duplicate(log)
	}

	s.lastBuildID = req.BuildID
	s.token++
	token := s.token

	// only the latest request may complete
	superseded := s.waiters
	w := newWaiter(token)
	s.waiters = []*waiter{w}

	s.mu.Unlock()

	for _, old := range superseded {
		old.resolve(result{err: ErrSuperseded})
	}

	if err := s.control.Acquire(ctx, 1); err != nil {
		s.dropWaiter(w)
		s.forget(token)
		return nil, err
	}
	defer s.control.Release(1)

	if err := s.transition(ctx, token, req, log); err != nil {
		s.fail(token, err)
		s.forget(token)
		return nil, err
	}

	return w, nil
}

// duplicate answers a request for the build that was hosted last.
func (s *WorkerSupervisor) duplicate(log *zap.Logger) (*waiter, error) {
	// a build start may have cleared the flag of the running generation
	s.restoreListening()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		log.Debug("duplicate build, already listening")
		w := newWaiter(s.token)
		w.resolve(result{address: s.address})
		return w, nil
	}

	if len(s.waiters) > 0 {
		log.Debug("duplicate build, joining pending reload")
		w := newWaiter(s.token)
		s.waiters = append(s.waiters, w)
		return w, nil
	}

	log.Debug("duplicate build, nothing to join")

	return nil, ErrNotListening
}

// transition moves from the current generation to req, either by patching
// it or by replacing it. The caller holds the control semaphore.
func (s *WorkerSupervisor) transition(ctx context.Context, token uint64, req Request, log *zap.Logger) error {
	if s.superseded(token) {
		return nil
	}

	g := s.current()

	if g != nil && s.config.HMR {
		if s.patch(ctx, token, g, req) {
			return nil
		}
	}

	if g != nil {
		s.stop(g)
	}

	// a newer request spawns the next generation
	if s.superseded(token) {
		log.Debug("request superseded during cleanup")
		return nil
	}

	return s.spawn(ctx, token, req, log)
}

func (s *WorkerSupervisor) spawn(ctx context.Context, token uint64, req Request, log *zap.Logger) error {
	h, err := s.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch worker: %w", err)
	}

	s.mu.Lock()
	s.nextGen++
	g := &generation{
		id:      s.nextGen,
		handle:  h,
		entry:   req.Entry,
		token:   token,
		buildID: req.BuildID,
		assets:  req.Assets,
		log: log.With(
			zap.Uint64("generation", s.nextGen),
			zap.String("worker", h.ID()),
			zap.Int("pid", h.Pid()),
		),
	}
	s.gen = g
	s.state = StateStarting
	s.mu.Unlock()

	g.log.Info("starting generation", zap.String("entry", req.Entry))

	conn := h.Conn()
	conn.Handle(ipc.TagOnline, func(ipc.Message) {
		g.log.Debug("worker online")
	})
	conn.Handle(ipc.TagLog, func(msg ipc.Message) {
		s.forwardLog(g, msg)
	})
	conn.Handle(ipc.TagReady, func(msg ipc.Message) {
		s.onReady(g, msg)
	})

	go s.watch(g)

	err = conn.Send(ipc.TagSpawn, ipc.Spawn{
		Entry:     req.Entry,
		Assets:    req.Assets.Map(),
		GoPath:    s.config.GoPath,
		Args:      s.config.Args,
		Env:       s.config.environ(),
		ReadyMode: s.config.readyMode(),
	})
	if err != nil {
		g.log.Warn("failed to send spawn message", zap.Error(err))
		s.stop(g)
		return fmt.Errorf("failed to spawn generation: %w", err)
	}

	if s.config.ReadyTimeout > 0 {
		time.AfterFunc(s.config.ReadyTimeout, func() {
			s.readyTimeout(g)
		})
	}

	return nil
}

// patch sends the diff between the generation's assets and req to the
// worker. It reports whether the worker applied it.
func (s *WorkerSupervisor) patch(ctx context.Context, token uint64, g *generation, req Request) bool {
	s.mu.Lock()
	if !g.ready || g.stopping {
		s.mu.Unlock()
		return false
	}
	prev := g.assets
	s.state = StateHMRPending
	s.setListeningLocked(false, ipc.Address{})
	s.mu.Unlock()

	diff := artifact.Diff(prev, req.Assets)

	g.log.Info("sending patch",
		zap.Int("changed", len(diff.Changed)),
		zap.Int("removed", len(diff.Removed)),
	)

	conn := g.handle.Conn()

	if err := conn.Send(ipc.TagPatch, diff); err != nil {
		g.log.Info("failed to send patch, reloading", zap.Error(err))
		return false
	}

	if s.config.PatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.PatchTimeout)
		defer cancel()
	}

	msg, err := conn.WaitFor(ctx, ipc.TagPatchResult)
	if err != nil {
		g.log.Info("no patch result, reloading", zap.Error(err))
		return false
	}

	var res ipc.PatchResult
	if err := msg.Decode(&res); err != nil || res.Status != ipc.Patched {
		g.log.Info("patch not applied, reloading", zap.String("reason", res.Reason), zap.Error(err))
		return false
	}

	s.mu.Lock()

	if s.gen != g || g.stopping {
		s.mu.Unlock()
		return false
	}

	// the worker runs the new assets even if a newer request is pending
	g.assets = req.Assets
	g.buildID = req.BuildID
	g.token = token

	if s.token != token {
		s.mu.Unlock()
		return true
	}

	s.state = StateListening
	s.setListeningLocked(true, g.address)
	waiters := s.takeWaitersLocked(token)
	addr := g.address

	s.mu.Unlock()

	g.log.Info("patch applied")

	s.emit(Event{Type: EventListening, Generation: g.id, Address: addr})

	for _, w := range waiters {
		w.resolve(result{address: addr})
	}

	return true
}

// stop terminates g and waits for it to exit. It always runs to
// completion so that no worker outlives its generation.
func (s *WorkerSupervisor) stop(g *generation) {
	s.mu.Lock()
	g.stopping = true
	if s.gen == g {
		s.state = StateClosing
	}
	s.setListeningLocked(false, ipc.Address{})
	s.mu.Unlock()

	s.emit(Event{Type: EventClosing, Generation: g.id})

	g.log.Info("stopping generation")

	event, err := worker.Stop(context.Background(), g.handle, s.config.Stop)
	if err != nil {
		g.log.Error("failed to stop worker", zap.Error(err))
	} else {
		g.log.Debug("generation stopped", zap.Any("code", event.Code), zap.Any("signal", event.Signal))
	}

	g.handle.Conn().Close()

	s.mu.Lock()
	if s.gen == g {
		s.gen = nil
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// watch reports a generation that exits on its own.
func (s *WorkerSupervisor) watch(g *generation) {
	<-g.handle.Done()

	s.mu.Lock()

	if s.gen != g || g.stopping {
		s.mu.Unlock()
		return
	}

	s.gen = nil
	s.state = StateIdle
	s.setListeningLocked(false, ipc.Address{})
	waiters := s.takeWaitersLocked(g.token)

	// the same build may be hosted again
	if s.token == g.token {
		s.lastBuildID = ""
	}

	s.mu.Unlock()

	event, _ := g.handle.Wait(context.Background())

	g.log.Warn("generation exited unexpectedly",
		zap.Any("code", event.Code),
		zap.Any("signal", event.Signal),
		zap.String("stderr", event.Stderr),
	)

	for _, w := range waiters {
		w.resolve(result{err: ErrWorkerExited})
	}

	s.emit(Event{Type: EventClosing, Generation: g.id})
}

func (s *WorkerSupervisor) onReady(g *generation, msg ipc.Message) {
	var ready ipc.Ready
	if err := msg.Decode(&ready); err != nil {
		g.log.Warn("invalid ready message", zap.Error(err))
		return
	}

	s.mu.Lock()

	if s.gen != g || g.stopping || g.ready {
		s.mu.Unlock()
		g.log.Debug("ignoring stale ready message")
		return
	}

	g.ready = true
	g.address = ready.Address

	// a pending newer request replaces this generation
	if g.token != s.token {
		s.mu.Unlock()
		g.log.Debug("generation superseded before readiness")
		return
	}

	s.state = StateListening
	s.setListeningLocked(true, ready.Address)
	waiters := s.takeWaitersLocked(g.token)

	s.mu.Unlock()

	g.log.Info("generation listening", zap.Stringer("address", ready.Address))

	s.emit(Event{Type: EventListening, Generation: g.id, Address: ready.Address})

	for _, w := range waiters {
		w.resolve(result{address: ready.Address})
	}
}

func (s *WorkerSupervisor) readyTimeout(g *generation) {
	s.mu.Lock()

	if s.gen != g || g.ready || g.stopping {
		s.mu.Unlock()
		return
	}

	waiters := s.takeWaitersLocked(g.token)

	s.mu.Unlock()

	if len(waiters) > 0 {
		g.log.Warn("generation did not report readiness", zap.Duration("timeout", s.config.ReadyTimeout))
	}

	for _, w := range waiters {
		w.resolve(result{err: ErrReadyTimeout})
	}
}

// restoreListening undoes BuildStarted for a build that is not hosted.
func (s *WorkerSupervisor) restoreListening() {
	s.mu.Lock()

	g := s.gen
	if g == nil || !g.ready || g.stopping || s.listening || s.state != StateListening {
		s.mu.Unlock()
		return
	}

	s.setListeningLocked(true, g.address)
	addr := g.address

	s.mu.Unlock()

	s.emit(Event{Type: EventListening, Generation: g.id, Address: addr})
}

func (s *WorkerSupervisor) forwardLog(g *generation, msg ipc.Message) {
	var entry ipc.Log
	if err := msg.Decode(&entry); err != nil {
		return
	}

	logging.Write(g.log.Named("worker"), entry.Level, entry.Message)
}

func (s *WorkerSupervisor) current() *generation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gen
}

func (s *WorkerSupervisor) superseded(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token != token
}

func (s *WorkerSupervisor) fail(token uint64, err error) {
	s.mu.Lock()
	waiters := s.takeWaitersLocked(token)
	s.mu.Unlock()

	for _, w := range waiters {
		w.resolve(result{err: err})
	}
}

// forget clears the duplicate-build guard if token is still the latest
// request, so that the build can be retried.
func (s *WorkerSupervisor) forget(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == token {
		s.lastBuildID = ""
	}
}

func (s *WorkerSupervisor) dropWaiter(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, other := range s.waiters {
		if other == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *WorkerSupervisor) takeWaitersLocked(token uint64) []*waiter {
	var taken, kept []*waiter

	for _, w := range s.waiters {
		if w.token == token {
			taken = append(taken, w)
		} else {
			kept = append(kept, w)
		}
	}

	s.waiters = kept

	return taken
}

func (s *WorkerSupervisor) setListeningLocked(on bool, addr ipc.Address) {
	if on == s.listening {
		if on {
			s.address = addr
		}
		return
	}

	s.listening = on

	if on {
		s.address = addr
		close(s.listeningCh)
	} else {
		s.address = ipc.Address{}
		s.listeningCh = make(chan struct{})
	}
}
