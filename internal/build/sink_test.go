package build

import (
	"context"
	"sync"

	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/stretchr/testify/mock"
)

type recordingSink struct {
	mu         sync.Mutex
	started    int
	applied    []supervisor.BuildEvent
	terminated bool
	applyErr   error
}

func (s *recordingSink) BuildStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started++
}

func (s *recordingSink) Apply(_ context.Context, event supervisor.BuildEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = append(s.applied, event)

	return s.applyErr
}

func (s *recordingSink) Terminate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.terminated = true

	return nil
}

func (s *recordingSink) events() []supervisor.BuildEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]supervisor.BuildEvent(nil), s.applied...)
}

func (s *recordingSink) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.terminated
}

func (s *recordingSink) startedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) BuildStarted() {
	m.Called()
}

func (m *mockSink) Apply(ctx context.Context, event supervisor.BuildEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockSink) Terminate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
