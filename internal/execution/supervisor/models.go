package supervisor

import (
	"errors"
	"fmt"

	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/ipc"
)

var (
	// ErrSuperseded is returned to a reload caller whose request was
	// replaced by a newer one before it completed.
	ErrSuperseded = errors.New("reload superseded")

	// ErrTerminated is returned to pending reload callers when the
	// supervisor is terminated.
	ErrTerminated = errors.New("supervisor terminated")

	// ErrWorkerExited is returned when a generation exits before it
	// reported readiness.
	ErrWorkerExited = errors.New("worker exited")

	// ErrNotListening is returned for a duplicate build when no
	// generation is listening or starting.
	ErrNotListening = errors.New("not listening")

	// ErrReadyTimeout is returned when a generation does not report
	// readiness within the configured timeout.
	ErrReadyTimeout = errors.New("timed out waiting for readiness")
)

// ConfigError reports that a build did not produce the configured entry.
type ConfigError struct {
	Entry string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("entry %q: %v", e.Entry, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateListening  State = "listening"
	StateHMRPending State = "hmr-pending"
	StateClosing    State = "closing"
)

// Request asks the supervisor to run a build.
type Request struct {
	// Assets is the build output.
	Assets *artifact.Set

	// Entry is the entry name or path. Defaults to the configured main
	// entry.
	Entry string

	// BuildID identifies the build. Defaults to the hash of Assets.
	BuildID string
}

// BuildEvent is a completed build reported by a build collaborator.
type BuildEvent struct {
	// Watch is set for builds of a watch session. Other builds are not
	// hosted.
	Watch bool

	Assets  *artifact.Set
	Entry   string
	BuildID string

	// Errors holds the build diagnostics. A build with errors is not
	// hosted.
	Errors []string
}

type EventType string

const (
	EventListening EventType = "listening"
	EventClosing   EventType = "closing"
)

// Event notifies subscribers about readiness changes.
type Event struct {
	Type       EventType   `json:"type"`
	Generation uint64      `json:"generation"`
	Address    ipc.Address `json:"address"`
}

// Status is a snapshot of the supervisor.
type Status struct {
	State      State       `json:"state"`
	Generation uint64      `json:"generation"`
	BuildID    string      `json:"build,omitempty"`
	Entry      string      `json:"entry,omitempty"`
	Listening  bool        `json:"listening"`
	Address    ipc.Address `json:"address"`
}
