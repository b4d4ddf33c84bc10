// Package build adapts build pipelines to the supervisor. A source turns
// file changes or an external event stream into build events for a Sink.
package build

import (
	"context"

	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
)

// Sink receives the events of a build pipeline.
type Sink interface {
	// BuildStarted is called when a build starts.
	BuildStarted()

	// Apply is called with every completed build.
	Apply(context.Context, supervisor.BuildEvent) error

	// Terminate is called when the pipeline closes.
	Terminate(context.Context) error
}

var _ Sink = (supervisor.Supervisor)(nil)
