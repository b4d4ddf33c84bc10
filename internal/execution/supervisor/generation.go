package supervisor

import (
	"github.com/lambda-feedback/hotserve/internal/artifact"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"go.uber.org/zap"
)

// generation is one spawn-to-terminate lifetime of a worker. Mutable
// fields are guarded by the supervisor's state lock.
type generation struct {
	id     uint64
	handle worker.Handle
	entry  string

	// token is the reload request the generation currently serves
	token   uint64
	buildID string
	assets  *artifact.Set

	ready    bool
	stopping bool
	address  ipc.Address

	log *zap.Logger
}

// waiter is the continuation of a reload request.
type waiter struct {
	token uint64
	ch    chan result
}

type result struct {
	address ipc.Address
	err     error
}

func newWaiter(token uint64) *waiter {
	return &waiter{token: token, ch: make(chan result, 1)}
}

func (w *waiter) resolve(res result) {
	select {
	case w.ch <- res:
	default:
	}
}
