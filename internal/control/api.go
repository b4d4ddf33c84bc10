// Package control exposes the supervisor as a JSON-RPC service. The dev
// server mounts it next to the proxy so that tooling can query and drive
// the running supervisor over HTTP or websocket.
package control

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"go.uber.org/zap"
)

// Namespace prefixes all methods of the service, e.g. hotserve_status.
const Namespace = "hotserve"

// Supervisor is the part of the supervisor reachable over the service.
type Supervisor interface {
	Status() supervisor.Status
	WaitListening(ctx context.Context) (ipc.Address, error)
	Terminate(ctx context.Context) error
	Subscribe(fn func(supervisor.Event)) func()
}

// API is the receiver registered with the rpc server.
type API struct {
	sup Supervisor
	log *zap.Logger
}

func NewAPI(sup Supervisor, log *zap.Logger) *API {
	return &API{sup: sup, log: log}
}

// Status returns a snapshot of the supervisor.
func (a *API) Status() supervisor.Status {
	return a.sup.Status()
}

// WaitListening blocks until a generation is listening.
func (a *API) WaitListening(ctx context.Context) (ipc.Address, error) {
	return a.sup.WaitListening(ctx)
}

// Terminate stops the running generation. The next build starts a new one.
func (a *API) Terminate(ctx context.Context) error {
	a.log.Info("terminating generation on request")
	return a.sup.Terminate(ctx)
}

// Events streams readiness changes to the subscriber. Only transports with
// notification support, websocket and in-process, can subscribe.
func (a *API) Events(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}

	sub := notifier.CreateSubscription()

	unsubscribe := a.sup.Subscribe(func(e supervisor.Event) {
		if err := notifier.Notify(sub.ID, e); err != nil {
			a.log.Debug("failed to notify subscriber", zap.Error(err))
		}
	})

	go func() {
		<-sub.Err()
		unsubscribe()
	}()

	return sub, nil
}
