package control

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/ipc"
)

// Client calls the control service of a running supervisor.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the service at url. http(s) urls support calls only,
// ws(s) urls also support event subscriptions.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// NewClient wraps an established rpc client.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

func (c *Client) Status(ctx context.Context) (supervisor.Status, error) {
	var status supervisor.Status
	err := c.rpc.CallContext(ctx, &status, Namespace+"_status")
	return status, err
}

func (c *Client) WaitListening(ctx context.Context) (ipc.Address, error) {
	var addr ipc.Address
	err := c.rpc.CallContext(ctx, &addr, Namespace+"_waitListening")
	return addr, err
}

func (c *Client) Terminate(ctx context.Context) error {
	return c.rpc.CallContext(ctx, nil, Namespace+"_terminate")
}

// Events delivers readiness changes to ch until the subscription is
// closed.
func (c *Client) Events(ctx context.Context, ch chan<- supervisor.Event) (*rpc.ClientSubscription, error) {
	return c.rpc.Subscribe(ctx, Namespace, ch, "events")
}

func (c *Client) Close() {
	c.rpc.Close()
}
