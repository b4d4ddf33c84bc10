package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/lambda-feedback/hotserve/config"
	"github.com/lambda-feedback/hotserve/internal/control"
	"github.com/lambda-feedback/hotserve/internal/execution/supervisor"
	"github.com/lambda-feedback/hotserve/internal/server"
	"github.com/lambda-feedback/hotserve/util/conf"
	"github.com/urfave/cli/v2"
)

var (
	statusCmdDescription = `The status command queries the control endpoint of a running
development server and prints the state of its supervisor as JSON.

With --wait it blocks until a generation is listening. With
--follow it keeps printing readiness changes until interrupted.`
	statusCmd = &cli.Command{
		Name:        "status",
		Usage:       "Print the state of a running development server.",
		Description: statusCmdDescription,
		Action:      statusAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "the control endpoint. Defaults to the configured development server.",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "wait until a generation is listening.",
			},
			&cli.BoolFlag{
				Name:  "follow",
				Usage: "print readiness changes until interrupted.",
			},
		},
	}
)

func statusAction(ctx *cli.Context) error {
	url := ctx.String("url")
	if url == "" {
		cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
		if err != nil {
			return err
		}
		url = controlURL(cfg.Http, ctx.Bool("follow"))
	}

	c, err := control.Dial(ctx.Context, url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer c.Close()

	enc := json.NewEncoder(ctx.App.Writer)

	if ctx.Bool("wait") {
		if _, err := c.WaitListening(ctx.Context); err != nil {
			return err
		}
	}

	status, err := c.Status(ctx.Context)
	if err != nil {
		return err
	}

	if err := enc.Encode(status); err != nil {
		return err
	}

	if !ctx.Bool("follow") {
		return nil
	}

	events := make(chan supervisor.Event)
	sub, err := c.Events(ctx.Context, events)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case e := <-events:
			if err := enc.Encode(e); err != nil {
				return err
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Context.Done():
			return nil
		}
	}
}

// controlURL is the control endpoint of the server configured by cfg.
// Subscriptions need a websocket connection.
func controlURL(cfg server.HttpConfig, websocket bool) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	scheme := "http"
	if websocket {
		scheme = "ws"
	}

	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(cfg.Port)), server.RPCPath)
}

func init() {
	rootApp.Commands = append(rootApp.Commands, statusCmd)
}
