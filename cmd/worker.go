package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lambda-feedback/hotserve/internal/execution/host"
	"github.com/lambda-feedback/hotserve/internal/execution/worker"
	"github.com/lambda-feedback/hotserve/internal/ipc"
	"github.com/lambda-feedback/hotserve/internal/shell"
	"github.com/lambda-feedback/hotserve/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var workerCmd = &cli.Command{
	Name:   "worker",
	Usage:  "Host a single generation. Started by the supervisor.",
	Hidden: true,
	Action: workerAction,
}

func workerAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	log = log.Named("worker").With(zap.Int("pid", os.Getpid()))

	r, w, err := worker.ChildTransport()
	if err != nil {
		return err
	}

	conn := ipc.NewConn(ipc.Join(r, w), log)
	defer conn.Close()

	// the supervisor terminates workers with SIGTERM
	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGTERM, os.Interrupt)
	defer stop()

	err = host.Serve(sigCtx, conn, host.Options{Log: log})

	var exitErr *host.ExitError
	if errors.As(err, &exitErr) {
		return shell.NewExitError(exitErr.Code)
	}

	return err
}

func init() {
	rootApp.Commands = append(rootApp.Commands, workerCmd)
}
