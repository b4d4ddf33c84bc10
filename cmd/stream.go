package cmd

import (
	"os"

	"github.com/lambda-feedback/hotserve/app"
	"github.com/lambda-feedback/hotserve/app/stream"
	"github.com/lambda-feedback/hotserve/util/logging"
	"github.com/urfave/cli/v2"
)

var (
	streamCmdDescription = `The stream command reads build events from stdin, one JSON
object per line, and runs every completed build as a new
generation of the program. This plugs an external build
pipeline into the supervisor.

  {"type":"start"}
  {"type":"done","build":"<id>","entry":"main","assets":{"/out/main.go":"..."}}
  {"type":"close"}

The command exits once the stream is closed.`
	streamCmd = &cli.Command{
		Name:        "stream",
		Usage:       "Serve builds read from stdin.",
		Description: streamCmdDescription,
		Action:      streamAction,
	}
)

func streamAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := parseConfig(ctx)
	if err != nil {
		return err
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	log.Info("reading build events from stdin")

	return app.Run(ctx.Context, stream.Module(cfg, os.Stdin))
}

func init() {
	streamCmd.Flags = append(streamCmd.Flags, supervisorFlags...)
	streamCmd.Flags = append(streamCmd.Flags, workerFlags...)
	streamCmd.Flags = append(streamCmd.Flags, serverFlags...)

	rootApp.Commands = append(rootApp.Commands, streamCmd)
}
