package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lambda-feedback/hotserve/cmd"
	"github.com/lambda-feedback/hotserve/util"
)

var (
	Version   string
	Buildtime string
	Commit    string
)

func main() {
	if err := initSentry(); err != nil {
		log.Fatalf("failed to initialize sentry: %v", err)
	}
	defer sentry.Flush(2 * time.Second)

	version := Version
	if version == "" {
		version = "local"
	}

	compiled, _ := time.Parse(time.RFC3339, Buildtime)

	cmd.Execute(cmd.ExecuteParams{
		Version:  version,
		Compiled: compiled,
	})
}

// initSentry enables error reporting when SENTRY_DSN is set.
func initSentry() error {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return nil
	}

	env := os.Getenv("SENTRY_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	rate := 0.1
	if v := os.Getenv("SENTRY_TRACES_SAMPLE_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		rate = r
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Debug:            util.Truthy(os.Getenv("SENTRY_DEBUG")),
		EnableTracing:    rate > 0,
		TracesSampleRate: rate,
		AttachStacktrace: true,
		Environment:      env,
		Release:          Commit,
	})
}
