package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bbeesley/temperature-logger/internal/cli"
	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cli.Execute(ctx, version)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		slog.Info("shutting down")
	case errors.Is(err, telemetry.ErrRestartRequired):
		slog.Error("exiting for restart", "err", err)
		stop()
		os.Exit(1)
	default:
		slog.Error("run failed", "err", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
