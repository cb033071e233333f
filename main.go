package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fastbert/trainer/cmd"
	"github.com/fastbert/trainer/envconfig"
	"github.com/fastbert/trainer/logutil"
)

func main() {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.NewCLI().ExecuteContext(ctx)
	stop()

	var exit cmd.ExitError
	if errors.As(err, &exit) {
		os.Exit(int(exit))
	}
	cobra.CheckErr(err)
}
