// Command collx evaluates collection expressions over CUE-described
// entities, in memory or as SQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/collx/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
