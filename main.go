package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/secfix-research/maintscan/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx)
	stop()
	os.Exit(code)
}
