package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashmap-kz/pgmreport/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.App().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "pgmreport: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
