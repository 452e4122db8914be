// Command bulkload exports collections in parallel batches and can resume an
// interrupted export from its progress ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bulkload: %v\n", err)
		stop()
		os.Exit(1)
	}
}
