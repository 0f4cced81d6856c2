// Command corerisk runs the pre-trade risk-gating and signal-decision
// core service, grounded on the teacher's cmd/cprotocol entrypoint shape
// (signal-aware context, cobra root, zerolog TTY console writer).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
