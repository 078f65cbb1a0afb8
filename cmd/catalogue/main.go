// Command catalogue is a terminal front end for the lending catalogue. It
// reads through the same cache, query and mutation layers an interactive
// client would use.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-catalogue-cache/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(newApp(os.Stdin, os.Stdout, os.Stderr))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", transport.UserMessage(err))
		stop()
		os.Exit(1)
	}
}
