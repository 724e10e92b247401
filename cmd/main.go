/*
Package main is the entry point of the chatsync command.

It has two subcommands: serve runs the development backend (REST API plus push hub) and chat runs
the terminal client on top of the synchronization core. Both load their configuration from
environment variables; flags override individual values.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Real-time chat sync client and development backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(), newChatCommand())
	return root
}
