package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "TCP text-chat relay",
		Long: `chatrelay accepts line-oriented TCP chat clients, gives each one a
generated display name, and relays messages between them.

A line of the form /to:<name>:<text> is delivered only to <name>;
every other line is broadcast to all other clients. Browser clients can
join the same room over WebSocket at /ws, and operators drive the relay
through the JSON API under /admin.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)
	return rootCmd
}
