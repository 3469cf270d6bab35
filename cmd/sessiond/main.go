// Command sessiond runs the session server and a probe client for it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sessiond",
		Short: "Session-oriented TCP server",
		Long: `sessiond accepts framed TCP connections, admits each one through a
Connect handshake that keeps session ids unique, and dispatches every
subsequent frame to the handler registered for its body type.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
