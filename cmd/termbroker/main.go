// Command termbroker is the CLI entrypoint for the terminal session
// broker: it owns one PTY child process and multiplexes its output to a
// local console, a local WebSocket viewer, and an optional remote relay.
//
// Grounded on the teacher's cmd/botster-hub/main.go: a cobra root command
// with subcommands, log/slog configured once at startup, and each
// subcommand's RunE loading internal/config before doing anything else.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/viberails/termbroker/internal/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	var childParentPID string
	var childCLI string
	var childDir string
	var childAddr string

	root := &cobra.Command{
		Use:     "termbroker",
		Short:   "Terminal session broker: PTY multiplexing for local, browser, and remote viewers",
		Version: Version,
		// A TabHost-spawned child is invoked as `termbroker --child
		// <parent-pid> [...]` (spec.md §6 "Child-process supervisor
		// CLI") rather than through a subcommand, since the flag must be
		// parseable before any subcommand dispatch decides what to run.
		RunE: func(cmd *cobra.Command, args []string) error {
			if childParentPID == "" {
				return cmd.Help()
			}
			return runServe(childCLI, childDir, childAddr, false, true, session.OwnerExternal)
		},
	}
	root.Flags().StringVar(&childParentPID, "child", "", "internal: run as a TabHost-spawned child of the given parent PID")
	root.Flags().StringVar(&childCLI, "child-cli", "claude", "internal: CLI kind for a spawned child")
	root.Flags().StringVar(&childDir, "child-dir", "", "internal: working directory for a spawned child")
	root.Flags().StringVar(&childAddr, "child-addr", "127.0.0.1:0", "internal: listen address for a spawned child")

	root.AddCommand(newStartCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newHostCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
