package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/viberails/termbroker/internal/broker"
	"github.com/viberails/termbroker/internal/config"
	"github.com/viberails/termbroker/internal/localconsole"
	"github.com/viberails/termbroker/internal/session"
)

// newStartCmd builds the foreground subcommand: no LifecycleWatchdog
// (spec.md §4.11 "disabled entirely when the process runs in a
// foreground CLI mode"), no local HTTP surface, just a LocalConsole
// viewer attached directly to the broker's in-process Terminal.
func newStartCmd() *cobra.Command {
	var cli string
	var dir string
	var remoteEnabled bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a terminal session in the foreground, attached to this console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cli, dir, remoteEnabled)
		},
	}
	cmd.Flags().StringVar(&cli, "cli", string(session.CLIClaude), "coding-agent CLI to spawn (claude, codex, gemini, copilot)")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory (defaults to the current directory)")
	cmd.Flags().BoolVar(&remoteEnabled, "remote", false, "also open the outbound remote relay connection")
	return cmd
}

func runStart(cliKind, dir string, remoteEnabled bool) error {
	logger := slog.Default()

	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}

	cfgStore, err := config.NewStore(logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defer cfgStore.Close()

	store := openStore(logger)
	b := newBroker(logger, cfgStore, store, remoteEnabled)

	sess, err := b.Start(session.CLIKind(cliKind), dir, "", session.OwnerLocal, remoteEnabled)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	logger.Info("session started", "session_id", sess.ID, "cli", sess.CLI, "dir", sess.WorkingDir)

	term, activeSess, err := b.ActiveTerminal()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	console := localconsole.New(logger)
	runErr := console.Run(ctx, &localRouter{b: b}, &localRouter{b: b}, term, activeSess)

	if b.IsActive() {
		_ = b.Stop()
	}
	<-term.Exited()

	return runErr
}

// localRouter adapts *broker.Broker to localconsole.InputRouter and
// localconsole.ResizeRouter. Broker.RouteLocalInput/ApplyLocalResize take
// a concrete *terminal.Terminal, not localconsole's Terminal interface,
// so this re-resolves the active terminal from the broker rather than
// using the interface value Run passes in (they are always the same
// Terminal for the lifetime of one Run call).
type localRouter struct{ b *broker.Broker }

func (r *localRouter) RouteLocalInput(_ localconsole.Terminal, sess *session.Session, p []byte) error {
	term, _, err := r.b.ActiveTerminal()
	if err != nil {
		return err
	}
	return r.b.RouteLocalInput(term, sess, p)
}

func (r *localRouter) ApplyLocalResize(_ localconsole.Terminal, sess *session.Session, cols, rows int) error {
	term, _, err := r.b.ActiveTerminal()
	if err != nil {
		return err
	}
	return r.b.ApplyLocalResize(term, sess, cols, rows)
}

