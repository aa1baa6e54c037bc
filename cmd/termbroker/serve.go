package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/viberails/termbroker/internal/config"
	"github.com/viberails/termbroker/internal/httpd"
	"github.com/viberails/termbroker/internal/remotestate"
	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/watchdog"
)

// newServeCmd builds the headless subcommand: a broker behind
// internal/httpd, with the LifecycleWatchdog enabled (spec.md §4.11) so
// an idle session with no attached viewer eventually stops the process.
// This is the mode TabHost spawns children into.
func newServeCmd() *cobra.Command {
	var cli string
	var dir string
	var addr string
	var remoteEnabled bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a terminal session headlessly behind the local HTTP/WebSocket surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cli, dir, addr, remoteEnabled, false, session.OwnerLocal)
		},
	}
	cmd.Flags().StringVar(&cli, "cli", string(session.CLIClaude), "coding-agent CLI to spawn")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory (defaults to the current directory)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:0", "address to listen on")
	cmd.Flags().BoolVar(&remoteEnabled, "remote", false, "also open the outbound remote relay connection")
	return cmd
}

// runServe is shared by `serve` and the internal `--child` re-exec path;
// printBootstrap additionally emits the "vs-code-v1=" line a spawning
// TabHost waits for (spec.md §6). A session started on owner's behalf
// (session.OwnerExternal, for a TabHost child) is left running by
// Broker.Stop — spec.md §4.10 "If externally owned, return" — since
// TabHost's DeleteTab terminates the child process itself regardless
// of whether its best-effort stop call took effect (spec.md §4.12).
func runServe(cliKind, dir, addr string, remoteEnabled, printBootstrap bool, owner session.OwnerKind) error {
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

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := cfgStore.Current()
	wd := watchdog.New(watchdog.Config{
		Disabled: cfg.ForegroundCLI,
		Stop:     cancel,
		Logger:   logger,
	}, time.Now())
	wd.Run()
	defer wd.Stop()

	srv := httpd.New(httpd.Config{Broker: b, Watchdog: wd, Logger: logger})

	sess, err := b.Start(session.CLIKind(cliKind), dir, "", owner, remoteEnabled)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	logger.Info("session started", "session_id", sess.ID, "cli", sess.CLI, "dir", sess.WorkingDir)

	stateClient := remotestate.New(cfg.FrontendURL, cfg.APIKey, logger)
	if cfg.HasAPIKey() {
		hostURL := fmt.Sprintf("http://%s", ln.Addr().String())
		stateClient.Register(ctx, remotestate.RegisterRequest{
			SessionID:        sess.ID,
			CLI:              string(sess.CLI),
			WorkingDirectory: sess.WorkingDir,
			HostURL:          hostURL,
		})
		defer stateClient.Deregister(context.Background(), sess.ID)
	}

	if printBootstrap {
		fmt.Printf("vs-code-v1=http://%s/\n", ln.Addr().String())
	}

	return srv.ServeListener(ctx, ln)
}
