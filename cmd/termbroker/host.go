package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/viberails/termbroker/internal/hostui"
	"github.com/viberails/termbroker/internal/tabhost"
)

// newHostCmd builds the optional TabHost supervisor subcommand: it owns
// no Terminal itself, only spawns `termbroker --child <pid>` processes
// and proxies WebSocket connections through to them (spec.md §4.12).
func newHostCmd() *cobra.Command {
	var addr string
	var maxTabs int

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the TabHost supervisor, spawning and proxying to child broker processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(addr, maxTabs)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7890", "address the host's own tab-management API listens on")
	cmd.Flags().IntVar(&maxTabs, "max-tabs", tabhost.DefaultMaxTabs, "maximum concurrently spawned child tabs")
	return cmd
}

func runHost(addr string, maxTabs int) error {
	logger := slog.Default()

	host := tabhost.New(tabhost.Config{
		MaxTabs: maxTabs,
		Logger:  logger,
	})

	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux.HandleFunc("POST /tabs", func(w http.ResponseWriter, r *http.Request) {
		tabID := uuid.NewString()
		tab, err := host.CreateTab(r.Context(), tabID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"tabId": tab.TabID, "port": tab.Port})
	})

	mux.HandleFunc("DELETE /tabs/{tabId}", func(w http.ResponseWriter, r *http.Request) {
		if err := host.DeleteTab(r.PathValue("tabId")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /tabs/{tabId}/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		if err := host.WebSocketProxy(r.PathValue("tabId"), conn); err != nil {
			logger.Info("tab websocket proxy ended", "tab_id", r.PathValue("tabId"), "error", err)
		}
	})

	mux.HandleFunc("GET /tabs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d tabs running\n", host.Count())
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("tab host listening", "addr", addr, "max_tabs", maxTabs)

	uiDone := make(chan error, 1)
	go func() { uiDone <- hostui.Run(host, maxTabs) }()

	select {
	case <-ctx.Done():
		<-uiDone
		return srv.Close()
	case err := <-uiDone:
		cancel()
		srv.Close()
		return err
	case err := <-errCh:
		return err
	}
}
