// Package httpd is the local HTTP+WebSocket surface spec.md §6 names:
// the TabHost readiness probe, the LocalWebSocket attach endpoint, the
// best-effort remote stop, and the LifecycleWatchdog pulse endpoint.
//
// Grounded on gorilla/websocket's Upgrader idiom (the teacher already
// depends on gorilla/websocket for its outbound tunnel, here additionally
// used server-side, matching other_examples/*ws_handler.go's Upgrader
// usage) and on deprecated/go-hub/internal/sshserver.Server's
// constructor-injected *slog.Logger plus http.Server wiring shape.
package httpd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/viberails/termbroker/internal/broker"
	"github.com/viberails/termbroker/internal/watchdog"
)

// sessionCookieName is the cookie TabHost harvests from the bootstrap
// response and replays on the child's WS/stop endpoints (spec.md §6).
const sessionCookieName = "viberails_session"

// Server exposes the broker's local HTTP+WS surface.
type Server struct {
	logger       *slog.Logger
	broker       *broker.Broker
	watchdog     *watchdog.Watchdog
	upgrader     websocket.Upgrader
	mux          *http.ServeMux
	sessionToken string
}

// Config configures a new Server.
type Config struct {
	Broker   *broker.Broker
	Watchdog *watchdog.Watchdog
	Logger   *slog.Logger
}

// New builds a Server with its routes registered. A fresh session token
// is minted for this process's bootstrap cookie; no route checks it on
// incoming requests.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:   logger,
		broker:   cfg.Broker,
		watchdog: cfg.Watchdog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux:          http.NewServeMux(),
		sessionToken: uuid.NewString(),
	}
	s.routes()
	return s
}

// SessionToken returns this server's bootstrap session token, so a
// TabHost parent that spawned this process in-tree (rather than over
// HTTP bootstrap) can read it directly.
func (s *Server) SessionToken() string { return s.sessionToken }

// Handler returns the http.Handler serving all registered routes.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleBootstrap)
	s.mux.HandleFunc("GET /api/v1/IsLocal", s.handleIsLocal)
	s.mux.HandleFunc("GET /api/v1/terminal/ws", s.handleAttachWebSocket)
	s.mux.HandleFunc("POST /api/v1/terminal/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/v1/heartbeat/pulse", s.handlePulse)
}

// handleBootstrap is the URL a spawning TabHost GETs to harvest a
// session cookie (spec.md §6 "Child-process supervisor CLI").
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    url.QueryEscape(s.sessionToken),
		Path:     "/",
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIsLocal(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleAttachWebSocket upgrades the connection and blocks for the
// lifetime of the LocalWebSocket viewer (spec.md §4.10 AttachWebSocket).
func (s *Server) handleAttachWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.watchdog != nil {
		s.watchdog.Acquire(r.RemoteAddr)
		defer s.watchdog.Release(r.RemoteAddr)
	}

	if err := s.broker.AttachWebSocket(conn); err != nil {
		s.logger.Info("local websocket viewer detached", "error", err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.Stop(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// pulseRequest is the body for POST /api/v1/heartbeat/pulse.
type pulseRequest struct {
	OwnerID    string `json:"ownerId"`
	TTLSeconds int    `json:"ttlSeconds"`
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	var req pulseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid pulse body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.TTLSeconds <= 0 {
		http.Error(w, "ownerId and ttlSeconds are required", http.StatusBadRequest)
		return
	}
	if s.watchdog != nil {
		s.watchdog.Pulse(req.OwnerID, time.Duration(req.TTLSeconds)*time.Second, time.Now())
	}
	w.WriteHeader(http.StatusOK)
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	return s.serve(ctx, &http.Server{Addr: addr, Handler: s.mux}, nil)
}

// ServeListener runs the HTTP server on an already-bound listener until
// ctx is cancelled. Useful when the caller needs to know the resolved
// port (e.g. to report it in a bootstrap URL) before requests start
// being served.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, &http.Server{Handler: s.mux}, ln)
}

func (s *Server) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if ln != nil {
			errCh <- srv.Serve(ln)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
