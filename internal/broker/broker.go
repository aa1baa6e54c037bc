// Package broker implements the process-wide SessionBroker: the single
// owner of the one active Terminal, the one attached LocalWebSocket
// viewer, and the one outbound RemoteConnection, plus the takeover
// policy between them.
//
// Grounded on hub.HubState's coarse-mutex single-owner-of-shared-state
// shape (deprecated/go-hub/internal/hub/state.go) and
// sshserver.Server's bidirectional io.Copy session loop
// (deprecated/go-hub/internal/sshserver/sshserver.go), adapted from "N
// agents, browse-and-select" to "one Terminal, strict single-viewer
// policy per transport".
package broker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viberails/termbroker/internal/controlproto"
	"github.com/viberails/termbroker/internal/distributor"
	"github.com/viberails/termbroker/internal/ioaccum"
	"github.com/viberails/termbroker/internal/iorouter"
	"github.com/viberails/termbroker/internal/ptyhandle"
	"github.com/viberails/termbroker/internal/remote"
	"github.com/viberails/termbroker/internal/resize"
	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/sessionstore"
	"github.com/viberails/termbroker/internal/terminal"
)

// WSConn is the subset of *websocket.Conn the broker needs to drive a
// local viewer. Accepting an interface keeps this package testable
// without a real network socket.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// PlannedCommand is what a CommandPlanner produces for a new session:
// the PTY configuration plus an optional line to feed the shell once
// it's spawned (e.g. the CLI invocation itself).
type PlannedCommand struct {
	Env            map[string]string
	Cols, Rows     int
	Title          string
	InitialCommand string
}

// CommandPlanner builds the environment and launch command for a new
// session. It is an external collaborator so the broker stays agnostic
// of how a particular CLIKind is actually invoked.
type CommandPlanner interface {
	Plan(sess *session.Session) (PlannedCommand, error)
}

// RemoteDialer opens a RemoteConnection for a session. Abstracted so
// tests can stub out real network dials.
type RemoteDialer interface {
	Dial(sessionID string, callbacks remote.Callbacks) (*remote.Connection, error)
}

// Config configures a new Broker.
type Config struct {
	Store          sessionstore.Store
	Planner        CommandPlanner
	RemoteDialer   RemoteDialer
	ReplayCapacity int
	// LogOutputToStore subscribes a consumer that persists every PTY
	// output chunk via sessionstore.LogOutput. Off by default.
	LogOutputToStore bool
	Logger           *slog.Logger
}

type localViewer struct {
	writer *wsWriter
	token  distributor.Token
}

// Broker is the process-wide singleton tying a Terminal to its
// SessionStore-visible Session, its one local viewer, and its one
// remote connection.
type Broker struct {
	logger         *slog.Logger
	store            sessionstore.Store
	planner          CommandPlanner
	dialer           RemoteDialer
	replayCapacity   int
	logOutputToStore bool

	acc    *ioaccum.Accumulator
	router *iorouter.Router
	resize *resize.Coordinator

	mu          sync.Mutex
	term        *terminal.Terminal
	sess        *session.Session
	localViewer *localViewer
	remoteConn  *remote.Connection
}

// New creates a Broker with no active terminal.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	acc := ioaccum.New(cfg.Store, logger)
	return &Broker{
		logger:           logger,
		store:            cfg.Store,
		planner:          cfg.Planner,
		dialer:           cfg.RemoteDialer,
		replayCapacity:   cfg.ReplayCapacity,
		logOutputToStore: cfg.LogOutputToStore,
		acc:              acc,
		router:           iorouter.New(cfg.Store, acc),
		resize:           resize.New(cfg.Store, logger),
	}
}

// IsActive reports whether a Terminal is currently running.
func (b *Broker) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.term != nil
}

// ActiveSessionID returns the session id of the active terminal, or ""
// if none is active.
func (b *Broker) ActiveSessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return ""
	}
	return b.sess.ID
}

// ActiveTerminal returns the active Terminal and its Session, for a
// same-process viewer (the LocalConsole) that needs to subscribe and
// route input directly rather than over a WebSocket. It returns
// ErrNoActiveTerminal if nothing is running.
func (b *Broker) ActiveTerminal() (*terminal.Terminal, *session.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.term == nil {
		return nil, nil, ErrNoActiveTerminal
	}
	return b.term, b.sess, nil
}

// RouteLocalInput routes raw bytes from the LocalConsole viewer into the
// active terminal via the broker's IoRouter/InputAccumulator choke point.
func (b *Broker) RouteLocalInput(term *terminal.Terminal, sess *session.Session, p []byte) error {
	return b.router.RouteInput(sess, term, p, session.SourceLocalCli)
}

// ApplyLocalResize applies a terminal resize originating from the
// LocalConsole viewer.
func (b *Broker) ApplyLocalResize(term *terminal.Terminal, sess *session.Session, cols, rows int) error {
	return b.resize.ApplyResize(term, sess, cols, rows, session.SourceLocalCli)
}

// Start launches a new session, or returns ErrAlreadyActive if one is
// already running.
func (b *Broker) Start(cli session.CLIKind, workingDir, envProfile string, owner session.OwnerKind, remoteEnabled bool) (*session.Session, error) {
	b.mu.Lock()
	if b.term != nil {
		b.mu.Unlock()
		return nil, ErrAlreadyActive
	}

	sess := session.New(cli, workingDir, envProfile, owner, remoteEnabled)

	plan, err := b.planner.Plan(sess)
	if err != nil {
		b.mu.Unlock()
		return nil, &Error{Kind: KindSpawn, Err: err}
	}

	term, err := terminal.New(terminal.Config{
		Pty: ptyhandle.Config{
			Env:   plan.Env,
			Dir:   workingDir,
			Cols:  plan.Cols,
			Rows:  plan.Rows,
			Title: plan.Title,
		},
		ReplayCapacity: b.replayCapacity,
		Logger:         b.logger,
	})
	if err != nil {
		b.mu.Unlock()
		return nil, &Error{Kind: KindSpawn, Err: err}
	}

	b.term = term
	b.sess = sess
	b.mu.Unlock()

	if err := b.store.CreateSession(sess); err != nil {
		b.logger.Error("creating session record failed", "session_id", sess.ID, "error", err)
	}

	if b.logOutputToStore {
		term.Subscribe(distributor.ConsumerFunc(func(p []byte) {
			if err := b.router.RouteOutput(sess, p); err != nil {
				b.logger.Error("logging output failed", "session_id", sess.ID, "error", err)
			}
		}))
	}

	if remoteEnabled && b.dialer != nil {
		b.openRemote(term, sess)
	}

	term.OnExited(func(exitCode int) { b.onExited(sess, exitCode) })
	term.StartReadLoop()

	if plan.InitialCommand != "" {
		if err := term.SendCommand(plan.InitialCommand); err != nil {
			b.logger.Error("sending initial command failed", "session_id", sess.ID, "error", err)
		} else if err := b.store.RecordInitialInput(sess.ID, plan.InitialCommand); err != nil {
			b.logger.Error("recording initial input failed", "session_id", sess.ID, "error", err)
		}
	}

	return sess, nil
}

func (b *Broker) openRemote(term *terminal.Terminal, sess *session.Session) {
	callbacks := remote.Callbacks{
		OnReplayRequested: func() {
			b.withRemote(func(rc *remote.Connection) {
				rc.SendOutputAsync(term.ReplaySnapshot())
			})
			b.disconnectLocalViewer("Session taken over by remote viewer")
		},
		OnBrowserDisconnected: func() {
			b.logger.Info("remote browser disconnected", "session_id", sess.ID)
		},
		OnResizeRequested: func(cols, rows int) {
			b.resize.ApplyResize(term, sess, cols, rows, session.SourceRemoteWebUi)
		},
		OnCommandReceived: func(name, payload string) {
			if err := b.store.RecordRemoteCommand(sess.ID, name, payload); err != nil {
				b.logger.Error("recording remote command failed", "session_id", sess.ID, "error", err)
			}
		},
		OnInputReceived: func(p []byte) {
			if err := b.router.RouteInput(sess, term, p, session.SourceRemoteWebUi); err != nil {
				b.logger.Error("routing remote input failed", "session_id", sess.ID, "error", err)
			}
		},
	}

	rc, err := b.dialer.Dial(sess.ID, callbacks)
	if err != nil {
		b.logger.Error("remote connect failed", "session_id", sess.ID, "error", err)
		return
	}

	b.mu.Lock()
	b.remoteConn = rc
	b.mu.Unlock()

	term.Subscribe(distributor.ConsumerFunc(func(p []byte) {
		rc.SendOutputAsync(p)
	}))
}

func (b *Broker) withRemote(fn func(*remote.Connection)) {
	b.mu.Lock()
	rc := b.remoteConn
	b.mu.Unlock()
	if rc != nil {
		fn(rc)
	}
}

func (b *Broker) onExited(sess *session.Session, exitCode int) {
	sess.Complete(exitCode)
	if err := b.store.CompleteSession(sess.ID, exitCode); err != nil {
		b.logger.Error("completing session failed", "session_id", sess.ID, "error", err)
	}
	b.acc.FlushSession(sess.ID)
	b.resize.CancelPending(sess.ID)

	b.mu.Lock()
	if b.sess == sess {
		b.term = nil
		b.sess = nil
		b.localViewer = nil
		remoteConn := b.remoteConn
		b.remoteConn = nil
		b.mu.Unlock()
		if remoteConn != nil {
			_ = remoteConn.DisposeAsync()
		}
		return
	}
	b.mu.Unlock()
}

// Stop terminates the active session, if any. A session owned
// externally (spec.md §4.10/§4.12 — e.g. a TabHost-spawned child whose
// lifetime its parent manages) is left running; only the owning host
// may stop it.
func (b *Broker) Stop() error {
	b.mu.Lock()
	term := b.term
	sess := b.sess
	b.mu.Unlock()
	if term == nil {
		return ErrNoActiveTerminal
	}
	if sess != nil && sess.Owner == session.OwnerExternal {
		return nil
	}
	term.Dispose()
	return nil
}

// AttachWebSocket installs conn as the session's LocalWebSocket viewer,
// evicting any previous one, then blocks running the WS read loop until
// the connection errors, is evicted by a newer local viewer, or is
// evicted by a remote replay request.
func (b *Broker) AttachWebSocket(conn WSConn) error {
	b.mu.Lock()
	if b.term == nil {
		b.mu.Unlock()
		return ErrNoActiveTerminal
	}
	term := b.term
	sess := b.sess
	prior := b.localViewer
	b.mu.Unlock()

	if prior != nil {
		prior.writer.Close(websocket.CloseNormalClosure, "Session taken over")
	}

	b.withRemote(func(rc *remote.Connection) {
		rc.SendControlAsync(controlproto.BuildDisconnectBrowser("Session taken over by local viewer"))
	})

	writer := &wsWriter{conn: conn}

	// Send the replay snapshot before subscribing (spec order): a
	// subscribe-then-snapshot sequence would double-deliver whatever
	// output lands in the gap between the two.
	if err := writer.WriteBinary(term.ReplaySnapshot()); err != nil {
		return err
	}

	token := term.Subscribe(distributor.ConsumerFunc(func(p []byte) {
		if err := writer.WriteBinary(p); err != nil {
			b.logger.Warn("local viewer write failed", "session_id", sess.ID, "error", err)
		}
	}))

	b.mu.Lock()
	b.localViewer = &localViewer{writer: writer, token: token}
	b.mu.Unlock()

	conn.SetReadLimit(controlproto.MaxMessageBytes)
	err := b.runLocalReadLoop(term, sess, conn)
	b.detachLocalViewer(term, token)
	return err
}

func (b *Broker) runLocalReadLoop(term *terminal.Terminal, sess *session.Session, conn WSConn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch msgType {
		case websocket.TextMessage:
			frame := controlproto.Parse(string(data))
			if frame.Kind == controlproto.KindResize {
				if err := b.resize.ApplyResize(term, sess, frame.Cols, frame.Rows, session.SourceLocalWebUi); err != nil {
					b.logger.Error("applying local resize failed", "session_id", sess.ID, "error", err)
				}
				continue
			}
			if err := b.router.RouteInput(sess, term, data, session.SourceLocalWebUi); err != nil {
				b.logger.Error("routing local input failed", "session_id", sess.ID, "error", err)
			}
		case websocket.BinaryMessage:
			if err := b.router.RouteInput(sess, term, data, session.SourceLocalWebUi); err != nil {
				b.logger.Error("routing local input failed", "session_id", sess.ID, "error", err)
			}
		}
	}
}

func (b *Broker) detachLocalViewer(term *terminal.Terminal, token distributor.Token) {
	term.Unsubscribe(token)
	b.mu.Lock()
	if b.localViewer != nil && b.localViewer.token == token {
		b.localViewer = nil
	}
	b.mu.Unlock()
}

func (b *Broker) disconnectLocalViewer(reason string) {
	b.mu.Lock()
	viewer := b.localViewer
	b.mu.Unlock()
	if viewer != nil {
		viewer.writer.Close(websocket.CloseNormalClosure, reason)
	}
}

// wsWriter serializes writes to a WSConn: a Distributor dispatch and an
// eviction-triggered Close can race from different goroutines, and a
// WebSocket connection permits only one writer at a time.
type wsWriter struct {
	mu   sync.Mutex
	conn WSConn
}

func (w *wsWriter) WriteBinary(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *wsWriter) Close(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = w.conn.Close()
}
