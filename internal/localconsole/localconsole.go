// Package localconsole is the in-process stdin/stdout Viewer: it puts
// the controlling terminal in raw mode, passes PTY bytes through to
// stdout unmodified, and routes stdin bytes to the active Terminal via
// the broker's IoRouter. RenderStatus prints a thin status line, styled
// with lipgloss, into the output stream when its text differs from the
// last one printed; Run does not call it, so no status line appears
// unless the caller renders one.
//
// The spec's Non-goals rule out a screen grid or cursor model, so this
// package never parses or reinterprets PTY output — it is a raw copy,
// the same role `internal/tui` filled with a full Bubble Tea
// Elm-architecture loop for N agents. A LocalConsole attaches to
// exactly one Terminal and must never intercept keystrokes meant for
// the child shell, so no `tea.Program` runs here; only the status line
// borrows that package's styling library, `lipgloss`, reusing its
// titleStyle/statusStyle idiom.
package localconsole

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/viberails/termbroker/internal/distributor"
	"github.com/viberails/termbroker/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Terminal is the subset of *terminal.Terminal a LocalConsole needs.
type Terminal interface {
	Subscribe(c distributor.Consumer) distributor.Token
	Unsubscribe(tok distributor.Token)
	ReplaySnapshot() []byte
	Exited() <-chan struct{}
}

// InputRouter routes a LocalConsole's raw stdin bytes into the active
// Terminal. Broker.RouteLocalInput satisfies this.
type InputRouter interface {
	RouteLocalInput(term Terminal, sess *session.Session, p []byte) error
}

// ResizeRouter applies a LocalConsole's controlling-terminal resize
// (detected via SIGWINCH) to the active Terminal. Broker.ApplyLocalResize
// satisfies this.
type ResizeRouter interface {
	ApplyLocalResize(term Terminal, sess *session.Session, cols, rows int) error
}

// StatusInfo is the information rendered on the status line.
type StatusInfo struct {
	SessionID    string
	CLI          session.CLIKind
	LocalViewers int
	RemoteViewer bool
}

// Console drives one LocalConsole viewer attached to a Terminal.
type Console struct {
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer

	mu         sync.Mutex
	lastStatus string
}

// New creates a Console using os.Stdin/os.Stdout.
func New(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

// RenderStatus draws the status line. Safe to call repeatedly; it only
// writes when the rendered text actually changed.
func (c *Console) RenderStatus(info StatusInfo) {
	remote := "off"
	if info.RemoteViewer {
		remote = "on"
	}
	title := titleStyle.Render("termbroker")
	status := statusStyle.Render(fmt.Sprintf(" | session %s | cli %s | local viewers %d | remote %s",
		info.SessionID, info.CLI, info.LocalViewers, remote))
	line := title + status

	c.mu.Lock()
	defer c.mu.Unlock()
	if line == c.lastStatus {
		return
	}
	c.lastStatus = line
	fmt.Fprintln(c.stdout, line)
}

// Run puts stdin in raw mode, subscribes to term's output, and copies
// bytes bidirectionally until ctx is cancelled, term exits, or reading
// stdin fails (including io.EOF, which is returned as-is). It restores
// the terminal mode before returning. If resizer is non-nil, SIGWINCH on
// the controlling terminal is forwarded as a resize (grounded on
// ehrlich-b-wingthing's cmd/wt/egg.go SIGWINCH-to-term.GetSize idiom).
func (c *Console) Run(ctx context.Context, router InputRouter, resizer ResizeRouter, tm Terminal, sess *session.Session) error {
	fd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(fd) {
		prior, err := term.MakeRaw(fd)
		if err != nil {
			c.logger.Warn("entering raw mode failed", "error", err)
		} else {
			restore = func() { _ = term.Restore(fd, prior) }
		}
	}
	if restore != nil {
		defer restore()
	}

	if _, err := c.stdout.Write(tm.ReplaySnapshot()); err != nil {
		c.logger.Warn("writing replay snapshot to console failed", "error", err)
	}

	token := tm.Subscribe(distributor.ConsumerFunc(func(p []byte) {
		if _, err := c.stdout.Write(p); err != nil {
			c.logger.Warn("console write failed", "error", err)
		}
	}))
	defer tm.Unsubscribe(token)

	if resizer != nil && term.IsTerminal(fd) {
		stopWinch := c.watchResize(fd, resizer, tm, sess)
		defer stopWinch()
	}

	readErrCh := make(chan error, 1)
	go c.readStdin(router, tm, sess, readErrCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.Exited():
		return nil
	case err := <-readErrCh:
		return err
	}
}

func (c *Console) readStdin(router InputRouter, tm Terminal, sess *session.Session, errCh chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := c.stdin.Read(buf)
		if n > 0 {
			if rerr := router.RouteLocalInput(tm, sess, bytes.Clone(buf[:n])); rerr != nil {
				c.logger.Error("routing local console input failed", "session_id", sess.ID, "error", rerr)
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}
