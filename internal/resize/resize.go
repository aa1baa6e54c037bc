// Package resize applies terminal resize requests and, when the
// debounced-redraw policy is enabled, schedules a single Ctrl+L redraw
// byte after the caller stops resizing.
//
// Grounded on deprecated/go-hub/internal/relay/events.go's debounce
// timer (the same primitive ioaccum borrows), applied here per-session
// instead of per-keystroke and disabled by default per spec.md §4.8.
package resize

import (
	"log/slog"
	"sync"
	"time"

	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/sessionstore"
)

// RedrawDebounce is the window within which repeated resizes cancel and
// replace the pending Ctrl+L redraw.
const RedrawDebounce = 160 * time.Millisecond

// ctrlL is the redraw byte sent to the PTY after a debounced resize
// settles.
const ctrlL = 0x0c

// Terminal is the subset of *terminal.Terminal the coordinator needs.
type Terminal interface {
	Resize(cols, rows int) error
	WriteBytes(p []byte) error
}

// Coordinator applies resize requests and optionally debounces a
// trailing redraw. The redraw policy is disabled by default; enable it
// with EnableDebouncedRedraw.
type Coordinator struct {
	logger  *slog.Logger
	store   sessionstore.Store
	redraw  bool

	mu      sync.Mutex
	timers  map[string]*time.Timer
}

// New creates a Coordinator with the debounced redraw policy disabled.
func New(store sessionstore.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger: logger,
		store:  store,
		timers: make(map[string]*time.Timer),
	}
}

// EnableDebouncedRedraw turns on the 160ms debounced Ctrl+L redraw.
func (c *Coordinator) EnableDebouncedRedraw(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redraw = enabled
}

// ApplyResize resizes term, records the resize, and - iff the redraw
// policy is enabled - (re)schedules a debounced Ctrl+L write.
func (c *Coordinator) ApplyResize(term Terminal, sess *session.Session, cols, rows int, source session.Source) error {
	if err := term.Resize(cols, rows); err != nil {
		return err
	}
	if err := c.store.RecordResize(sess.ID, cols, rows, source); err != nil {
		c.logger.Error("recording resize failed", "session_id", sess.ID, "error", err)
	}

	c.mu.Lock()
	enabled := c.redraw
	if enabled {
		if t, ok := c.timers[sess.ID]; ok {
			t.Stop()
		}
		c.timers[sess.ID] = time.AfterFunc(RedrawDebounce, func() {
			if err := term.WriteBytes([]byte{ctrlL}); err != nil {
				c.logger.Error("debounced redraw write failed", "session_id", sess.ID, "error", err)
			}
		})
	}
	c.mu.Unlock()

	return nil
}

// CancelPending stops any pending debounced redraw for sessionID,
// without writing it. Called when a session ends.
func (c *Coordinator) CancelPending(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[sessionID]; ok {
		t.Stop()
		delete(c.timers, sessionID)
	}
}
