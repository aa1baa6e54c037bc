// Package ioaccum debounces individual keystrokes into logical "user
// input" events before they reach a SessionStore, so a burst of
// single-character writes from a terminal doesn't produce a record per
// keystroke.
//
// Grounded on deprecated/go-hub/internal/relay/events.go's debounced
// flush timer pattern (used there for prompt-submission detection),
// adapted to a per-session byte accumulator with a quiescence timer.
package ioaccum

import (
	"log/slog"
	"sync"
	"time"

	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/sessionstore"
)

// QuiescenceWindow is the idle period after the last byte that triggers
// an automatic flush (spec.md §4.6).
const QuiescenceWindow = 400 * time.Millisecond

// Accumulator concatenates keystrokes for one session and flushes a
// single RecordUserInput call to the SessionStore on a submit byte, on
// quiescence, or when explicitly told the session has completed.
type Accumulator struct {
	logger *slog.Logger
	store  sessionstore.Store

	mu      sync.Mutex
	pending map[string]*pendingInput
}

type pendingInput struct {
	buf    []byte
	source session.Source
	timer  *time.Timer
}

// New creates an Accumulator writing flushed events to store.
func New(store sessionstore.Store, logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		logger:  logger,
		store:   store,
		pending: make(map[string]*pendingInput),
	}
}

// Feed appends p to sessionID's pending input. A submit byte (\r or \n)
// anywhere in p triggers an immediate flush of everything accumulated so
// far, including p; otherwise a 400ms quiescence timer is (re)armed.
func (a *Accumulator) Feed(sessionID string, p []byte, source session.Source) {
	if len(p) == 0 {
		return
	}

	a.mu.Lock()
	pi, ok := a.pending[sessionID]
	if !ok {
		pi = &pendingInput{source: source}
		a.pending[sessionID] = pi
	}
	pi.buf = append(pi.buf, p...)
	pi.source = source
	submit := containsSubmitByte(p)
	if submit {
		a.stopTimerLocked(pi)
	} else {
		a.armTimerLocked(sessionID, pi)
	}
	a.mu.Unlock()

	if submit {
		a.flush(sessionID)
	}
}

// FlushSession immediately flushes and clears any pending input for
// sessionID. Called when a session completes (spec.md §4.6: "Flushing
// must also occur on session completion").
func (a *Accumulator) FlushSession(sessionID string) {
	a.flush(sessionID)
}

func (a *Accumulator) armTimerLocked(sessionID string, pi *pendingInput) {
	a.stopTimerLocked(pi)
	pi.timer = time.AfterFunc(QuiescenceWindow, func() {
		a.flush(sessionID)
	})
}

func (a *Accumulator) stopTimerLocked(pi *pendingInput) {
	if pi.timer != nil {
		pi.timer.Stop()
		pi.timer = nil
	}
}

func (a *Accumulator) flush(sessionID string) {
	a.mu.Lock()
	pi, ok := a.pending[sessionID]
	if !ok || len(pi.buf) == 0 {
		if ok {
			a.stopTimerLocked(pi)
			delete(a.pending, sessionID)
		}
		a.mu.Unlock()
		return
	}
	a.stopTimerLocked(pi)
	text := string(pi.buf)
	source := pi.source
	delete(a.pending, sessionID)
	a.mu.Unlock()

	if err := a.store.RecordUserInput(sessionID, text, source); err != nil {
		a.logger.Error("recording user input failed", "session_id", sessionID, "error", err)
	}
}

func containsSubmitByte(p []byte) bool {
	for _, b := range p {
		if b == '\r' || b == '\n' {
			return true
		}
	}
	return false
}
