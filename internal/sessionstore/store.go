// Package sessionstore declares the SessionStore interface the core
// broker calls into (spec.md §3: "opaque sink... the core does not
// define its schema") and provides one concrete, optional default
// implementation backed by SQLite.
package sessionstore

import (
	"time"

	"github.com/viberails/termbroker/internal/session"
)

// Store is the interface the broker's components (IoRouter,
// InputAccumulator, ResizeCoordinator, SessionBroker) call into. The core
// never inspects how a Store persists data - any implementation
// satisfying this interface may be wired in.
type Store interface {
	CreateSession(s *session.Session) error
	RecordInitialInput(sessionID, text string) error
	// LogOutput is a policy knob (spec.md §9 Open Question a): disabled
	// by default. Implementations may no-op.
	LogOutput(sessionID string, p []byte) error
	RecordUserInput(sessionID string, text string, source session.Source) error
	RecordResize(sessionID string, cols, rows int, source session.Source) error
	RecordRemoteCommand(sessionID, name, payload string) error
	CompleteSession(sessionID string, exitCode int) error
}

// NopStore discards everything. Useful for tests and for callers that
// don't want persistence.
type NopStore struct{}

func (NopStore) CreateSession(*session.Session) error                              { return nil }
func (NopStore) RecordInitialInput(string, string) error                           { return nil }
func (NopStore) LogOutput(string, []byte) error                                    { return nil }
func (NopStore) RecordUserInput(string, string, session.Source) error              { return nil }
func (NopStore) RecordResize(string, int, int, session.Source) error               { return nil }
func (NopStore) RecordRemoteCommand(string, string, string) error                  { return nil }
func (NopStore) CompleteSession(string, int) error                                 { return nil }

// InputEvent is one recorded call to RecordUserInput, kept by MemoryStore
// for test assertions.
type InputEvent struct {
	SessionID string
	Text      string
	Source    session.Source
	At        time.Time
}

// MemoryStore is an in-memory Store, useful in tests that need to assert
// what was recorded without a database.
type MemoryStore struct {
	Sessions  map[string]*session.Session
	Inputs    []InputEvent
	Completed map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Sessions:  make(map[string]*session.Session),
		Completed: make(map[string]int),
	}
}

func (m *MemoryStore) CreateSession(s *session.Session) error {
	m.Sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) RecordInitialInput(sessionID, text string) error {
	m.Inputs = append(m.Inputs, InputEvent{SessionID: sessionID, Text: text, Source: session.SourceUnknown, At: time.Now()})
	return nil
}

func (m *MemoryStore) LogOutput(string, []byte) error { return nil }

func (m *MemoryStore) RecordUserInput(sessionID, text string, source session.Source) error {
	m.Inputs = append(m.Inputs, InputEvent{SessionID: sessionID, Text: text, Source: source, At: time.Now()})
	return nil
}

func (m *MemoryStore) RecordResize(string, int, int, session.Source) error { return nil }

func (m *MemoryStore) RecordRemoteCommand(string, string, string) error { return nil }

func (m *MemoryStore) CompleteSession(sessionID string, exitCode int) error {
	m.Completed[sessionID] = exitCode
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = NopStore{}
