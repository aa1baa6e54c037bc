// Package session defines the data model shared by the terminal broker:
// the Session record, its enumerated attributes, and the input source
// tags used by the IoRouter and InputAccumulator.
package session

import (
	"time"

	"github.com/google/uuid"
)

// CLIKind identifies which coding-agent CLI a session runs.
type CLIKind string

const (
	CLIClaude CLIKind = "claude"
	CLICodex  CLIKind = "codex"
	CLIGemini CLIKind = "gemini"
	CLICopilot CLIKind = "copilot"
)

// OwnerKind distinguishes a session started by the local CLI from one
// started on the caller's behalf by an external collaborator (e.g. a
// supervising TabHost).
type OwnerKind string

const (
	OwnerLocal    OwnerKind = "local"
	OwnerExternal OwnerKind = "external"
)

// Source tags the origin of an input byte sequence as it passes through
// the IoRouter, so SessionStore.RecordUserInput and RecordResize can
// attribute it correctly.
type Source string

const (
	SourceUnknown      Source = "unknown"
	SourceLocalCli     Source = "local_cli"
	SourceLocalWebUi   Source = "local_web_ui"
	SourceRemoteWebUi  Source = "remote_web_ui"
	SourcePty          Source = "pty"
)

// Session is the opaque record the core hands to a SessionStore. The
// broker never inspects a SessionStore's schema - these are just the
// fields it knows how to populate.
type Session struct {
	ID          string
	CLI         CLIKind
	WorkingDir  string
	EnvProfile  string
	StartedAt   time.Time
	EndedAt     *time.Time
	ExitCode    *int
	Owner       OwnerKind
	RemoteEnabled bool
}

// New creates a Session with a fresh UUID-derived ID, satisfying the
// ">= 12 printable chars, unique" invariant in spec.md §3.
func New(cli CLIKind, workingDir, envProfile string, owner OwnerKind, remoteEnabled bool) *Session {
	return &Session{
		ID:            uuid.NewString(),
		CLI:           cli,
		WorkingDir:    workingDir,
		EnvProfile:    envProfile,
		StartedAt:     time.Now().UTC(),
		Owner:         owner,
		RemoteEnabled: remoteEnabled,
	}
}

// Complete marks the session ended with the given exit code.
func (s *Session) Complete(exitCode int) {
	now := time.Now().UTC()
	s.EndedAt = &now
	s.ExitCode = &exitCode
}
