package sessionstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/viberails/termbroker/internal/session"
)

// DBFileName is the default database file name under the caller's config
// directory.
const DBFileName = "sessions.db"

// SQLiteStore is the default, optional SessionStore implementation,
// grounded on elleryfamilia-thicc/internal/llmhistory/store.go's
// database/sql + modernc.org/sqlite + WAL-mode idiom. Nothing in the core
// broker requires this particular implementation - it is a convenience
// for callers that want durable session history without standing up
// their own store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed store
// under configDir.
func OpenSQLiteStore(configDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}

	dbPath := filepath.Join(configDir, DBFileName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		cli TEXT NOT NULL,
		working_dir TEXT NOT NULL,
		env_profile TEXT,
		owner TEXT NOT NULL,
		remote_enabled INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		exit_code INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);

	CREATE TABLE IF NOT EXISTS session_inputs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		source TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_session_inputs_session ON session_inputs(session_id);

	CREATE TABLE IF NOT EXISTS session_resizes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		cols INTEGER NOT NULL,
		rows INTEGER NOT NULL,
		source TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS session_remote_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		payload TEXT,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS session_output (
		session_id TEXT PRIMARY KEY,
		output BLOB NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateSession(sess *session.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, cli, working_dir, env_profile, owner, remote_enabled, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.CLI), sess.WorkingDir, sess.EnvProfile, string(sess.Owner),
		boolToInt(sess.RemoteEnabled), sess.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordInitialInput(sessionID, text string) error {
	return s.RecordUserInput(sessionID, text, session.SourceUnknown)
}

func (s *SQLiteStore) LogOutput(sessionID string, p []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO session_output (session_id, output) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET output = session_output.output || excluded.output`,
		sessionID, p,
	)
	if err != nil {
		return fmt.Errorf("logging output: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordUserInput(sessionID, text string, source session.Source) error {
	_, err := s.db.Exec(`
		INSERT INTO session_inputs (session_id, text, source, recorded_at) VALUES (?, ?, ?, ?)`,
		sessionID, text, string(source), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording user input: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordResize(sessionID string, cols, rows int, source session.Source) error {
	_, err := s.db.Exec(`
		INSERT INTO session_resizes (session_id, cols, rows, source, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, cols, rows, string(source), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording resize: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordRemoteCommand(sessionID, name, payload string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_remote_commands (session_id, name, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		sessionID, name, payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording remote command: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteSession(sessionID string, exitCode int) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE sessions SET ended_at = ?, exit_code = ? WHERE id = ?`,
		now, exitCode, sessionID,
	)
	if err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
