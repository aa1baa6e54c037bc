// Package ptyhandle owns a platform-native pseudo-terminal child process:
// spawn, read, write, resize, kill, and exit-code reporting.
//
// Grounded on deprecated/go-hub/internal/pty/session.go's Spawn/readerLoop
// and go-hub/internal/agent/agent.go's Spawn/Resize, adapted so the caller
// supplies the complete environment (the spec requires the parent's env
// NOT be inherited) and so Read surfaces io.EOF/errors instead of hiding
// them behind an internal queue.
package ptyhandle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/creack/pty"
)

// ErrClosed is returned by Write/Resize once Kill has been called.
var ErrClosed = errors.New("ptyhandle: closed")

// Kind distinguishes the two abstract error kinds a caller needs to
// branch on (spec.md §7): failure to even start the child, versus any
// later I/O failure.
type Kind int

const (
	KindSpawn Kind = iota
	KindIO
)

// Error wraps an underlying error with its abstract kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Config configures a new PTY-hosted child process.
type Config struct {
	// Env is the complete environment for the child; the parent
	// process's environment is NOT inherited automatically.
	Env map[string]string
	Dir string
	// Cols/Rows are the initial terminal dimensions.
	Cols, Rows int
	// Title, if non-empty, is written as an OSC 0 title sequence before
	// Spawn returns.
	Title string
}

// defaultEnv returns the environment variables spec.md §6 says are set
// for the PTY, so a caller's Env map need only add to or override them.
func defaultEnv() map[string]string {
	return map[string]string{
		"LANG":             "en_US.UTF-8",
		"LC_ALL":           "en_US.UTF-8",
		"PYTHONIOENCODING": "utf-8",
	}
}

// Handle owns one PTY-hosted child process for its entire lifetime.
type Handle struct {
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool

	waitOnce sync.Once
	exitMu   sync.Mutex
	exitCode int
	exited   bool
}

// Spawn starts a shell (pwsh on Windows, bash elsewhere) inside a new
// PTY with the given configuration.
func Spawn(cfg Config) (*Handle, error) {
	shell, shellArgs := shellCommand()

	cmd := exec.Command(shell, shellArgs...)
	cmd.Dir = cfg.Dir

	env := defaultEnv()
	for k, v := range cfg.Env {
		env[k] = v
	}
	cmd.Env = make([]string, 0, len(env))
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, &Error{Kind: KindSpawn, Err: fmt.Errorf("spawning pty: %w", err)}
	}

	h := &Handle{file: f, cmd: cmd}

	if cfg.Title != "" {
		if _, werr := h.file.Write([]byte("\x1b]0;" + cfg.Title + "\a")); werr != nil {
			// Non-fatal: the shell is already running.
			_ = werr
		}
	}

	return h, nil
}

func shellCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "pwsh", nil
	}
	return "bash", nil
}

// Read reads PTY output into p. Returns the underlying file's error
// (io.EOF, or EIO on Linux) once the child has exited and all output has
// been drained.
func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.file.Read(p)
	if err != nil {
		h.recordExit()
	}
	return n, err
}

// Write sends raw bytes to the PTY's input side.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	n, err := h.file.Write(p)
	if err != nil {
		return n, &Error{Kind: KindIO, Err: err}
	}
	return n, nil
}

// Resize changes the PTY's terminal dimensions.
func (h *Handle) Resize(cols, rows int) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := pty.Setsize(h.file, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	return nil
}

// Kill terminates the child process and closes the PTY file. It does not
// wait for the read loop; callers awaiting loop termination should rely
// on Read returning an error once the file is closed.
func (h *Handle) Kill() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	var firstErr error
	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil {
			firstErr = err
		}
	}
	h.waitAndRecordExit()
	if err := h.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (h *Handle) recordExit() {
	h.waitAndRecordExit()
}

// waitAndRecordExit reaps the child exactly once, however many callers
// (the read loop's error path, Kill) race to trigger it.
func (h *Handle) waitAndRecordExit() {
	h.waitOnce.Do(func() {
		if h.cmd != nil {
			_ = h.cmd.Wait()
		}
		h.exitMu.Lock()
		h.exited = true
		if h.cmd != nil && h.cmd.ProcessState != nil {
			h.exitCode = h.cmd.ProcessState.ExitCode()
		}
		h.exitMu.Unlock()
	})
}

// ExitCode is only valid after the PTY stream has returned io.EOF or an
// error (i.e. after a Read has failed, or after Kill).
func (h *Handle) ExitCode() int {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	return h.exitCode
}

var _ io.ReadWriter = (*Handle)(nil)
