// Package terminal binds a PTY handle, an output distributor, and a
// replay buffer into the single owner of one PTY child process's
// lifetime: exactly one read loop runs per Terminal, and it ends iff the
// PTY stream returns EOF/error or the Terminal is disposed.
//
// Grounded on deprecated/go-hub/internal/pty/session.go's readerLoop,
// generalized so output additionally fans out through an
// internal/distributor.Distributor instead of only buffering lines.
package terminal

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/viberails/termbroker/internal/distributor"
	"github.com/viberails/termbroker/internal/ptyhandle"
	"github.com/viberails/termbroker/internal/replay"
)

// ErrClosed is returned by Write/WriteBytes/Resize/SendCommand once the
// Terminal's read loop has ended.
var ErrClosed = errors.New("terminal: closed")

const readChunkSize = 4096

// Config configures a new Terminal.
type Config struct {
	Pty           ptyhandle.Config
	ReplayCapacity int
	Logger        *slog.Logger
}

// Terminal owns exactly one PtyHandle for its entire lifetime.
type Terminal struct {
	logger     *slog.Logger
	pty        *ptyhandle.Handle
	dist       *distributor.Distributor
	replay     *replay.Buffer

	exitedOnce sync.Once
	exitedCh   chan struct{}
	exitCode   int

	mu     sync.Mutex
	closed bool

	onExited func(exitCode int)
}

// New spawns the PTY and constructs the distributor and replay buffer.
// StartReadLoop must be called exactly once after initial subscribers are
// registered (spec.md §4.5).
func New(cfg Config) (*Terminal, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h, err := ptyhandle.Spawn(cfg.Pty)
	if err != nil {
		return nil, err
	}

	return &Terminal{
		logger:   logger,
		pty:      h,
		dist:     distributor.New(logger),
		replay:   replay.New(cfg.ReplayCapacity),
		exitedCh: make(chan struct{}),
	}, nil
}

// Subscribe registers a consumer of PTY output.
func (t *Terminal) Subscribe(c distributor.Consumer) distributor.Token {
	return t.dist.Subscribe(c)
}

// Unsubscribe removes a previously subscribed consumer.
func (t *Terminal) Unsubscribe(tok distributor.Token) {
	t.dist.Unsubscribe(tok)
}

// ReplaySnapshot returns the current replay buffer contents.
func (t *Terminal) ReplaySnapshot() []byte {
	return t.replay.Snapshot()
}

// OnExited registers a one-shot callback invoked when the read loop ends.
// It must be set before StartReadLoop is called.
func (t *Terminal) OnExited(fn func(exitCode int)) {
	t.onExited = fn
}

// StartReadLoop begins the single read loop for this Terminal's PTY. It
// must be called exactly once.
func (t *Terminal) StartReadLoop() {
	go t.readLoop()
}

func (t *Terminal) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.replay.Append(chunk)
			t.dist.Publish(chunk)
		}
		if err != nil {
			t.finish()
			return
		}
		if n == 0 && err == nil {
			continue
		}
	}
}

func (t *Terminal) finish() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.exitCode = t.pty.ExitCode()
	t.exitedOnce.Do(func() { close(t.exitedCh) })
	if t.onExited != nil {
		t.onExited(t.exitCode)
	}
}

// Exited returns a channel closed once the read loop has ended.
func (t *Terminal) Exited() <-chan struct{} {
	return t.exitedCh
}

// ExitCode is valid only after Exited() is closed.
func (t *Terminal) ExitCode() int {
	return t.exitCode
}

// Write encodes text as UTF-8 and writes it to the PTY.
func (t *Terminal) Write(text string) error {
	return t.WriteBytes([]byte(text))
}

// WriteBytes writes raw bytes to the PTY, byte-exact.
func (t *Terminal) WriteBytes(p []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	_, err := t.pty.Write(p)
	return err
}

// SendCommand writes cmd followed by a carriage return.
func (t *Terminal) SendCommand(cmd string) error {
	return t.WriteBytes(append([]byte(cmd), '\r'))
}

// Resize changes the PTY's dimensions.
func (t *Terminal) Resize(cols, rows int) error {
	if t.isClosed() {
		return ErrClosed
	}
	return t.pty.Resize(cols, rows)
}

func (t *Terminal) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Dispose closes the PtyHandle, awaits the read loop (by waiting on
// Exited), and empties the replay buffer. Subscribers are not removed;
// they stay registered but receive nothing more once the read loop has
// ended. Safe to call even if the read loop already ended on its own.
func (t *Terminal) Dispose() {
	t.pty.Kill()
	<-t.exitedCh
	t.replay.Clear()
}

var _ io.Writer = writerAdapter{}

type writerAdapter struct{ t *Terminal }

func (w writerAdapter) Write(p []byte) (int, error) {
	if err := w.t.WriteBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Writer returns an io.Writer view of the Terminal's input side.
func (t *Terminal) Writer() io.Writer { return writerAdapter{t} }
