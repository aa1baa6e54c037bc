package terminal

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/viberails/termbroker/internal/distributor"
	"github.com/viberails/termbroker/internal/ptyhandle"
)

func newEchoTerminal(t *testing.T) *Terminal {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bash-specific test")
	}
	term, err := New(Config{
		Pty: ptyhandle.Config{
			Dir:  "/tmp",
			Cols: 80,
			Rows: 24,
		},
		ReplayCapacity: 1024,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return term
}

func TestSpawnEchoReplay(t *testing.T) {
	term := newEchoTerminal(t)
	term.StartReadLoop()
	defer term.Dispose()

	if err := term.Write("echo hello_terminal\r"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(string(term.ReplaySnapshot()), "hello_terminal") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("replay did not contain expected output: %q", term.ReplaySnapshot())
}

func TestConsumerFidelity(t *testing.T) {
	term := newEchoTerminal(t)

	var collected []byte
	done := make(chan struct{})
	term.Subscribe(distributor.ConsumerFunc(func(p []byte) {
		collected = append(collected, p...)
		if strings.Contains(string(collected), "fidelity_marker") {
			close(done)
		}
	}))
	term.StartReadLoop()
	defer term.Dispose()

	if err := term.Write("echo fidelity_marker\r"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("consumer never saw expected output, got %q", collected)
	}
}

func TestExitedFiresOnEOF(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bash-specific test")
	}
	term, err := New(Config{
		Pty: ptyhandle.Config{
			Dir:  "/tmp",
			Cols: 80,
			Rows: 24,
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	term.StartReadLoop()

	if err := term.Write("exit\r"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case <-term.Exited():
	case <-time.After(3 * time.Second):
		t.Fatal("Exited() channel never closed")
	}

	if err := term.Write("more"); err != ErrClosed {
		t.Errorf("Write() after exit = %v, want ErrClosed", err)
	}
}

func TestWriteBytesIsByteExact(t *testing.T) {
	term := newEchoTerminal(t)
	term.StartReadLoop()
	defer term.Dispose()

	payload := []byte("printf 'byte_exact_\\x41\\x42'\r")
	if err := term.WriteBytes(payload); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(string(term.ReplaySnapshot()), "byte_exact_AB") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("did not observe byte-exact output: %q", term.ReplaySnapshot())
}
