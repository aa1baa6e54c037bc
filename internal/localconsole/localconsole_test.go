package localconsole

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/viberails/termbroker/internal/distributor"
	"github.com/viberails/termbroker/internal/session"
)

type fakeTerminal struct {
	snapshot []byte
	dist     *distributor.Distributor
	exited   chan struct{}
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{
		dist:   distributor.New(nil),
		exited: make(chan struct{}),
	}
}

func (f *fakeTerminal) Subscribe(c distributor.Consumer) distributor.Token { return f.dist.Subscribe(c) }
func (f *fakeTerminal) Unsubscribe(tok distributor.Token)                 { f.dist.Unsubscribe(tok) }
func (f *fakeTerminal) ReplaySnapshot() []byte                            { return f.snapshot }
func (f *fakeTerminal) Exited() <-chan struct{}                          { return f.exited }

type fakeRouter struct {
	mu  sync.Mutex
	got []byte
	err error
}

func (r *fakeRouter) RouteLocalInput(tm Terminal, sess *session.Session, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p...)
	return r.err
}

func TestRunWritesReplaySnapshotThenLiveOutput(t *testing.T) {
	tm := newFakeTerminal()
	tm.snapshot = []byte("replayed")

	var out bytes.Buffer
	pr, pw := io.Pipe()
	defer pw.Close()
	c := &Console{stdin: pr, stdout: &out}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, &fakeRouter{}, nil, tm, &session.Session{ID: "s1"}) }()

	time.Sleep(20 * time.Millisecond)
	tm.dist.Publish([]byte("-live"))
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if got := out.String(); got != "replayed-live" {
		t.Errorf("stdout = %q, want %q", got, "replayed-live")
	}
}

func TestRunRoutesStdinBytesToRouter(t *testing.T) {
	tm := newFakeTerminal()
	router := &fakeRouter{}

	pr, pw := io.Pipe()
	c := &Console{stdin: pr, stdout: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, router, nil, tm, &session.Session{ID: "s1"}) }()

	pw.Write([]byte("echo hi\r"))
	time.Sleep(30 * time.Millisecond)
	pw.Close()

	<-done

	router.mu.Lock()
	defer router.mu.Unlock()
	if string(router.got) != "echo hi\r" {
		t.Errorf("routed input = %q, want %q", router.got, "echo hi\r")
	}
}

func TestRunReturnsOnTerminalExit(t *testing.T) {
	tm := newFakeTerminal()
	pr, pw := io.Pipe()
	defer pw.Close()
	c := &Console{stdin: pr, stdout: io.Discard}

	close(tm.exited)

	err := c.Run(context.Background(), &fakeRouter{}, nil, tm, &session.Session{ID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on terminal exit", err)
	}
}

func TestRenderStatusSkipsDuplicateLines(t *testing.T) {
	var out bytes.Buffer
	c := &Console{stdout: &out}

	info := StatusInfo{SessionID: "s1", CLI: session.CLIKind("claude"), LocalViewers: 1}
	c.RenderStatus(info)
	firstLen := out.Len()
	c.RenderStatus(info)

	if out.Len() != firstLen {
		t.Errorf("RenderStatus wrote again for an unchanged status line")
	}

	info.LocalViewers = 2
	c.RenderStatus(info)
	if out.Len() == firstLen {
		t.Errorf("RenderStatus did not write for a changed status line")
	}
}
