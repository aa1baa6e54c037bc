package iorouter

import (
	"errors"
	"testing"

	"github.com/viberails/termbroker/internal/ioaccum"
	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/sessionstore"
)

type fakeWriter struct {
	written []byte
	err     error
}

func (f *fakeWriter) WriteBytes(p []byte) error {
	f.written = append(f.written, p...)
	return f.err
}

func TestRouteInputWritesAndAccumulates(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	acc := ioaccum.New(store, nil)
	router := New(store, acc)
	sess := session.New(session.CLIClaude, "/tmp", "", session.OwnerLocal, false)
	writer := &fakeWriter{}

	if err := router.RouteInput(sess, writer, []byte("ls\r"), session.SourceLocalCli); err != nil {
		t.Fatalf("RouteInput() error = %v", err)
	}

	if string(writer.written) != "ls\r" {
		t.Errorf("written = %q, want %q", writer.written, "ls\r")
	}
	if len(store.Inputs) != 1 || store.Inputs[0].Text != "ls\r" {
		t.Fatalf("unexpected recorded inputs: %+v", store.Inputs)
	}
}

func TestRouteInputPropagatesWriteError(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	acc := ioaccum.New(store, nil)
	router := New(store, acc)
	sess := session.New(session.CLICodex, "/tmp", "", session.OwnerLocal, false)
	writer := &fakeWriter{err: errors.New("boom")}

	if err := router.RouteInput(sess, writer, []byte("x"), session.SourcePty); err == nil {
		t.Fatal("RouteInput() error = nil, want non-nil")
	}
}

func TestRouteOutputCallsLogOutput(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	acc := ioaccum.New(store, nil)
	router := New(store, acc)
	sess := session.New(session.CLIGemini, "/tmp", "", session.OwnerLocal, false)

	if err := router.RouteOutput(sess, []byte("output")); err != nil {
		t.Fatalf("RouteOutput() error = %v", err)
	}
}
