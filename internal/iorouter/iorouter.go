// Package iorouter is the single choke point every input and output
// byte passes through: it tags the source, drives the SessionStore via
// InputAccumulator, and writes to the Terminal.
//
// Grounded on deprecated/go-hub/internal/hub/dispatch.go's central
// event-dispatch shape, narrowed to the two directions spec.md §4.7
// names: routeInput and routeOutput.
package iorouter

import (
	"github.com/viberails/termbroker/internal/ioaccum"
	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/sessionstore"
)

// Writer is the subset of *terminal.Terminal the router writes input
// into. Accepting an interface keeps this package independent of
// internal/terminal and easy to test with a fake.
type Writer interface {
	WriteBytes(p []byte) error
}

// Router is the single entry and exit point for session I/O.
type Router struct {
	store sessionstore.Store
	acc   *ioaccum.Accumulator
}

// New creates a Router backed by store, sharing its InputAccumulator.
func New(store sessionstore.Store, acc *ioaccum.Accumulator) *Router {
	return &Router{store: store, acc: acc}
}

// RouteInput decodes p as UTF-8, feeds it to the InputAccumulator under
// source, and writes the original bytes to term.
func (r *Router) RouteInput(sess *session.Session, term Writer, p []byte, source session.Source) error {
	r.acc.Feed(sess.ID, p, source)
	return term.WriteBytes(p)
}

// RouteOutput is the symmetric path for PTY output, called only by the
// DbLogging consumer (spec.md §4.7: "PTY output is not logged by
// default"). A nil or no-op Store.LogOutput makes this safe to wire
// unconditionally.
func (r *Router) RouteOutput(sess *session.Session, p []byte) error {
	return r.store.LogOutput(sess.ID, p)
}
