// Package distributor fans PTY output out to an arbitrary number of
// consumers, in the order the PTY produced it.
//
// Grounded on relay.BrowserState's mutex-guarded single-sender pattern
// (deprecated/go-hub/internal/relay/state.go), generalized from "one
// connected browser" to "N subscribed consumers, snapshot-under-lock,
// dispatch outside the lock".
package distributor

import (
	"log/slog"
	"sync"
)

// Consumer receives PTY output bytes. Implementations must be
// non-blocking and must not panic; OnOutput is called synchronously from
// the Terminal's single read loop, so a slow or blocking consumer stalls
// every other viewer.
type Consumer interface {
	OnOutput(p []byte)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(p []byte)

func (f ConsumerFunc) OnOutput(p []byte) { f(p) }

// Token identifies a subscription for later Unsubscribe.
type Token uint64

// Distributor is a thread-safe publish/subscribe fan-out of output bytes.
type Distributor struct {
	logger *slog.Logger

	mu        sync.Mutex
	consumers map[Token]Consumer
	nextToken Token
}

// New creates an empty Distributor.
func New(logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		logger:    logger,
		consumers: make(map[Token]Consumer),
	}
}

// Subscribe registers a consumer and returns a token for Unsubscribe.
func (d *Distributor) Subscribe(c Consumer) Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextToken++
	tok := d.nextToken
	d.consumers[tok] = c
	return tok
}

// Unsubscribe removes a previously subscribed consumer. Unsubscribing an
// unknown or already-removed token is a no-op.
func (d *Distributor) Unsubscribe(tok Token) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.consumers, tok)
}

// Publish delivers p to every currently subscribed consumer. The
// consumer set is snapshotted under the lock and iterated outside it, so
// a consumer may subscribe/unsubscribe from within its own OnOutput
// without deadlocking. A panicking consumer is caught, logged, and does
// not affect its peers or abort the calling read loop.
func (d *Distributor) Publish(p []byte) {
	d.mu.Lock()
	snapshot := make([]Consumer, 0, len(d.consumers))
	for _, c := range d.consumers {
		snapshot = append(snapshot, c)
	}
	d.mu.Unlock()

	for _, c := range snapshot {
		d.dispatch(c, p)
	}
}

func (d *Distributor) dispatch(c Consumer, p []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("output consumer panicked", "recover", r)
		}
	}()
	c.OnOutput(p)
}

// Count reports the number of currently subscribed consumers.
func (d *Distributor) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.consumers)
}
