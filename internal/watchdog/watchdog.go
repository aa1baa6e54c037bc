// Package watchdog implements the idle-shutdown policy: the process
// stops itself after a configurable idle window with no registered
// clients, unless running in foreground CLI mode.
//
// Grounded on deprecated/go-hub/internal/tunnel/tunnel.go's
// Manager.messageLoop periodic-ticker shape, repurposed from connection
// retry scheduling to idle measurement.
package watchdog

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults from spec.md §4.11.
const (
	DefaultTickInterval = 5 * time.Second
	DefaultIdleWindow   = 2 * time.Minute
)

// Watchdog tracks persistent and pulse owners and calls the configured
// Stop callback once none remain active for IdleWindow.
type Watchdog struct {
	logger       *slog.Logger
	tickInterval time.Duration
	idleWindow   time.Duration
	stop         func()
	disabled     bool

	mu              sync.Mutex
	persistent      map[string]struct{}
	pulses          map[string]time.Time
	lastActiveAt    time.Time
	stopSignaled    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config configures a new Watchdog.
type Config struct {
	TickInterval time.Duration
	IdleWindow   time.Duration
	// Disabled, when true, makes Run a no-op (spec.md §4.11: "disabled
	// entirely when the process runs in a foreground CLI mode").
	Disabled bool
	// Stop is invoked at most once, from the ticker goroutine, when the
	// idle window has elapsed with no active owners.
	Stop   func()
	Logger *slog.Logger
}

// New creates a Watchdog with no owners. now is the initial reference
// time idle duration is measured from.
func New(cfg Config, now time.Time) *Watchdog {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	idle := cfg.IdleWindow
	if idle <= 0 {
		idle = DefaultIdleWindow
	}
	return &Watchdog{
		logger:       logger,
		tickInterval: tick,
		idleWindow:   idle,
		stop:         cfg.Stop,
		disabled:     cfg.Disabled,
		persistent:   make(map[string]struct{}),
		pulses:       make(map[string]time.Time),
		lastActiveAt: now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Acquire registers a persistent owner by id. Idempotent.
func (w *Watchdog) Acquire(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.persistent[id] = struct{}{}
}

// Release removes a persistent owner by id. Idempotent.
func (w *Watchdog) Release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.persistent, id)
}

// Pulse registers or refreshes a pulse owner with the given TTL (typical
// 30s), keeping the process alive while e.g. a heartbeat keeps arriving.
func (w *Watchdog) Pulse(id string, ttl time.Duration, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pulses[id] = now.Add(ttl)
}

// HasActiveOwners reports whether any persistent owner exists, or any
// pulse owner has not yet expired as of now.
func (w *Watchdog) HasActiveOwners(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasActiveOwnersLocked(now)
}

func (w *Watchdog) hasActiveOwnersLocked(now time.Time) bool {
	if len(w.persistent) > 0 {
		return true
	}
	for _, expiry := range w.pulses {
		if expiry.After(now) {
			return true
		}
	}
	return false
}

// tick re-evaluates owner state at now, pruning expired pulses and
// advancing lastActiveAt whenever any owner is active. It reports
// whether the idle window has elapsed with no active owners.
func (w *Watchdog) tick(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, expiry := range w.pulses {
		if !expiry.After(now) {
			delete(w.pulses, id)
		}
	}

	if w.hasActiveOwnersLocked(now) {
		w.lastActiveAt = now
		return false
	}
	return now.Sub(w.lastActiveAt) >= w.idleWindow
}

// Run starts the periodic idle check in a background goroutine. It is a
// no-op if the watchdog was configured as disabled. Stop ends the
// goroutine without invoking the configured Stop callback.
func (w *Watchdog) Run() {
	if w.disabled {
		close(w.doneCh)
		return
	}
	go w.loop()
}

func (w *Watchdog) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			if w.tick(now) {
				w.mu.Lock()
				already := w.stopSignaled
				w.stopSignaled = true
				w.mu.Unlock()
				if !already {
					w.logger.Info("idle window elapsed with no active owners, stopping")
					if w.stop != nil {
						w.stop()
					}
				}
				return
			}
		}
	}
}

// Stop ends the watchdog's background goroutine without invoking the
// configured Stop callback, and waits for it to exit.
func (w *Watchdog) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}
