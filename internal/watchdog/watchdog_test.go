package watchdog

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHasActiveOwnersPersistent(t *testing.T) {
	w := New(Config{}, time.Now())
	now := time.Now()
	if w.HasActiveOwners(now) {
		t.Fatal("no owners yet should be inactive")
	}
	w.Acquire("a")
	if !w.HasActiveOwners(now) {
		t.Fatal("persistent owner should make HasActiveOwners true")
	}
	w.Release("a")
	if w.HasActiveOwners(now) {
		t.Fatal("released owner should make HasActiveOwners false")
	}
}

func TestHasActiveOwnersPulseExpiry(t *testing.T) {
	w := New(Config{}, time.Now())
	base := time.Now()
	w.Pulse("p1", 30*time.Second, base)

	if !w.HasActiveOwners(base.Add(10 * time.Second)) {
		t.Error("pulse within TTL should be active")
	}
	if w.HasActiveOwners(base.Add(31 * time.Second)) {
		t.Error("pulse past TTL should be inactive")
	}
}

func TestAcquireReleaseIsIdempotentOnOwnerState(t *testing.T) {
	w := New(Config{}, time.Now())
	now := time.Now()
	w.Acquire("a")
	w.Acquire("a")
	before := w.HasActiveOwners(now)
	w.Release("a")
	w.Release("a")
	after := w.HasActiveOwners(now)

	if !before {
		t.Fatal("expected active after double-acquire")
	}
	if after {
		t.Fatal("expected inactive after double-release")
	}
}

func TestTickStopsAfterIdleWindow(t *testing.T) {
	var stopped atomic.Bool
	base := time.Now()
	w := New(Config{
		TickInterval: time.Millisecond,
		IdleWindow:   50 * time.Millisecond,
		Stop:         func() { stopped.Store(true) },
	}, base)

	if w.tick(base.Add(10 * time.Millisecond)) {
		t.Fatal("should not signal stop before idle window elapses")
	}
	if !w.tick(base.Add(60 * time.Millisecond)) {
		t.Fatal("should signal stop once idle window elapses")
	}
}

func TestTickResetsIdleClockWhileOwnersActive(t *testing.T) {
	base := time.Now()
	w := New(Config{IdleWindow: 50 * time.Millisecond}, base)
	w.Acquire("a")

	if w.tick(base.Add(100 * time.Millisecond)) {
		t.Fatal("active owner should prevent idle stop regardless of elapsed time")
	}
}

func TestRunDisabledNeverCallsStop(t *testing.T) {
	var stopped atomic.Bool
	w := New(Config{
		Disabled:     true,
		TickInterval: time.Millisecond,
		IdleWindow:   time.Millisecond,
		Stop:         func() { stopped.Store(true) },
	}, time.Now())

	w.Run()
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	if stopped.Load() {
		t.Fatal("disabled watchdog should never invoke Stop callback")
	}
}

func TestRunCallsStopAfterIdleWindow(t *testing.T) {
	stopCh := make(chan struct{})
	w := New(Config{
		TickInterval: 5 * time.Millisecond,
		IdleWindow:   10 * time.Millisecond,
		Stop:         func() { close(stopCh) },
	}, time.Now())

	w.Run()
	select {
	case <-stopCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop callback never fired")
	}
}
