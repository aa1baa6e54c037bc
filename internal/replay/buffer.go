// Package replay provides a bounded ring buffer of recent PTY output,
// used to bring new viewers up to date on current screen state without
// replaying the full session history.
//
// Grounded on the teacher's agent.RingBuffer / pty.Session.rawOutput
// chunk-ring, generalized from a ring of chunks to a byte-accurate ring
// so Snapshot() always returns exactly the last N bytes written.
package replay

import "sync"

// DefaultCapacity is the default ring size (spec.md §3: 16 KiB).
const DefaultCapacity = 16 * 1024

// Buffer is a fixed-capacity ring of bytes. The zero value is not usable;
// construct with New.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	cap    int
	start  int // index of oldest byte, valid when filled
	length int // number of valid bytes currently stored
}

// New creates a Buffer with the given capacity. A capacity <= 0 falls
// back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data: make([]byte, capacity),
		cap:  capacity,
	}
}

// Append writes p into the ring, overwriting the oldest bytes once full.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.cap {
		// p alone covers (or exceeds) the whole ring; only its tail matters.
		copy(b.data, p[len(p)-b.cap:])
		b.start = 0
		b.length = b.cap
		return
	}

	end := (b.start + b.length) % b.cap
	n := copy(b.data[end:], p)
	if n < len(p) {
		copy(b.data, p[n:])
	}

	if b.length+len(p) > b.cap {
		overflow := b.length + len(p) - b.cap
		b.start = (b.start + overflow) % b.cap
		b.length = b.cap
	} else {
		b.length += len(p)
	}
}

// Snapshot returns a copy of the buffered bytes in write order. Its
// length is min(capacity, total bytes ever appended).
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.length)
	if b.length == 0 {
		return out
	}
	n := copy(out, b.data[b.start:])
	if n < b.length {
		copy(out[n:], b.data[:b.length-n])
	}
	return out
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.length = 0
}

// Len reports the number of bytes currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Cap reports the ring's total capacity.
func (b *Buffer) Cap() int {
	return b.cap
}
