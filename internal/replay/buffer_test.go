package replay

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestSnapshotEmpty(t *testing.T) {
	b := New(16)
	if got := b.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() on empty buffer = %q, want empty", got)
	}
}

func TestSnapshotBelowCapacity(t *testing.T) {
	b := New(16)
	b.Append([]byte("hello"))
	if got := b.Snapshot(); string(got) != "hello" {
		t.Errorf("Snapshot() = %q, want %q", got, "hello")
	}
}

func TestSnapshotWraps(t *testing.T) {
	b := New(4)
	b.Append([]byte("ab"))
	b.Append([]byte("cdef")) // now "cdef" exactly fills capacity
	if got := string(b.Snapshot()); got != "cdef" {
		t.Errorf("Snapshot() = %q, want %q", got, "cdef")
	}
}

func TestSnapshotKeepsOnlyLastN(t *testing.T) {
	b := New(4)
	b.Append([]byte("abcdefgh")) // 8 bytes into a 4-byte ring
	if got := string(b.Snapshot()); got != "efgh" {
		t.Errorf("Snapshot() = %q, want %q", got, "efgh")
	}
}

func TestAppendSplitEquivalentToSingleAppend(t *testing.T) {
	capacity := 32
	a := []byte("the quick brown fox ")
	bPart := []byte("jumps over the lazy dog")

	split := New(capacity)
	split.Append(a)
	split.Append(bPart)

	whole := New(capacity)
	whole.Append(append(append([]byte{}, a...), bPart...))

	if !bytes.Equal(split.Snapshot(), whole.Snapshot()) {
		t.Errorf("append(a); append(b) != append(a+b): %q vs %q", split.Snapshot(), whole.Snapshot())
	}
}

func TestSnapshotIsSuffixOfFullHistory(t *testing.T) {
	capacity := 64
	b := New(capacity)

	var full []byte
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		n := r.Intn(13) + 1
		chunk := make([]byte, n)
		r.Read(chunk)
		b.Append(chunk)
		full = append(full, chunk...)
	}

	want := full
	if len(want) > capacity {
		want = want[len(want)-capacity:]
	}
	if !bytes.Equal(b.Snapshot(), want) {
		t.Errorf("Snapshot() not a correct suffix: got %d bytes, want %d bytes", len(b.Snapshot()), len(want))
	}
}

func TestClear(t *testing.T) {
	b := New(16)
	b.Append([]byte("data"))
	b.Clear()
	if got := b.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() after Clear() = %q, want empty", got)
	}
}

func TestDefaultCapacity(t *testing.T) {
	b := New(0)
	if b.Cap() != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", b.Cap(), DefaultCapacity)
	}
}
