package distributor

import (
	"bytes"
	"sync"
	"testing"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	d := New(nil)

	var aBuf, bBuf bytes.Buffer
	var mu sync.Mutex
	d.Subscribe(ConsumerFunc(func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		aBuf.Write(p)
	}))
	d.Subscribe(ConsumerFunc(func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		bBuf.Write(p)
	}))

	d.Publish([]byte("hello"))
	d.Publish([]byte(" world"))

	if aBuf.String() != "hello world" || bBuf.String() != "hello world" {
		t.Errorf("a=%q b=%q, want both hello world", aBuf.String(), bBuf.String())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := New(nil)
	var got []byte
	tok := d.Subscribe(ConsumerFunc(func(p []byte) { got = append(got, p...) }))

	d.Publish([]byte("a"))
	d.Unsubscribe(tok)
	d.Publish([]byte("b"))

	if string(got) != "a" {
		t.Errorf("got %q, want %q", got, "a")
	}
}

func TestPanickingConsumerDoesNotAffectPeers(t *testing.T) {
	d := New(nil)
	d.Subscribe(ConsumerFunc(func(p []byte) { panic("boom") }))

	var got []byte
	d.Subscribe(ConsumerFunc(func(p []byte) { got = append(got, p...) }))

	d.Publish([]byte("x"))

	if string(got) != "x" {
		t.Errorf("got %q, want %q (peer must still be delivered to)", got, "x")
	}
}

func TestCount(t *testing.T) {
	d := New(nil)
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", d.Count())
	}
	tok := d.Subscribe(ConsumerFunc(func([]byte) {}))
	if d.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", d.Count())
	}
	d.Unsubscribe(tok)
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after unsubscribe", d.Count())
	}
}
