package cbuf

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	var b Buffer
	b.Init(make([]byte, 16))

	in := []byte("hello world")
	n := b.Put(in)
	if n != len(in) {
		t.Fatalf("Put: got %d, want %d", n, len(in))
	}
	if b.Len() != len(in) {
		t.Fatalf("Len: got %d, want %d", b.Len(), len(in))
	}

	out := make([]byte, len(in))
	n = b.Get(out)
	if n != len(in) {
		t.Fatalf("Get: got %d, want %d", n, len(in))
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("round trip mismatch: got %q, want %q", out, in)
	}
	if b.Len() != 0 {
		t.Fatalf("Len after drain: got %d, want 0", b.Len())
	}
}

func TestWrapAround(t *testing.T) {
	var b Buffer
	b.Init(make([]byte, 8))

	// Prime the cursor near the end so the next put wraps.
	b.Put([]byte{1, 2, 3, 4, 5, 6})
	drained := make([]byte, 6)
	b.Get(drained)

	in := []byte{10, 20, 30, 40, 50, 60, 70}
	n := b.Put(in)
	if n != len(in) {
		t.Fatalf("Put wrap: got %d, want %d", n, len(in))
	}

	out := make([]byte, len(in))
	n = b.Get(out)
	if n != len(in) || !bytes.Equal(in, out) {
		t.Fatalf("wrap round trip: got %v, want %v", out, in)
	}
}

func TestNeverExceedsSpaceOrLen(t *testing.T) {
	var b Buffer
	backing := make([]byte, 32)
	b.Init(backing)

	rng := rand.New(rand.NewSource(1))
	var model []byte

	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 && b.Space() > 0 {
			chunk := make([]byte, 1+rng.Intn(b.Space()))
			for j := range chunk {
				chunk[j] = byte(rng.Intn(256))
			}
			n := b.Put(chunk)
			if n > b.Cap() {
				t.Fatalf("Put wrote more than capacity")
			}
			model = append(model, chunk[:n]...)
		} else if b.Len() > 0 {
			out := make([]byte, 1+rng.Intn(b.Len()))
			n := b.Get(out)
			if !bytes.Equal(out[:n], model[:n]) {
				t.Fatalf("data mismatch at iteration %d: got %v want %v", i, out[:n], model[:n])
			}
			model = model[n:]
		}
	}
}

func TestTailViewNeverExceedsSpace(t *testing.T) {
	var b Buffer
	b.Init(make([]byte, 10))
	b.Put([]byte{1, 2, 3, 4, 5, 6, 7})
	out := make([]byte, 4)
	b.Get(out)

	seg0, seg1 := b.TailView()
	total := len(seg0) + len(seg1)
	if total != b.Space() {
		t.Fatalf("tail view size: got %d, want %d", total, b.Space())
	}
}
