// Package cbuf implements a fixed-capacity single-producer/single-
// consumer byte queue with a zero-copy view API. It backs the serial
// link's RX and TX FIFOs (internal/link) and performs no allocation
// after Init.
package cbuf

// Buffer is a circular byte queue over a caller-supplied backing slice.
// The producer calls TailView/Produce, the consumer calls
// HeadView/Consume; Put/Get are copying convenience wrappers over the
// same views. Buffer itself does no locking — callers that share one
// Buffer across a goroutine boundary (the serial link's RX pump and the
// main loop) must wrap index-crossing operations in their own short
// critical section.
type Buffer struct {
	backing []byte
	cap     int
	read    int
	write   int
	length  int
}

// Init attaches the buffer to backing, whose length becomes the
// capacity. Init never allocates; backing is held, not copied.
func (b *Buffer) Init(backing []byte) {
	b.backing = backing
	b.cap = len(backing)
	b.read = 0
	b.write = 0
	b.length = 0
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return b.cap }

// Len returns the number of bytes currently queued.
func (b *Buffer) Len() int { return b.length }

// Space returns the number of bytes that can still be produced.
func (b *Buffer) Space() int { return b.cap - b.length }

// TailView returns up to two contiguous free segments starting at the
// write cursor, in order. The caller writes into seg0 first, then seg1
// if seg0 was exhausted, then calls Produce with the total written.
func (b *Buffer) TailView() (seg0, seg1 []byte) {
	space := b.Space()
	if space == 0 {
		return nil, nil
	}
	if b.write+space <= b.cap {
		return b.backing[b.write : b.write+space], nil
	}
	firstLen := b.cap - b.write
	return b.backing[b.write:b.cap], b.backing[0 : space-firstLen]
}

// HeadView returns up to two contiguous data segments starting at the
// read cursor, in order. The caller reads from seg0 first, then seg1,
// then calls Consume with the total read.
func (b *Buffer) HeadView() (seg0, seg1 []byte) {
	n := b.length
	if n == 0 {
		return nil, nil
	}
	if b.read+n <= b.cap {
		return b.backing[b.read : b.read+n], nil
	}
	firstLen := b.cap - b.read
	return b.backing[b.read:b.cap], b.backing[0 : n-firstLen]
}

// Produce advances the write cursor by n bytes, which must not exceed
// Space(). It is the producer's job to have already copied those bytes
// into the slices returned by TailView.
func (b *Buffer) Produce(n int) {
	if n <= 0 {
		return
	}
	if n > b.Space() {
		n = b.Space()
	}
	b.write = (b.write + n) % b.cap
	b.length += n
}

// Consume advances the read cursor by n bytes, which must not exceed
// Len().
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > b.length {
		n = b.length
	}
	b.read = (b.read + n) % b.cap
	b.length -= n
}

// Put copies up to len(src) bytes into the buffer and returns how many
// were actually written (less than len(src) if the buffer is nearly
// full).
func (b *Buffer) Put(src []byte) int {
	seg0, seg1 := b.TailView()
	n := copy(seg0, src)
	if n < len(src) && seg1 != nil {
		n += copy(seg1, src[n:])
	}
	b.Produce(n)
	return n
}

// Get copies up to len(dst) queued bytes into dst and returns how many
// were actually read.
func (b *Buffer) Get(dst []byte) int {
	seg0, seg1 := b.HeadView()
	n := copy(dst, seg0)
	if n < len(dst) && seg1 != nil {
		n += copy(dst[n:], seg1)
	}
	b.Consume(n)
	return n
}
