package link

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func newTestLink(t *testing.T) (*Link, io.Writer, io.Reader) {
	t.Helper()
	transport, feed, observe := newLoopTransport()
	l := New(transport, Config{RxBufSize: 64, TxBufSize: 64})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { l.Stop() })
	return l, feed, observe
}

func TestWriteDrainsToTransport(t *testing.T) {
	l, _, observe := newTestLink(t)

	n := l.Write([]byte("AT+VER\r"))
	if n != len("AT+VER\r") {
		t.Fatalf("Write: got %d, want %d", n, len("AT+VER\r"))
	}

	buf := make([]byte, 64)
	readDone := make(chan int, 1)
	go func() {
		n, _ := observe.Read(buf)
		readDone <- n
	}()
	select {
	case n := <-readDone:
		if !bytes.Equal(buf[:n], []byte("AT+VER\r")) {
			t.Fatalf("transport got %q", buf[:n])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport write")
	}
}

func TestReadDeliversFromTransport(t *testing.T) {
	l, feed, _ := newTestLink(t)

	go feed.Write([]byte("+OK\r\n"))

	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	dst := make([]byte, 64)
	for time.Now().Before(deadline) {
		n := l.Read(dst)
		if n > 0 {
			got = append(got, dst[:n]...)
		}
		if len(got) >= len("+OK\r\n") {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !bytes.Equal(got, []byte("+OK\r\n")) {
		t.Fatalf("Read: got %q, want %q", got, "+OK\r\n")
	}
}

func TestPauseTxHoldsBytesInFifo(t *testing.T) {
	l, _, observe := newTestLink(t)
	l.PauseTX()

	l.Write([]byte("held"))
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4)
		observe.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("transport received bytes while paused")
	case <-time.After(50 * time.Millisecond):
	}

	l.ResumeTX()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("bytes never drained after ResumeTX")
	}
}

func TestOverflowIsCountedNotLostSilently(t *testing.T) {
	transport, feed, _ := newLoopTransport()
	l := New(transport, Config{RxBufSize: 4, TxBufSize: 64})
	l.Start()
	defer l.Stop()

	go feed.Write([]byte("0123456789"))
	time.Sleep(50 * time.Millisecond)

	if l.OverflowDropped() == 0 {
		t.Fatalf("expected overflow to be counted when RX FIFO is smaller than the burst")
	}
}

func TestFlushReturnsOnceFifoEmpty(t *testing.T) {
	l, _, observe := newTestLink(t)
	go io.Copy(io.Discard, observe)

	l.Write([]byte("drain me"))
	done := make(chan struct{})
	go func() {
		l.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Flush never returned")
	}
}
