package atci

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/agsys/atmodem/internal/link"
)

// loopLink wires a Parser to a real Link over an in-process pipe so
// tests can feed host bytes and observe device replies exactly as the
// wire protocol frames them.
type loopLink struct {
	l       *link.Link
	feed    io.Writer
	observe io.Reader
}

func newLoopLink(t *testing.T) *loopLink {
	t.Helper()
	transport, feed, observe := link.NewLoopback()
	l := link.New(transport, link.Config{RxBufSize: 256, TxBufSize: 256})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { l.Stop() })
	return &loopLink{l: l, feed: feed, observe: observe}
}

// readReply reads until it has seen a full "\r\n\r\n"-terminated
// response or the deadline expires.
func (ll *loopLink) readReply(t *testing.T) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	buf := make([]byte, 256)
	done := make(chan struct{})
	go func() {
		for time.Now().Before(deadline) {
			n, err := ll.observe.Read(buf)
			if n > 0 {
				got = append(got, buf[:n]...)
			}
			if bytes.HasSuffix(got, []byte("\r\n\r\n")) {
				close(done)
				return
			}
			if err != nil {
				close(done)
				return
			}
		}
		close(done)
	}()
	<-done
	return string(got)
}

func sendLine(t *testing.T, ll *loopLink, line string) {
	t.Helper()
	go ll.feed.Write([]byte(line))
}

func TestDispatchActionNoArgs(t *testing.T) {
	ll := newLoopLink(t)
	table := NewTable([]Command{
		{Name: "+VER", Action: func(out *IO, args string) error {
			out.OKValues("1.0.0")
			return nil
		}},
	})
	p := New(ll.l, table)

	sendLine(t, ll, "AT+VER\r")
	drainUntil(p, 2*time.Second)

	got := ll.readReply(t)
	if !strings.Contains(got, "+OK=1.0.0") {
		t.Fatalf("reply missing value line: %q", got)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	ll := newLoopLink(t)
	table := NewTable(nil)
	p := New(ll.l, table)

	sendLine(t, ll, "AT+NOPE\r")
	drainUntil(p, 2*time.Second)

	got := ll.readReply(t)
	if got != "+ERR=-1\r\n\r\n" {
		t.Fatalf("got %q, want +ERR=-1\\r\\n\\r\\n", got)
	}
}

func TestDispatchBareAT(t *testing.T) {
	ll := newLoopLink(t)
	p := New(ll.l, NewTable(nil))

	sendLine(t, ll, "AT\r")
	drainUntil(p, 2*time.Second)

	got := ll.readReply(t)
	if got != "+OK\r\n\r\n" {
		t.Fatalf("got %q, want +OK\\r\\n\\r\\n", got)
	}
}

func TestDispatchSetAndRead(t *testing.T) {
	ll := newLoopLink(t)
	var stored string
	table := NewTable([]Command{
		{
			Name: "+DEVEUI",
			Set: func(out *IO, args string) error {
				stored = args
				return nil
			},
			Read: func(out *IO) error {
				out.OKValues(stored)
				return nil
			},
		},
	})
	p := New(ll.l, table)

	sendLine(t, ll, "AT+DEVEUI=0102030405060708\r")
	drainUntil(p, 2*time.Second)
	got := ll.readReply(t)
	if got != "+OK\r\n\r\n" {
		t.Fatalf("set reply: got %q", got)
	}

	sendLine(t, ll, "AT+DEVEUI?\r")
	drainUntil(p, 2*time.Second)
	got = ll.readReply(t)
	if !strings.Contains(got, "+OK=0102030405060708") {
		t.Fatalf("read reply: got %q", got)
	}
}

func TestCommandNameIsCaseInsensitiveArgsArePreserved(t *testing.T) {
	ll := newLoopLink(t)
	var gotArgs string
	table := NewTable([]Command{
		{Name: "+FOO", Set: func(out *IO, args string) error {
			gotArgs = args
			return nil
		}},
	})
	p := New(ll.l, table)

	sendLine(t, ll, "at+foo=MixedCase\r")
	drainUntil(p, 2*time.Second)
	ll.readReply(t)

	if gotArgs != "MixedCase" {
		t.Fatalf("args case not preserved: got %q", gotArgs)
	}
}

func TestWrongArityOnMissingShape(t *testing.T) {
	ll := newLoopLink(t)
	table := NewTable([]Command{
		{Name: "+ONLYACTION", Action: func(out *IO, args string) error { return nil }},
	})
	p := New(ll.l, table)

	sendLine(t, ll, "AT+ONLYACTION?\r")
	drainUntil(p, 2*time.Second)
	got := ll.readReply(t)
	if got != "+ERR=-2\r\n\r\n" {
		t.Fatalf("got %q, want +ERR=-2", got)
	}
}

func TestUploadBinaryFiresExactLength(t *testing.T) {
	ll := newLoopLink(t)
	var gotResult UploadResult
	var gotPayload []byte
	done := make(chan struct{})

	var p *Parser
	table := NewTable([]Command{
		{Name: "+UTX", Action: func(out *IO, args string) error {
			return p.Arm(3, EncodingBinary, func(r UploadResult, payload []byte) {
				gotResult, gotPayload = r, payload
				close(done)
			})
		}},
	})
	p = New(ll.l, table)

	sendLine(t, ll, "AT+UTX\r")
	drainUntil(p, 2*time.Second)
	ll.readReply(t)

	sendLine(t, ll, "ABC")
	waitOrTimeout(t, done, 2*time.Second)

	if gotResult != UploadOK || string(gotPayload) != "ABC" {
		t.Fatalf("upload result: %v %q", gotResult, gotPayload)
	}
}

func TestUploadZeroLengthFiresImmediately(t *testing.T) {
	var called bool
	var u uploadState
	err := u.arm(0, EncodingBinary, func(r UploadResult, payload []byte) {
		called = true
		if r != UploadOK || len(payload) != 0 {
			t.Fatalf("zero-length upload: got %v %v", r, payload)
		}
	})
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if !called {
		t.Fatalf("callback never fired for zero-length upload")
	}
	if u.pending {
		t.Fatalf("zero-length upload must not occupy the slot")
	}
}

func TestUploadRejectsSecondArmWhilePending(t *testing.T) {
	var u uploadState
	u.arm(4, EncodingBinary, func(UploadResult, []byte) {})
	if err := u.arm(2, EncodingBinary, func(UploadResult, []byte) {}); err == nil {
		t.Fatalf("expected second arm to be rejected")
	}
}

func TestUploadAbortInvokesCallbackWithPartial(t *testing.T) {
	var u uploadState
	var gotResult UploadResult
	var gotPartial []byte
	u.arm(4, EncodingBinary, func(r UploadResult, payload []byte) {
		gotResult = r
		gotPartial = payload
	})
	u.feed([]byte("AB"))
	u.abort()

	if gotResult != UploadAborted {
		t.Fatalf("abort result: got %v", gotResult)
	}
	if string(gotPartial) != "AB" {
		t.Fatalf("abort partial: got %q", gotPartial)
	}
	if u.pending {
		t.Fatalf("abort must clear the slot")
	}
}

func TestUploadHexDecodesAndRejectsBadNibble(t *testing.T) {
	var u uploadState
	var gotResult UploadResult
	var gotPayload []byte
	u.arm(2, EncodingHex, func(r UploadResult, payload []byte) {
		gotResult = r
		gotPayload = payload
	})
	u.feed([]byte("4142"))
	if gotResult != UploadOK || string(gotPayload) != "AB" {
		t.Fatalf("expected hex payload decoded to %q, got %v %q", "AB", gotResult, gotPayload)
	}

	u.arm(2, EncodingHex, func(r UploadResult, payload []byte) {
		gotResult = r
	})
	u.feed([]byte("ZZ"))
	if gotResult != UploadEncodingError {
		t.Fatalf("expected encoding error for bad nibble, got %v", gotResult)
	}
}

func TestCursorGetUintGetIntIsCommaGetHex(t *testing.T) {
	c2 := NewCursor("5,-7,ab01")
	v, ok := c2.GetUint()
	if !ok || v != 5 {
		t.Fatalf("GetUint: got %v %v", v, ok)
	}
	if !c2.IsComma() {
		t.Fatalf("IsComma failed")
	}
	iv, ok := c2.GetInt()
	if !ok || iv != -7 {
		t.Fatalf("GetInt: got %v %v", iv, ok)
	}
	if !c2.IsComma() {
		t.Fatalf("IsComma (2nd) failed")
	}
	hx, ok := c2.GetHex(4)
	if !ok || string(hx) != "\xab\x01" {
		t.Fatalf("GetHex: got %v %v", hx, ok)
	}
	if !c2.Done() {
		t.Fatalf("cursor should be exhausted")
	}
}

func TestCursorGetHexRejectsOddNibbleCount(t *testing.T) {
	c := NewCursor("abc")
	if _, ok := c.GetHex(0); ok {
		t.Fatalf("expected odd nibble count to fail")
	}
}

func drainUntil(p *Parser, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.Process()
		time.Sleep(time.Millisecond)
	}
}

func waitOrTimeout(t *testing.T, done chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("timed out waiting for callback")
	}
}
