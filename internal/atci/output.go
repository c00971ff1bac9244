package atci

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/agsys/atmodem/internal/link"
)

// IO is handed to every command handler; it wraps the link so output
// can be written without handlers knowing about the transport. All
// writes are non-blocking (Link.Write); Flush waits for the transport
// to actually drain.
type IO struct {
	l       *link.Link
	replied bool
}

func newIO(l *link.Link) *IO {
	return &IO{l: l}
}

// clearReplied resets the per-command reply tracking; the dispatcher
// calls this before invoking a handler.
func (io *IO) clearReplied() {
	io.replied = false
}

// Print writes s as-is.
func (io *IO) Print(s string) {
	io.l.WriteBlocking([]byte(s))
}

// Printf formats and writes, matching the teacher's log.Printf-style
// call sites but over the serial link instead of the log package.
func (io *IO) Printf(format string, args ...any) {
	io.Print(fmt.Sprintf(format, args...))
}

// PrintHex writes buf as lower-case ASCII hex pairs, no separator.
func (io *IO) PrintHex(buf []byte) {
	io.Print(hex.EncodeToString(buf))
}

// Write writes raw bytes, e.g. a binary-mode downlink payload.
func (io *IO) Write(b []byte) {
	io.l.WriteBlocking(b)
}

// OK emits "+OK\r\n" with no values; the dispatcher appends the
// trailing blank line once the handler returns.
func (io *IO) OK() {
	io.Print("+OK\r\n")
	io.replied = true
}

// OKValues emits "+OK=<values>\r\n"; the dispatcher appends the
// trailing blank line once the handler returns.
func (io *IO) OKValues(values string) {
	io.Print("+OK=" + values + "\r\n")
	io.replied = true
}

// Event emits an asynchronous "+EVENT=..."-shaped line immediately.
// Callers that must honor async_events=false buffer lines themselves
// and call Event only once draining is permitted (see
// internal/lorawan's event queue).
func (io *IO) Event(line string) {
	if !strings.HasSuffix(line, "\r\n") {
		line += "\r\n"
	}
	io.Print(line)
}

// Flush blocks until the link has sent everything written so far.
func (io *IO) Flush() {
	io.l.Flush()
}
