// Package atci implements the line-oriented AT command protocol: byte-
// level line framing, dispatch into a static command table, typed
// argument parsing, and the binary/hex "upload" sub-protocol used by
// commands like +UTX that need a following payload.
package atci

import (
	"strings"

	"github.com/agsys/atmodem/internal/link"
)

type lineState int

const (
	stateStart lineState = iota
	statePrefix
	stateAttention
)

const maxLineLen = 256

// EventDrain is called immediately before a command's +OK/+ERR is
// written, giving the LoRaWAN adapter a chance to flush any events it
// buffered while SysConf.async_events was false (spec.md §4.7/§5
// ordering guarantee).
type EventDrain func(out *IO)

// Parser owns the line-framing state machine and drives dispatch
// against a Table. One Parser serves one Link.
type Parser struct {
	link   *link.Link
	table  *Table
	upload uploadState
	io     *IO

	state lineState
	buf   []byte

	drainEvents EventDrain
}

// New creates a parser bound to l and dispatching into table.
func New(l *link.Link, table *Table) *Parser {
	return &Parser{
		link:  l,
		table: table,
		io:    newIO(l),
		state: stateStart,
	}
}

// SetEventDrain installs the hook called before each command's final
// reply line.
func (p *Parser) SetEventDrain(d EventDrain) {
	p.drainEvents = d
}

// IO returns the parser's output sink, so cmd/atmodem can wire
// internal/lorawan's direct-sink ("+EVENT" with async_events=true)
// callback to the same link this parser writes its replies on.
func (p *Parser) IO() *IO {
	return p.io
}

// Arm activates the upload sub-protocol: the next length decoded bytes
// bypass the line parser entirely and are handed to cb. Command
// handlers (e.g. +UTX) call this through the *Parser cmdset holds a
// reference to.
func (p *Parser) Arm(length int, encoding UploadEncoding, cb UploadCallback) error {
	return p.upload.arm(length, encoding, cb)
}

// AbortUpload cancels any pending upload. No command handler calls it;
// a scheduled reset does not abort a pending upload.
func (p *Parser) AbortUpload() {
	p.upload.abort()
}

// Process drains whatever bytes are currently queued on the link and
// feeds them through the upload sub-protocol or the line parser. It
// never blocks, matching the cooperative main loop's bounded-step
// contract.
func (p *Parser) Process() {
	scratch := make([]byte, 64)
	for {
		n := p.link.Read(scratch)
		if n == 0 {
			return
		}
		p.feed(scratch[:n])
	}
}

func (p *Parser) feed(chunk []byte) {
	for len(chunk) > 0 {
		if p.upload.pending {
			n := p.upload.feed(chunk)
			if n == 0 {
				n = 1 // defensive: never spin if feed can't make progress
			}
			chunk = chunk[n:]
			continue
		}
		p.stepLine(chunk[0])
		chunk = chunk[1:]
	}
}

func (p *Parser) stepLine(b byte) {
	switch p.state {
	case stateStart:
		if b == 'A' || b == 'a' {
			p.buf = append(p.buf[:0], 'A')
			p.state = statePrefix
		}
	case statePrefix:
		if b == 'T' || b == 't' {
			p.buf = append(p.buf, 'T')
			p.state = stateAttention
		} else {
			p.reset()
		}
	case stateAttention:
		switch b {
		case '\r':
			line := string(p.buf)
			p.reset()
			p.dispatchLine(line)
		case '\n':
			// ignored entirely
		case '\x1b':
			p.reset()
		default:
			if len(p.buf) >= maxLineLen {
				p.io.Print("+ERR=-1\r\n\r\n")
				p.reset()
				return
			}
			p.appendAttention(b)
		}
	}
}

// appendAttention folds case on the command-name portion (before the
// first '=', '?', or space) and preserves case thereafter.
func (p *Parser) appendAttention(b byte) {
	nameDone := false
	for _, c := range p.buf[2:] {
		if c == '=' || c == '?' || c == ' ' {
			nameDone = true
			break
		}
	}
	if !nameDone && b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	p.buf = append(p.buf, b)
}

func (p *Parser) reset() {
	p.buf = p.buf[:0]
	p.state = stateStart
}

// dispatchLine implements the 4-way dispatch shape over one fully
// framed "AT..." line (without the trailing \r).
func (p *Parser) dispatchLine(line string) {
	p.io.clearReplied()

	rest := line[2:] // strip "AT"
	if rest == "" {
		p.reply(nil)
		return
	}

	name, shape, args := splitCommand(rest)
	cmd, ok := p.table.Find(name)
	if !ok {
		p.reply(ErrUnknownCommand)
		return
	}

	var err error
	switch shape {
	case shapeTest:
		if cmd.Test == nil {
			err = ErrWrongArity
		} else {
			err = cmd.Test(p.io)
		}
	case shapeSet:
		if cmd.Set == nil {
			err = ErrWrongArity
		} else {
			err = cmd.Set(p.io, args)
		}
	case shapeRead:
		if cmd.Read == nil {
			err = ErrWrongArity
		} else {
			err = cmd.Read(p.io)
		}
	case shapeAction:
		if cmd.Action == nil {
			err = ErrWrongArity
		} else {
			err = cmd.Action(p.io, args)
		}
	}
	p.reply(err)
}

func (p *Parser) reply(err error) {
	if err == Deferred {
		return
	}
	if p.drainEvents != nil {
		p.drainEvents(p.io)
	}
	if err == nil {
		if p.io.replied {
			p.io.Print("\r\n")
		} else {
			p.io.Print("+OK\r\n\r\n")
		}
		return
	}
	code, ok := err.(Code)
	if !ok {
		code = ErrInvalidValue
	}
	p.io.Printf("+ERR=%d\r\n\r\n", int(code))
}

type dispatchShape int

const (
	shapeAction dispatchShape = iota
	shapeSet
	shapeRead
	shapeTest
)

// splitCommand splits "+NAME=?" / "+NAME=args" / "+NAME?" /
// "+NAME args" / "+NAME" into (name, shape, args).
func splitCommand(s string) (name string, shape dispatchShape, args string) {
	if i := strings.IndexByte(s, '='); i >= 0 {
		name = s[:i]
		if s[i+1:] == "?" {
			return name, shapeTest, ""
		}
		return name, shapeSet, s[i+1:]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i], shapeRead, ""
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], shapeAction, s[i+1:]
	}
	return s, shapeAction, ""
}
