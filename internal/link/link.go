// Package link implements the serial command transport: non-blocking
// TX/RX FIFOs backed by internal/cbuf, pause/resume for host-polling
// mode, and the detach/attach and before/after-sleep hooks the power
// model drives around the physical port.
//
// The firmware design arms a circular DMA ring and drives TX/RX off
// peripheral interrupts; on a host OS there is no DMA ring to arm, so
// one goroutine blocks in Transport.Read and copies whatever arrives
// into the RX FIFO (playing the role of the half/full/idle-line DMA
// interrupts), and a second goroutine drains contiguous TX FIFO
// segments to Transport.Write (playing the role of the DMA-complete
// interrupt). The FIFO contract and wake-lock bookkeeping are
// unchanged either way.
package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/agsys/atmodem/internal/cbuf"
)

// Transport is the physical byte pipe under the link. serialTransport
// wraps a real TTY; loopTransport is an in-memory double for tests.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// WakeLocker is the subset of the power model's wake-lock mask the
// link needs. Defined here (rather than imported from the owning
// package) to keep internal/link free of a dependency on
// internal/sysloop; cmd/atmodem wires a concrete WakeLockMask in.
type WakeLocker interface {
	Take(bit uint32)
	Release(bit uint32)
}

type noopWakeLocker struct{}

func (noopWakeLocker) Take(uint32)    {}
func (noopWakeLocker) Release(uint32) {}

// Config configures buffer sizes and the wake-lock bits this link
// takes and releases.
type Config struct {
	RxBufSize int
	TxBufSize int
	RxWakeBit uint32
	TxWakeBit uint32
	// Idle is called by WriteBlocking while waiting for FIFO space,
	// standing in for Sys.idle(). If nil, WriteBlocking busy-waits with
	// a short sleep.
	Idle func()
}

// DefaultConfig returns link defaults sized for AT-command traffic.
func DefaultConfig() Config {
	return Config{
		RxBufSize: 256,
		TxBufSize: 512,
	}
}

// Link owns the TX/RX FIFOs and the pump goroutines driving them
// against a Transport.
type Link struct {
	cfg       Config
	transport Transport
	wake      WakeLocker

	mu        sync.Mutex
	rx        cbuf.Buffer
	tx        cbuf.Buffer
	paused    bool
	detached  bool
	txPending bool // set by write, cleared when the TX pump finds the FIFO empty or TX paused

	overflowDropped uint64

	txSignal chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New constructs a Link over transport. Call Start to begin pumping.
func New(transport Transport, cfg Config) *Link {
	if cfg.RxBufSize <= 0 {
		cfg.RxBufSize = DefaultConfig().RxBufSize
	}
	if cfg.TxBufSize <= 0 {
		cfg.TxBufSize = DefaultConfig().TxBufSize
	}
	l := &Link{
		cfg:       cfg,
		transport: transport,
		wake:      noopWakeLocker{},
		txSignal:  make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
	l.rx.Init(make([]byte, cfg.RxBufSize))
	l.tx.Init(make([]byte, cfg.TxBufSize))
	return l
}

// SetWakeLocker installs the wake-lock sink; must be called before
// Start.
func (l *Link) SetWakeLocker(w WakeLocker) {
	if w == nil {
		w = noopWakeLocker{}
	}
	l.wake = w
}

// Start arms the RX read pump and the TX drain pump.
func (l *Link) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("link: already running")
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(2)
	go l.rxPump()
	go l.txPump()
	return nil
}

// Stop halts both pumps and closes the transport.
func (l *Link) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopChan)
	err := l.transport.Close()
	l.wg.Wait()
	return err
}

// Write enqueues src into the TX FIFO without blocking and kicks the
// TX pump. It returns the number of bytes actually enqueued, which is
// less than len(src) if the FIFO is nearly full.
func (l *Link) Write(src []byte) int {
	l.mu.Lock()
	n := l.tx.Put(src)
	if n > 0 {
		l.txPending = true
	}
	l.mu.Unlock()
	l.kickTx()
	return n
}

// WriteBlocking enqueues all of src, calling cfg.Idle (standing in for
// Sys.idle()) whenever the FIFO is saturated.
func (l *Link) WriteBlocking(src []byte) {
	for len(src) > 0 {
		n := l.Write(src)
		src = src[n:]
		if len(src) == 0 {
			return
		}
		if l.cfg.Idle != nil {
			l.cfg.Idle()
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// Read dequeues up to len(dst) bytes from the RX FIFO without
// blocking.
func (l *Link) Read(dst []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rx.Get(dst)
}

// RxLen reports how many bytes are queued for the consumer.
func (l *Link) RxLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rx.Len()
}

// OverflowDropped reports how many RX bytes were discarded because the
// FIFO was full when they arrived.
func (l *Link) OverflowDropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overflowDropped
}

// Flush blocks until the TX FIFO is fully drained to the transport.
func (l *Link) Flush() {
	for {
		l.mu.Lock()
		empty := l.tx.Len() == 0
		l.mu.Unlock()
		if empty {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// PauseTX stops the TX pump from handing new bytes to the transport.
// Writes still land in the FIFO.
func (l *Link) PauseTX() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

// ResumeTX re-enables transmission and kicks the pump in case bytes
// piled up while paused.
func (l *Link) ResumeTX() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.kickTx()
}

// Detach pauses TX and marks the link as not actively draining RX,
// standing in for reconfiguring the UART pins to analog mode so they
// can be shared with another peripheral.
func (l *Link) Detach() {
	l.mu.Lock()
	l.detached = true
	l.paused = true
	l.mu.Unlock()
}

// Attach reverses Detach.
func (l *Link) Attach() {
	l.mu.Lock()
	l.detached = false
	l.paused = false
	l.mu.Unlock()
	l.kickTx()
}

// BeforeSleep pauses the TX pump ahead of a deep-sleep transition.
func (l *Link) BeforeSleep() {
	l.PauseTX()
}

// AfterSleep takes the RX wake-lock until the next byte arrives and
// resumes transmission. The rx pump itself releases the lock once it
// has something to deliver.
func (l *Link) AfterSleep() {
	l.wake.Take(l.cfg.RxWakeBit)
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.kickTx()
}

func (l *Link) kickTx() {
	select {
	case l.txSignal <- struct{}{}:
	default:
	}
}

// rxPump plays the role of the RX DMA interrupt chain: it blocks in
// Transport.Read, then copies whatever arrived into the RX FIFO under
// the lock. Overflow drops the tail and is counted, matching the DMA
// ring's old_pos/p sampling semantics.
func (l *Link) rxPump() {
	defer l.wg.Done()
	scratch := make([]byte, 256)
	for {
		select {
		case <-l.stopChan:
			return
		default:
		}
		n, err := l.transport.Read(scratch)
		if n > 0 {
			l.mu.Lock()
			if l.detached {
				l.mu.Unlock()
				continue
			}
			written := l.rx.Put(scratch[:n])
			if written < n {
				l.overflowDropped += uint64(n - written)
			}
			l.mu.Unlock()
			l.wake.Release(l.cfg.RxWakeBit)
		}
		if err != nil {
			select {
			case <-l.stopChan:
				return
			default:
			}
			if err == io.EOF {
				return
			}
		}
	}
}

// txPump plays the role of the TX DMA-complete interrupt chain: it
// wakes on kickTx, picks one contiguous head-view segment, writes it
// to the transport synchronously (there being no real DMA to hand it
// to), consumes what was written, and loops until the FIFO is drained
// or paused.
func (l *Link) txPump() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopChan:
			return
		case <-l.txSignal:
		}
		l.drainOnce()
	}
}

func (l *Link) drainOnce() {
	for {
		l.mu.Lock()
		if l.paused || l.tx.Len() == 0 {
			l.txPending = false
			l.mu.Unlock()
			return
		}
		seg0, _ := l.tx.HeadView()
		segCopy := append([]byte(nil), seg0...)
		l.mu.Unlock()

		l.wake.Take(l.cfg.TxWakeBit)
		n, err := l.transport.Write(segCopy)

		l.mu.Lock()
		l.tx.Consume(n)
		stillPending := l.tx.Len() > 0 && !l.paused
		l.mu.Unlock()

		if !stillPending {
			l.wake.Release(l.cfg.TxWakeBit)
		}
		if err != nil {
			return
		}
		if !stillPending {
			return
		}
	}
}
