package sysloop

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agsys/atmodem/internal/lorawan"
	"github.com/agsys/atmodem/internal/sysconf"
)

// Config configures the cooperative loop's idle pacing and the reset
// hook. Idle itself never really suspends a host process the way a
// deep-sleep instruction would an MCU; ShallowSleep/DeepSleep just
// scale how long the loop waits before its next pass.
type Config struct {
	ShallowSleep time.Duration
	DeepSleep    time.Duration
}

// DefaultConfig returns pacing tuned for a responsive command prompt.
func DefaultConfig() Config {
	return Config{
		ShallowSleep: time.Millisecond,
		DeepSleep:    20 * time.Millisecond,
	}
}

// ResetKind distinguishes a graceful reboot (reply flushed, clean
// shutdown) from an immediate unclean reset (spec.md §4.6 "Reboot
// policy").
type ResetKind int

const (
	ResetGraceful ResetKind = iota
	ResetImmediate
)

// Drainer is the subset of internal/atci.Parser the loop drives each
// pass.
type Drainer interface {
	Process()
}

// Supervisor runs the single-threaded cooperative main loop: flush
// config, process ATCI input, process the LoRaWAN adapter, check for a
// scheduled reset, then idle (spec.md §4.8).
type Supervisor struct {
	cfg     Config
	conf    *sysconf.Store
	atci    Drainer
	lrw     *lorawan.Adapter
	wake    *WakeLockMask
	onReset func(ResetKind)

	// SessionID correlates cmd/atmodem's log lines and the loop's start
	// line within one process lifetime, the same role uuid.UUID plays for the teacher's
	// controller/command IDs. Never placed on the air.
	SessionID uuid.UUID

	scheduledReset bool
	scheduledKind  ResetKind
}

// New builds a supervisor. onReset is invoked once the main loop
// observes a scheduled reset; cmd/atmodem's hook flushes any pending
// reply on the link and then ends the run (exit or restart).
func New(cfg Config, conf *sysconf.Store, atci Drainer, lrw *lorawan.Adapter, wake *WakeLockMask, onReset func(ResetKind)) *Supervisor {
	return &Supervisor{cfg: cfg, conf: conf, atci: atci, lrw: lrw, wake: wake, onReset: onReset, SessionID: uuid.New()}
}

// ScheduleReset arms a pending reset of the given kind. Call this from
// a command handler (+REBOOT, +BAND, +FACNEW); the main loop performs
// it on its next pass, after the handler's own reply has been written
// and flushed (spec.md §5 ordering guarantee).
func (s *Supervisor) ScheduleReset(kind ResetKind) {
	s.scheduledReset = true
	s.scheduledKind = kind
}

// Run drives the cooperative loop until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Printf("sysloop[%s]: main loop starting", s.SessionID)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.conf.Flush(); err != nil {
			log.Printf("sysloop: sysconf flush: %v", err)
		}
		if err := s.lrw.FlushKeys(); err != nil {
			log.Printf("sysloop: key flush: %v", err)
		}

		s.atci.Process()
		s.lrw.Process()

		if s.scheduledReset {
			kind := s.scheduledKind
			s.scheduledReset = false
			if s.onReset != nil {
				s.onReset(kind)
			}
			if kind == ResetImmediate {
				return fmt.Errorf("sysloop: immediate reset requested")
			}
			return nil
		}

		s.idle()
	}
}

// idle implements sys_idle's three-way decision over the wake-lock
// mask. debug_asserts builds additionally verify the invariant that
// deep sleep is entered only with a zero mask (spec.md §8 "Wake-lock
// invariant").
func (s *Supervisor) idle() {
	mode := s.wake.Decide(s.conf.Get().SleepAllowed)
	assertWakeLockInvariant(mode, s.wake.Load())
	switch mode {
	case SleepDeep:
		time.Sleep(s.cfg.DeepSleep)
	default:
		time.Sleep(s.cfg.ShallowSleep)
	}
}
