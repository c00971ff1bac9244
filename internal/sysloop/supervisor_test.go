package sysloop

import (
	"context"
	"testing"
	"time"

	"github.com/agsys/atmodem/internal/hal"
	"github.com/agsys/atmodem/internal/lorawan"
	"github.com/agsys/atmodem/internal/nvm"
	"github.com/agsys/atmodem/internal/sysconf"
)

type countingDrainer struct{ calls int }

func (d *countingDrainer) Process() { d.calls++ }

type stubMac struct{ observer hal.MacObserver }

func (m *stubMac) Start(ctx context.Context, observer hal.MacObserver) error {
	m.observer = observer
	return nil
}
func (m *stubMac) Stop() error                    { return nil }
func (m *stubMac) Activate(hal.ActivationParams) error { return nil }
func (m *stubMac) IsJoined() bool                 { return false }
func (m *stubMac) Send(uint8, []byte, bool, int) (hal.MacStatus, error) {
	return hal.StatusOk, nil
}
func (m *stubMac) QueryTxPossible(int) (hal.TxInfo, error) { return hal.TxInfo{}, nil }
func (m *stubMac) IsBusy() bool                            { return true }
func (m *stubMac) MibGet(hal.Mib) (any, error)             { return nil, nil }
func (m *stubMac) MibSet(hal.Mib, any) error                { return nil }
func (m *stubMac) MlmeRequest(hal.MlmeKind) error            { return nil }
func (m *stubMac) SetRegion(string) error                    { return nil }
func (m *stubMac) Region() string                            { return "" }

func newFixture(t *testing.T) (*sysconf.Store, *lorawan.Adapter) {
	t.Helper()
	flash := nvm.NewMemFlash(8192)
	table, err := nvm.Format(flash, 8)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	conf, err := sysconf.Open(table)
	if err != nil {
		t.Fatalf("sysconf.Open: %v", err)
	}
	lrw, err := lorawan.New(&stubMac{}, conf, table)
	if err != nil {
		t.Fatalf("lorawan.New: %v", err)
	}
	if err := lrw.Start(context.Background()); err != nil {
		t.Fatalf("lrw.Start: %v", err)
	}
	return conf, lrw
}

func TestRunStopsOnContextCancel(t *testing.T) {
	conf, lrw := newFixture(t)
	drainer := &countingDrainer{}
	wake := &WakeLockMask{}

	sup := New(Config{ShallowSleep: time.Millisecond, DeepSleep: time.Millisecond}, conf, drainer, lrw, wake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after context cancellation")
	}
	if drainer.calls == 0 {
		t.Fatalf("expected at least one Process pass")
	}
}

func TestScheduledResetEndsTheLoop(t *testing.T) {
	conf, lrw := newFixture(t)
	drainer := &countingDrainer{}
	wake := &WakeLockMask{}

	var gotKind ResetKind
	var resetCalled bool
	sup := New(Config{ShallowSleep: time.Millisecond, DeepSleep: time.Millisecond}, conf, drainer, lrw, wake, func(k ResetKind) {
		resetCalled = true
		gotKind = k
	})
	sup.ScheduleReset(ResetGraceful)

	err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !resetCalled {
		t.Fatalf("onReset was not invoked")
	}
	if gotKind != ResetGraceful {
		t.Fatalf("gotKind: %v, want ResetGraceful", gotKind)
	}
}

func TestImmediateResetReturnsError(t *testing.T) {
	conf, lrw := newFixture(t)
	drainer := &countingDrainer{}
	wake := &WakeLockMask{}

	sup := New(Config{ShallowSleep: time.Millisecond, DeepSleep: time.Millisecond}, conf, drainer, lrw, wake, func(ResetKind) {})
	sup.ScheduleReset(ResetImmediate)

	if err := sup.Run(context.Background()); err == nil {
		t.Fatalf("expected an error for an immediate reset")
	}
}

func TestDecideDeepSleepOnlyWithEmptyMaskAndSleepAllowed(t *testing.T) {
	wake := &WakeLockMask{}
	if mode := wake.Decide(true); mode != SleepDeep {
		t.Fatalf("empty mask + sleepAllowed: got %v, want SleepDeep", mode)
	}
	if mode := wake.Decide(false); mode != SleepShallow {
		t.Fatalf("empty mask without sleepAllowed: got %v, want SleepShallow", mode)
	}
	wake.Take(Radio)
	if mode := wake.Decide(true); mode != SleepShallow {
		t.Fatalf("Radio held: got %v, want SleepShallow", mode)
	}
	wake.Release(Radio)
	wake.Take(LinkRx)
	if mode := wake.Decide(true); mode != SleepShallow {
		t.Fatalf("LinkRx held: got %v, want SleepShallow", mode)
	}
}

func TestTakeReleaseAreIdempotent(t *testing.T) {
	wake := &WakeLockMask{}
	wake.Take(Nvm)
	wake.Take(Nvm)
	if wake.Load() != Nvm {
		t.Fatalf("mask: got %x, want %x", wake.Load(), Nvm)
	}
	wake.Release(Nvm)
	wake.Release(Nvm)
	if wake.Load() != 0 {
		t.Fatalf("mask after release: got %x, want 0", wake.Load())
	}
}
