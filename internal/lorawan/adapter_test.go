package lorawan

import (
	"context"
	"testing"

	"github.com/agsys/atmodem/internal/hal"
	"github.com/agsys/atmodem/internal/nvm"
	"github.com/agsys/atmodem/internal/sysconf"
)

func newAdapter(t *testing.T) (*Adapter, *fakeMac) {
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
	mac := newFakeMac()
	a, err := New(mac, conf, table)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mac.observer == nil {
		t.Fatalf("Start did not register the adapter as the MAC observer")
	}
	return a, mac
}

func TestActivateABPInstallsSessionWithoutJoin(t *testing.T) {
	a, mac := newAdapter(t)
	a.SetKeys(func(k *Keys) {
		k.DevAddr = [4]byte{1, 2, 3, 4}
		k.NwkSKey = [16]byte{1}
		k.AppSKey = [16]byte{2}
	})

	status, err := a.Activate(hal.ActivationParams{OTAA: false})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if status != hal.StatusOk {
		t.Fatalf("status: got %v", status)
	}
	if !a.IsJoined() {
		t.Fatalf("ABP activation should mark joined immediately")
	}
	if len(mac.activateCalls) != 1 {
		t.Fatalf("expected 1 Activate call, got %d", len(mac.activateCalls))
	}
	if mac.activateCalls[0].DevAddr != [4]byte{1, 2, 3, 4} {
		t.Fatalf("DevAddr not forwarded: got %v", mac.activateCalls[0].DevAddr)
	}
}

func TestActivateOTAARecordsJoinAttempt(t *testing.T) {
	a, mac := newAdapter(t)
	_, err := a.Activate(hal.ActivationParams{OTAA: true, JoinRetries: 3})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if a.IsJoined() {
		t.Fatalf("OTAA activation is not immediately joined, join completes via MlmeConfirm")
	}
	if a.Stats().JoinAttempts != 1 {
		t.Fatalf("JoinAttempts: got %d, want 1", a.Stats().JoinAttempts)
	}
	_ = mac
}

func TestMlmeConfirmJoinSuccessMarksJoinedAndEmitsEvent(t *testing.T) {
	a, _ := newAdapter(t)
	var got []string
	a.SetDirectSink(func(s string) { got = append(got, s) })

	a.MlmeConfirm(hal.MlmeConfirmEvent{Kind: hal.MlmeJoin, Status: hal.StatusOk})

	if !a.IsJoined() {
		t.Fatalf("expected joined after successful join confirm")
	}
	if len(got) != 1 || got[0] != "+EVENT=1,1\r\n" {
		t.Fatalf("join event: got %v", got)
	}
}

func TestMlmeConfirmJoinFailureEmitsFailEvent(t *testing.T) {
	a, _ := newAdapter(t)
	var got []string
	a.SetDirectSink(func(s string) { got = append(got, s) })

	a.MlmeConfirm(hal.MlmeConfirmEvent{Kind: hal.MlmeJoin, Status: hal.StatusJoinFail})

	if a.IsJoined() {
		t.Fatalf("join failure must not mark joined")
	}
	if len(got) != 1 || got[0] != "+EVENT=1,0\r\n" {
		t.Fatalf("join fail event: got %v", got)
	}
}

func TestSendRejectsWhenNotJoined(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.Send(1, []byte("hi"), false, 1)
	if err == nil {
		t.Fatalf("expected error sending before join")
	}
}

func TestSendRejectsInvalidPort(t *testing.T) {
	a, _ := newAdapter(t)
	a.MlmeConfirm(hal.MlmeConfirmEvent{Kind: hal.MlmeJoin, Status: hal.StatusOk})

	if _, err := a.Send(0, []byte("hi"), false, 1); err == nil {
		t.Fatalf("expected error for port 0")
	}
	if _, err := a.Send(250, []byte("hi"), false, 1); err == nil {
		t.Fatalf("expected error for port > 223 without certification enabled")
	}
}

func TestEventsBufferedWhenAsyncEventsDisabled(t *testing.T) {
	a, _ := newAdapter(t)
	a.sysconf.Set(func(c *sysconf.Config) error {
		c.AsyncEvents = false
		return nil
	})

	a.MlmeConfirm(hal.MlmeConfirmEvent{Kind: hal.MlmeLinkCheck, Margin: 10, GwCnt: 2})

	var drained []string
	a.DrainBuffered(func(s string) { drained = append(drained, s) })
	if len(drained) != 1 || drained[0] != "+ANS=2,10,2\r\n" {
		t.Fatalf("buffered event: got %v", drained)
	}

	var second []string
	a.DrainBuffered(func(s string) { second = append(second, s) })
	if len(second) != 0 {
		t.Fatalf("drain should empty the queue: got %v", second)
	}
}

func TestMcpsIndicationFormatsRecvInConfiguredDataFormat(t *testing.T) {
	a, _ := newAdapter(t)
	var got []string
	a.SetDirectSink(func(s string) { got = append(got, s) })
	a.sysconf.Set(func(c *sysconf.Config) error {
		c.DataFormat = sysconf.FormatHex
		return nil
	})

	a.McpsIndication(hal.McpsIndicationEvent{Status: hal.StatusOk, Port: 5, Payload: []byte{0xAB, 0xCD}})

	if len(got) != 1 {
		t.Fatalf("expected one +RECV line, got %v", got)
	}
	want := "+RECV=5,2\r\nabcd\r\n"
	if got[0] != want {
		t.Fatalf("got %q, want %q", got[0], want)
	}
}

func TestMcpsIndicationFramePendingQueuesZeroLengthUplink(t *testing.T) {
	a, mac := newAdapter(t)
	a.MlmeConfirm(hal.MlmeConfirmEvent{Kind: hal.MlmeJoin, Status: hal.StatusOk})

	a.McpsIndication(hal.McpsIndicationEvent{Status: hal.StatusOk, Port: 1, Payload: nil, FramePending: true})
	a.Process()

	if len(mac.sendCalls) != 1 {
		t.Fatalf("expected a queued zero-length uplink to be sent, got %d calls", len(mac.sendCalls))
	}
}
