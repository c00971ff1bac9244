package simmac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agsys/atmodem/internal/hal"
)

// recordingObserver captures every callback the simulator fires, safe
// for the simulator's own background goroutines to write to.
type recordingObserver struct {
	mu          sync.Mutex
	mlmeConfirm []hal.MlmeConfirmEvent
	mcpsConfirm []hal.McpsConfirmEvent
}

func (o *recordingObserver) McpsConfirm(ev hal.McpsConfirmEvent) {
	o.mu.Lock()
	o.mcpsConfirm = append(o.mcpsConfirm, ev)
	o.mu.Unlock()
}
func (o *recordingObserver) McpsIndication(hal.McpsIndicationEvent) {}
func (o *recordingObserver) MlmeConfirm(ev hal.MlmeConfirmEvent) {
	o.mu.Lock()
	o.mlmeConfirm = append(o.mlmeConfirm, ev)
	o.mu.Unlock()
}
func (o *recordingObserver) MlmeIndication(hal.MlmeIndicationEvent) {}

func (o *recordingObserver) mlmeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.mlmeConfirm)
}

func (o *recordingObserver) mcpsCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.mcpsConfirm)
}

func fastConfig() Config {
	return Config{JoinDelay: 5 * time.Millisecond, UplinkDelay: 5 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestActivateOTAAEventuallyConfirmsJoin(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	obs := &recordingObserver{}
	if err := mac.Start(context.Background(), obs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mac.Stop()

	if err := mac.Activate(hal.ActivationParams{OTAA: true}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !mac.IsBusy() {
		t.Fatalf("expected IsBusy() during the simulated join")
	}
	waitFor(t, func() bool { return obs.mlmeCount() == 1 })
	if obs.mlmeConfirm[0].Kind != hal.MlmeJoin || obs.mlmeConfirm[0].Status != hal.StatusOk {
		t.Fatalf("got %+v", obs.mlmeConfirm[0])
	}
	if mac.IsBusy() {
		t.Fatalf("expected IsBusy() false once the join confirm fired")
	}
}

func TestActivateABPNeverCallsObserver(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	obs := &recordingObserver{}
	if err := mac.Start(context.Background(), obs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mac.Stop()

	if err := mac.Activate(hal.ActivationParams{OTAA: false}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if obs.mlmeCount() != 0 {
		t.Fatalf("ABP activation should not simulate a join exchange")
	}
}

func TestSendConfirmsAndAcksWhenConfirmed(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	obs := &recordingObserver{}
	if err := mac.Start(context.Background(), obs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mac.Stop()

	status, err := mac.Send(1, []byte("hi"), true, 1)
	if err != nil || status != hal.StatusOk {
		t.Fatalf("Send: status=%v err=%v", status, err)
	}
	waitFor(t, func() bool { return obs.mcpsCount() == 1 })
	ev := obs.mcpsConfirm[0]
	if !ev.AckReceived || !ev.ConfirmedAcked {
		t.Fatalf("expected a confirmed uplink to ack, got %+v", ev)
	}
}

func TestMlmeRequestLinkCheckReportsMarginAndGwCnt(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	obs := &recordingObserver{}
	if err := mac.Start(context.Background(), obs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mac.Stop()

	if err := mac.MlmeRequest(hal.MlmeLinkCheck); err != nil {
		t.Fatalf("MlmeRequest: %v", err)
	}
	waitFor(t, func() bool { return obs.mlmeCount() == 1 })
	ev := obs.mlmeConfirm[0]
	if ev.Kind != hal.MlmeLinkCheck || ev.GwCnt == 0 {
		t.Fatalf("got %+v", ev)
	}
}

func TestSetRegionAndRegionRoundtrip(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	if got := mac.Region(); got != "EU868" {
		t.Fatalf("got %q", got)
	}
	if err := mac.SetRegion("US915"); err != nil {
		t.Fatalf("SetRegion: %v", err)
	}
	if got := mac.Region(); got != "US915" {
		t.Fatalf("got %q", got)
	}
}

func TestMibGetSetRoundtrip(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	if err := mac.MibSet(hal.MibDeviceClass, 2); err != nil {
		t.Fatalf("MibSet: %v", err)
	}
	v, err := mac.MibGet(hal.MibDeviceClass)
	if err != nil || v.(int) != 2 {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestQueryTxPossibleRespectsCeiling(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	info, err := mac.QueryTxPossible(40)
	if err != nil || !info.Possible {
		t.Fatalf("expected a 40-byte uplink to be possible, got %+v, %v", info, err)
	}
	info, err = mac.QueryTxPossible(200)
	if err != nil || info.Possible {
		t.Fatalf("expected a 200-byte uplink to be refused, got %+v, %v", info, err)
	}
}

func TestStopWaitsForInFlightExchanges(t *testing.T) {
	mac := New(fastConfig(), "EU868")
	obs := &recordingObserver{}
	if err := mac.Start(context.Background(), obs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := mac.Send(1, []byte("x"), false, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := mac.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if mac.IsBusy() {
		t.Fatalf("expected IsBusy() false after Stop")
	}
}
