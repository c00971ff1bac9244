// Package simmac provides a software stand-in for the LoRaWAN MAC
// library hal.MacService describes. No real MAC stack or sub-GHz radio
// driver ships in this core (spec.md §1 Non-goals); cmd/atmodem wires
// this simulator in so the modem core can run end-to-end against a
// serial port without real LoRaWAN hardware on the other end of it.
//
// It plays the role the teacher's MockLoRaDriver plays in tests, but
// as a long-lived component rather than a test double: join requests
// succeed after a short simulated air-time delay, uplinks are
// acknowledged the same way, and MIB items are held in a plain map.
package simmac

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agsys/atmodem/internal/hal"
)

// Config tunes the simulator's fake air-time latencies.
type Config struct {
	JoinDelay   time.Duration
	UplinkDelay time.Duration
}

// DefaultConfig returns latencies that feel like a real gateway
// round-trip without slowing down interactive use.
func DefaultConfig() Config {
	return Config{
		JoinDelay:   300 * time.Millisecond,
		UplinkDelay: 150 * time.Millisecond,
	}
}

// Mac is a hal.MacService that simulates a join server and a
// single-channel gateway entirely in memory.
type Mac struct {
	cfg Config

	mu       sync.Mutex
	observer hal.MacObserver
	region   string
	mib      map[hal.Mib]any
	busy     bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// New builds a simulator with region as its initial MAC region name
// (matching one of cmdset's +BAND region strings).
func New(cfg Config, region string) *Mac {
	return &Mac{
		cfg:    cfg,
		region: region,
		mib: map[hal.Mib]any{
			hal.MibChannelMask:           uint32(0xFFFF),
			hal.MibDwellTimeUplink:       false,
			hal.MibDwellTimeDownlink:     false,
			hal.MibMaxEIRP:               int8(16),
			hal.MibAdrEnabled:            true,
			hal.MibAdrAckLimit:           uint8(64),
			hal.MibRx2DataRate:           uint8(0),
			hal.MibRx2Frequency:          uint32(869525000),
			hal.MibRxDelay:               uint8(1),
			hal.MibNetworkJoined:         false,
			hal.MibDeviceClass:           int(0),
			hal.MibPublicNetwork:         true,
			hal.MibRepeaterSupport:       false,
			hal.MibSystemMaxRetransmit:   uint8(8),
		},
	}
}

// Start records the observer. The simulator issues every callback
// from its own background goroutines (there being no real main-loop
// callback mechanism to hook on a host); internal/lorawan.Adapter
// guards its state with its own mutex so this is safe.
func (m *Mac) Start(ctx context.Context, observer hal.MacObserver) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.observer = observer
	m.cancel = cancel
	m.mu.Unlock()
	_ = ctx
	return nil
}

// Stop waits for the background goroutines of in-flight simulated
// exchanges to return. Those exchanges are not cut short: each runs
// to the end of its delay and still delivers its callback.
func (m *Mac) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}

// Activate simulates an OTAA join exchange or installs an ABP session
// immediately (the adapter itself marks ABP sessions joined; this
// simulator only has work to do for OTAA).
func (m *Mac) Activate(params hal.ActivationParams) error {
	if !params.OTAA {
		return nil
	}
	m.mu.Lock()
	m.busy = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(m.cfg.JoinDelay)
		m.mu.Lock()
		m.busy = false
		obs := m.observer
		m.mib[hal.MibNetworkJoined] = true
		m.mu.Unlock()
		if obs != nil {
			log.Printf("simmac: join accepted")
			obs.MlmeConfirm(hal.MlmeConfirmEvent{Kind: hal.MlmeJoin, Status: hal.StatusOk})
		}
	}()
	return nil
}

// IsJoined is never consulted by internal/lorawan (it tracks join
// state itself) but is part of the hal.MacService contract.
func (m *Mac) IsJoined() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	joined, _ := m.mib[hal.MibNetworkJoined].(bool)
	return joined
}

// Send simulates handing an uplink to the radio: it reports StatusOk
// synchronously (accepted for transmission) and, after UplinkDelay,
// delivers the confirm — and, for confirmed uplinks, an ack — through
// the observer.
func (m *Mac) Send(port uint8, payload []byte, confirmed bool, retries int) (hal.MacStatus, error) {
	m.mu.Lock()
	m.busy = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(m.cfg.UplinkDelay)
		m.mu.Lock()
		m.busy = false
		obs := m.observer
		m.mu.Unlock()
		if obs != nil {
			obs.McpsConfirm(hal.McpsConfirmEvent{
				Status:         hal.StatusOk,
				AckReceived:    confirmed,
				ConfirmedAcked: confirmed,
			})
		}
	}()
	return hal.StatusOk, nil
}

// QueryTxPossible always reports a fixed 51-byte ceiling, whatever the
// region or data rate.
func (m *Mac) QueryTxPossible(length int) (hal.TxInfo, error) {
	const maxSize = 51
	return hal.TxInfo{Possible: length <= maxSize, MaxSize: maxSize, StatusCode: hal.StatusOk}, nil
}

// IsBusy reports whether a simulated join or uplink exchange is
// in flight.
func (m *Mac) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

func (m *Mac) MibGet(item hal.Mib) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mib[item], nil
}

func (m *Mac) MibSet(item hal.Mib, value any) error {
	m.mu.Lock()
	m.mib[item] = value
	m.mu.Unlock()
	return nil
}

// MlmeRequest simulates the management-plane primitives: a link check
// answers with a fixed margin/gateway count, device-time and
// ping-slot/beacon requests confirm as successful; every confirm
// arrives after UplinkDelay.
func (m *Mac) MlmeRequest(kind hal.MlmeKind) error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(m.cfg.UplinkDelay)
		m.mu.Lock()
		obs := m.observer
		m.mu.Unlock()
		if obs == nil {
			return
		}
		switch kind {
		case hal.MlmeLinkCheck:
			obs.MlmeConfirm(hal.MlmeConfirmEvent{Kind: kind, Status: hal.StatusOk, Margin: 20, GwCnt: 1})
		default:
			obs.MlmeConfirm(hal.MlmeConfirmEvent{Kind: kind, Status: hal.StatusOk})
		}
	}()
	return nil
}

// SetRegion switches the simulator's region name. Unlike a real MAC
// library it never rejects a region it doesn't recognize; cmdset's
// +BAND handler is the one place an unsupported code is refused
// (lookup against its own region table before this is ever called).
func (m *Mac) SetRegion(region string) error {
	m.mu.Lock()
	m.region = region
	m.mu.Unlock()
	return nil
}

func (m *Mac) Region() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.region
}

var _ hal.MacService = (*Mac)(nil)
