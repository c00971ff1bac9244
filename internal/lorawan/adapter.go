// Package lorawan bridges the ATCI command set to the LoRaWAN MAC
// service: it is the sole implementer of hal.MacObserver, owns
// activation and session identity, and translates MAC callbacks into
// the host-facing "+EVENT"/"+RECV"/"+ANS"/"+ACK" vocabulary.
package lorawan

import (
	"context"
	"fmt"
	"sync"

	"github.com/agsys/atmodem/internal/hal"
	"github.com/agsys/atmodem/internal/nvm"
	"github.com/agsys/atmodem/internal/sysconf"
)

// Class is the LoRaWAN end-device class.
type Class int

const (
	ClassA Class = iota
	ClassB
	ClassC
)

// Adapter implements hal.MacObserver and carries every LoRaWAN-facing
// operation the command set drives: activation, uplinks, MIB
// wrappers, and class switching.
type Adapter struct {
	mu sync.Mutex

	mac     hal.MacService
	sysconf *sysconf.Store
	keys    *keyStore

	joined         bool
	class          Class
	channelMask    uint32
	certPort       uint8
	certEnabled    bool
	queuedUplink  bool // a zero-length uplink is owed (FramePending / ScheduleUplink)
	lastLinkCheck hal.MlmeConfirmEvent
	events        eventQueue
	directSink    func(string)
	stats         Stats
}

// Stats supplements spec.md §4.7 for the "$SESSION" debug family.
type Stats struct {
	JoinAttempts     uint32
	JoinSuccesses    uint32
	UplinksSent      uint32
	UplinksAcked     uint32
	DownlinksRecv    uint32
}

// New builds an adapter over mac, loading persisted key/identity state
// from table (partition "crypto").
func New(mac hal.MacService, conf *sysconf.Store, table *nvm.Table) (*Adapter, error) {
	ks, err := openKeyStore(table)
	if err != nil {
		return nil, fmt.Errorf("lorawan: open key store: %w", err)
	}
	a := &Adapter{mac: mac, sysconf: conf, keys: ks, class: ClassA, channelMask: 0xFFFF}
	return a, nil
}

// Start registers the adapter as the MAC service's observer.
func (a *Adapter) Start(ctx context.Context) error {
	return a.mac.Start(ctx, a)
}

// FlushKeys persists any pending key/identity changes; called once
// per main-loop pass alongside SysConf.Flush.
func (a *Adapter) FlushKeys() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keys.flush()
}

// Keys returns a copy of the persisted identity/key record.
func (a *Adapter) Keys() Keys {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keys.get()
}

// SetKeys applies a mutation under lock and marks the record dirty.
func (a *Adapter) SetKeys(mutate func(*Keys)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys.set(mutate)
}

// IsJoined reports whether the device has an active session.
func (a *Adapter) IsJoined() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined
}

// Stats returns a snapshot of the session counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Activate drives OTAA join or ABP session install depending on
// params.OTAA (spec.md §4.7 "Activation"). Status codes from the MAC
// library are the caller's (cmdset's) job to translate.
func (a *Adapter) Activate(params hal.ActivationParams) (hal.MacStatus, error) {
	a.mu.Lock()
	if a.joined && params.OTAA {
		a.mu.Unlock()
		return hal.StatusError, ErrAlreadyJoined
	}
	a.mu.Unlock()

	if !params.OTAA {
		keys := a.Keys()
		params.DevAddr = keys.DevAddr
		params.NwkSKey = keys.NwkSKey
		params.AppSKey = keys.AppSKey
		params.NetID = keys.NetID
	} else {
		a.mu.Lock()
		a.stats.JoinAttempts++
		a.mu.Unlock()
	}

	if err := a.mac.Activate(params); err != nil {
		return hal.StatusError, err
	}
	if !params.OTAA {
		a.mu.Lock()
		a.joined = true
		a.mu.Unlock()
	}
	return hal.StatusOk, nil
}

// Send validates the port and submits an uplink, translating the MAC
// status back to the caller (spec.md §4.7 "Uplink").
func (a *Adapter) Send(port uint8, payload []byte, confirmed bool, retries int) (hal.MacStatus, error) {
	a.mu.Lock()
	joined := a.joined
	cert := a.certEnabled && port == a.certPort
	a.mu.Unlock()

	if !joined {
		return hal.StatusError, ErrNotJoined
	}
	if port < 1 || (port > 223 && !cert) {
		return hal.StatusError, ErrInvalidPort
	}
	if len(payload) == 0 {
		return hal.StatusError, ErrEmptyPayload
	}
	status, err := a.mac.Send(port, payload, confirmed, retries)
	if err == nil && status == hal.StatusOk {
		a.mu.Lock()
		a.stats.UplinksSent++
		a.mu.Unlock()
	}
	return status, err
}

// SetClass requests a device class switch. Every class, B included,
// is written to the MAC's device-class MIB item and recorded at once
// if the MAC accepts it; beacon acquisition and ping-slot negotiation
// for class B are left to the MAC library.
func (a *Adapter) SetClass(c Class) error {
	if err := a.mac.MibSet(hal.MibDeviceClass, int(c)); err != nil {
		return err
	}
	a.mu.Lock()
	a.class = c
	a.mu.Unlock()
	return nil
}

// Class returns the last device class the MAC accepted through SetClass.
func (a *Adapter) Class() Class {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.class
}

// MibGet/MibSet are transparent wrappers over the MAC MIB (spec.md
// §4.7 "Dwell/EIRP/channel-mask"): out-of-range region values surface
// as the MAC library's own status through the error return; cmdset
// maps library errors it recognizes to -17.
func (a *Adapter) MibGet(item hal.Mib) (any, error) {
	return a.mac.MibGet(item)
}

func (a *Adapter) MibSet(item hal.Mib, value any) error {
	return a.mac.MibSet(item, value)
}

// SetChannelMask requests a channel-mask change and, on success,
// records it as the configured mask so a later OTAA join can restore
// it (mlme_confirm(Join) success path, spec.md §4.7 "restore
// configured class and channel mask").
func (a *Adapter) SetChannelMask(mask uint32) error {
	if err := a.mac.MibSet(hal.MibChannelMask, mask); err != nil {
		return err
	}
	a.mu.Lock()
	a.channelMask = mask
	a.mu.Unlock()
	return nil
}

// IsBusy reports whether the MAC is mid-transmission.
func (a *Adapter) IsBusy() bool {
	return a.mac.IsBusy()
}

// MlmeRequest submits a management-plane request (link check, device
// time, ping-slot info, beacon acquisition) that completes
// asynchronously through MlmeConfirm/MlmeIndication.
func (a *Adapter) MlmeRequest(kind hal.MlmeKind) error {
	return a.mac.MlmeRequest(kind)
}

// QueryTxPossible reports whether an uplink of length bytes could be
// sent right now under the current channel/duty-cycle/dwell state.
func (a *Adapter) QueryTxPossible(length int) (hal.TxInfo, error) {
	return a.mac.QueryTxPossible(length)
}

// Region returns the MAC library's currently configured region name.
func (a *Adapter) Region() string {
	return a.mac.Region()
}

// SetRegion requests a region switch. Callers (cmdset's +BAND handler)
// compare Region() before and after the call to decide
// whether the band-change policy's factory-reset-and-reboot applies.
func (a *Adapter) SetRegion(region string) error {
	return a.mac.SetRegion(region)
}

// Process runs once per main-loop pass: it submits any queued
// zero-length uplink (from FramePending or ScheduleUplink) if the MAC
// isn't busy.
func (a *Adapter) Process() {
	a.mu.Lock()
	needsUplink := a.queuedUplink && !a.mac.IsBusy()
	if needsUplink {
		a.queuedUplink = false
	}
	a.mu.Unlock()

	if needsUplink {
		a.mac.Send(0, nil, false, 0)
	}
}

// SetCertificationPort enables/disables certification-port handling
// (spec.md §4.7 "demultiplex by port: certification-port handling if
// enabled").
func (a *Adapter) SetCertificationPort(port uint8, enabled bool) {
	a.mu.Lock()
	a.certPort = port
	a.certEnabled = enabled
	a.mu.Unlock()
}

// Sentinel errors Activate/Send return for conditions cmdset maps to
// their own stable codes (ErrNotJoined -> -5, ErrAlreadyJoined -> -6,
// ErrInvalidPort has no taxonomy entry of its own and surfaces as the
// generic -3 invalid-value code).
var (
	ErrNotJoined     = adapterError("lorawan: not joined")
	ErrAlreadyJoined = adapterError("lorawan: already joined")
	ErrInvalidPort   = adapterError("lorawan: invalid port")
	ErrEmptyPayload  = adapterError("lorawan: empty payload on an application port")
)

type adapterError string

func (e adapterError) Error() string { return string(e) }
