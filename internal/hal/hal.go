// Package hal defines the hardware and MAC-library contracts the modem
// core consumes but does not implement: the LoRaWAN MAC service, the
// sub-GHz radio, the clock/timer, the raw flash device and the factory
// unique ID. Everything in this package is a trait the core is given at
// wiring time; no concrete radio or MAC stack lives here.
package hal

import (
	"context"
	"time"
)

// MacStatus is the status vocabulary returned by the MAC library on
// MCPS/MLME confirms. Names follow the MAC library's own convention
// (mirrored from the protocol status fields the teacher's wire format
// uses for acks).
type MacStatus int

const (
	StatusOk MacStatus = iota
	StatusError
	StatusTxTimeout
	StatusRxTimeout
	StatusRxError
	StatusJoinFail
	StatusDutyCycleRestricted
	StatusNoChannelFound
	StatusNoFreeChannelFound
	StatusBusy
	StatusMacCommandError
	StatusFrameCounterError
	StatusCryptoError
	StatusMicFail
)

// MlmeKind identifies which MLME service primitive a confirm/indication
// carries.
type MlmeKind int

const (
	MlmeJoin MlmeKind = iota
	MlmeLinkCheck
	MlmeScheduleUplink
	MlmeDeviceTime
	MlmePingSlotInfo
	MlmeBeaconAcquisition
)

// McpsConfirmEvent reports the outcome of an application-layer uplink.
type McpsConfirmEvent struct {
	Status         MacStatus
	Channel        uint8
	Datarate       uint8
	AckReceived    bool
	UplinkCounter  uint32
	ConfirmedAcked bool // true if this was a confirmed uplink that got acked
}

// McpsIndicationEvent reports a received downlink.
type McpsIndicationEvent struct {
	Status           MacStatus
	Port             uint8
	RxDatarate       uint8
	RSSI             int16
	SNR              float32
	DownlinkCounter  uint32
	Slot             uint8
	Payload          []byte
	FramePending     bool
	DestMulticast    bool
	MulticastGroupID uint8
}

// MlmeConfirmEvent reports the outcome of a management request.
type MlmeConfirmEvent struct {
	Kind   MlmeKind
	Status MacStatus
	Margin uint8 // valid for MlmeLinkCheck
	GwCnt  uint8 // valid for MlmeLinkCheck
}

// MlmeIndicationEvent reports an unsolicited management event.
type MlmeIndicationEvent struct {
	Kind   MlmeKind
	Status MacStatus
}

// MacObserver is the single sink for all MAC library callbacks. The
// LoRaWAN adapter (internal/lorawan) is the sole implementer; the MAC
// service holds one observer and invokes its methods synchronously on
// the main-loop goroutine.
type MacObserver interface {
	McpsConfirm(ev McpsConfirmEvent)
	McpsIndication(ev McpsIndicationEvent)
	MlmeConfirm(ev MlmeConfirmEvent)
	MlmeIndication(ev MlmeIndicationEvent)
}

// Mib identifies a management-information-base item exposed by the MAC
// service (channel mask, dwell setting, EIRP, RX2 parameters, ...).
type Mib int

const (
	MibChannelMask Mib = iota
	MibDwellTimeUplink
	MibDwellTimeDownlink
	MibMaxEIRP
	MibAdrEnabled
	MibAdrAckLimit
	MibRx2DataRate
	MibRx2Frequency
	MibRxDelay
	MibNetworkJoined
	MibDeviceClass
	MibPublicNetwork
	MibRepeaterSupport
	MibSystemMaxRetransmit
)

// TxInfo reports whether and how an uplink of a given length could be
// sent under the current channel/duty-cycle/dwell constraints.
type TxInfo struct {
	Possible   bool
	MaxSize    uint8
	DutyCycle  time.Duration // time until next TX window opens, if restricted
	StatusCode MacStatus
}

// ActivationParams carries either OTAA join parameters or ABP session
// parameters, discriminated by OTAA.
type ActivationParams struct {
	OTAA bool

	// OTAA
	JoinDatarate uint8
	JoinRetries  int

	// ABP
	DevAddr  [4]byte
	NwkSKey  [16]byte
	AppSKey  [16]byte
	NetID    [3]byte
}

// MacService is the abstract LoRaWAN MAC library. The core drives it;
// the library owns PHY framing, cryptography, ADR, and region-specific
// channel plans, none of which is implemented in this module.
type MacService interface {
	Start(ctx context.Context, observer MacObserver) error
	Stop() error

	Activate(params ActivationParams) error
	IsJoined() bool

	Send(port uint8, payload []byte, confirmed bool, retries int) (MacStatus, error)
	QueryTxPossible(length int) (TxInfo, error)
	IsBusy() bool

	MibGet(item Mib) (any, error)
	MibSet(item Mib, value any) error

	MlmeRequest(kind MlmeKind) error

	SetRegion(region string) error
	Region() string
}

// Radio is the sub-GHz transceiver driver. Out of scope for this core;
// referenced only so MacService implementations can be constructed.
type Radio interface {
	SetTxCW(freqHz uint32, powerDBm int8, timeout time.Duration) error
	SetTxConfig(freqHz uint32, powerDBm int8, bandwidthHz uint32, spreadingFactor uint8, codingRate uint8) error
}

// Clock is a monotonic millisecond clock.
type Clock interface {
	NowMs() int64
}

// Timer is a one-shot timer with a completion callback. No package in
// this module implements or uses it.
type Timer interface {
	// Start arms the timer; cb fires at most once, from the main loop.
	Start(d time.Duration, cb func())
	// Stop cancels a pending fire; returns false if it already fired.
	Stop() bool
}

// FlashDevice is a contiguous byte-addressable region with majority-of-
// five replication semantics (spec.md §4.3's "underlying byte store").
// internal/nvm builds the partitioned block on top of one FlashDevice.
type FlashDevice interface {
	Size() int
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// Unique is the factory-programmed 8-byte device identifier.
type Unique interface {
	ID() [8]byte
}
