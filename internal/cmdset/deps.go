package cmdset

import (
	"sync"

	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/hal"
	"github.com/agsys/atmodem/internal/lorawan"
	"github.com/agsys/atmodem/internal/nvm"
	"github.com/agsys/atmodem/internal/sysconf"
	"github.com/agsys/atmodem/internal/sysloop"
	"github.com/agsys/atmodem/internal/usernvm"
)

// Activation mode values for +MODE / radioExtra.activationMode.
const (
	activationModeABP  uint8 = 0
	activationModeOTAA uint8 = 1
)

// BuildInfo carries the two static values AT+VER reports.
type BuildInfo struct {
	Version string
	Build   string
}

// Resetter is the subset of internal/sysloop.Supervisor used to arm a
// reset from a command handler (+REBOOT, +BAND, +FACNEW).
type Resetter interface {
	ScheduleReset(kind sysloop.ResetKind)
}

// Deps bundles every collaborator the command catalogue dispatches
// into. cmd/atmodem constructs one Deps per device and passes it to
// Build.
type Deps struct {
	Conf    *sysconf.Store
	Lrw     *lorawan.Adapter
	Table   *nvm.Table
	Unique  hal.Unique
	Reset   Resetter
	Parser  *atci.Parser
	Info    BuildInfo
	UserNvm *usernvm.Store

	mu    sync.Mutex
	radio radioExtra
}

// radioExtra holds the region/radio knobs spec.md describes that have
// no corresponding hal.Mib entry (the MAC library interface models
// only the items the teacher's domain needed); cmdset owns them as
// plain validated fields, mirroring how sysconf owns its own record.
type radioExtra struct {
	rfPowerDBm    int8
	fixedDR       int8 // -1 means ADR-managed, no fixed DR requested
	publicNetwork bool
	netID         [3]byte
	dutyCycleOn   bool
	rssiThreshold int16
	csThresholdDB int8
	joinDR        uint8
	joinTries     uint8
	joinDC        bool
	repeaterCount uint8
	frameCounter  uint32
	maxPayload    uint8
	rfq           int8
	backoffS      uint16
	pendingLinkChecks int
	certModeOn    bool
	continuousWave bool
	mcastOn       bool
	lastDevTime   int64
	activationMode uint8
}

func defaultRadioExtra() radioExtra {
	return radioExtra{
		rfPowerDBm:    14,
		fixedDR:       -1,
		publicNetwork: true,
		dutyCycleOn:   true,
		rssiThreshold: -120,
		csThresholdDB: -80,
		joinDR:        0,
		joinTries:     9,
		maxPayload:    242,
		backoffS:      30,
		activationMode: activationModeOTAA,
	}
}

// NewDeps wires a Deps with its radio defaults initialized; every
// other field is the caller's collaborator.
func NewDeps(conf *sysconf.Store, lrw *lorawan.Adapter, table *nvm.Table, unique hal.Unique, reset Resetter, parser *atci.Parser, info BuildInfo, userNvm *usernvm.Store) *Deps {
	return &Deps{
		Conf:    conf,
		Lrw:     lrw,
		Table:   table,
		Unique:  unique,
		Reset:   reset,
		Parser:  parser,
		Info:    info,
		UserNvm: userNvm,
		radio:   defaultRadioExtra(),
	}
}

func (d *Deps) resetRadioExtra() {
	d.mu.Lock()
	d.radio = defaultRadioExtra()
	d.mu.Unlock()
}

func (d *Deps) withRadio(f func(r *radioExtra)) {
	d.mu.Lock()
	f(&d.radio)
	d.mu.Unlock()
}

func (d *Deps) radioSnapshot() radioExtra {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.radio
}
