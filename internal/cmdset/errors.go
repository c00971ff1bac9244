// Package cmdset is the mandatory AT command catalogue: argument
// validation, dispatch into internal/lorawan and internal/sysconf, and
// the fixed MAC-status-to-error-code mapping. It extends atci.Code with
// the rest of the host-facing error taxonomy rather than defining a
// parallel error type, so internal/atci's dispatcher can keep treating
// every handler error the same way.
package cmdset

import "github.com/agsys/atmodem/internal/atci"

// Handler-level error codes (spec.md §4.6 taxonomy entries -4..-51).
// -1..-3 are owned by internal/atci itself (parse-time failures).
const (
	ErrFactoryResetFailed atci.Code = -4
	ErrNotJoined          atci.Code = -5
	ErrAlreadyJoined      atci.Code = -6
	ErrBusy               atci.Code = -7

	// -8..-11: firmware-update family. No SPEC_FULL component performs
	// OTA firmware updates (spec.md Non-goals), so these codes are
	// reserved but never returned by any handler in this catalogue.
	ErrUpdateReserved8  atci.Code = -8
	ErrUpdateReserved9  atci.Code = -9
	ErrUpdateReserved10 atci.Code = -10
	ErrUpdateReserved11 atci.Code = -11

	ErrPayloadTooLong       atci.Code = -12
	ErrOnlyValidInABP       atci.Code = -13
	ErrOnlyValidInOTAA      atci.Code = -14
	ErrRegionNotSupported   atci.Code = -15
	ErrTxPowerTooHigh       atci.Code = -16
	ErrNotSupportedInRegion atci.Code = -17
	ErrDutyCycleRestricted  atci.Code = -18
	ErrNoFreeChannel        atci.Code = -19
	ErrTooManyLinkChecks    atci.Code = -20

	ErrKeyAccessDenied  atci.Code = -50
	ErrReattachDenied   atci.Code = -51
)
