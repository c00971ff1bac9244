package cmdset

import (
	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/hal"
)

// macStatusCode is the fixed MAC-status-to-ATCI-code mapping (spec.md
// §4.6 "MAC-status-to-code mapping is a fixed table"). StatusOk never
// appears here; callers check it before consulting the table.
var macStatusCode = map[hal.MacStatus]atci.Code{
	hal.StatusError:                 ErrBusy,
	hal.StatusTxTimeout:             ErrBusy,
	hal.StatusRxTimeout:             ErrBusy,
	hal.StatusRxError:               ErrBusy,
	hal.StatusJoinFail:              ErrNotJoined,
	hal.StatusDutyCycleRestricted:   ErrDutyCycleRestricted,
	hal.StatusNoChannelFound:        ErrNoFreeChannel,
	hal.StatusNoFreeChannelFound:    ErrNoFreeChannel,
	hal.StatusBusy:                  ErrBusy,
	hal.StatusMacCommandError:       ErrNotSupportedInRegion,
	hal.StatusFrameCounterError:     ErrReattachDenied,
	hal.StatusCryptoError:           ErrKeyAccessDenied,
	hal.StatusMicFail:               ErrKeyAccessDenied,
}

// translateStatus maps a non-OK MacStatus to its host-facing code,
// defaulting to ErrBusy for any status the table doesn't name
// explicitly (new library status values fail closed rather than
// silently succeeding).
func translateStatus(status hal.MacStatus) atci.Code {
	if code, ok := macStatusCode[status]; ok {
		return code
	}
	return ErrBusy
}
