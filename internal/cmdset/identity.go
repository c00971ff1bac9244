package cmdset

import (
	"encoding/hex"
	"fmt"

	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/lorawan"
	"github.com/agsys/atmodem/internal/sysconf"
	"github.com/agsys/atmodem/internal/sysloop"
	"github.com/agsys/atmodem/internal/usernvm"
)

// identityCommands covers identity & platform: +VER, $VER, +DEV,
// +UART, +REBOOT, +FACNEW, $HALT, +TO, +SLEEP, +DFORMAT, $LOCKKEYS,
// $NVM (spec.md §4.6).
func identityCommands(d *Deps) []atci.Command {
	return []atci.Command{
		{
			Name: "+VER",
			Hint: "firmware version and build date",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%s,%s", d.Info.Version, d.Info.Build))
				return nil
			},
		},
		{
			Name: "$VER",
			Hint: "protocol/command-set version",
			Read: func(out *atci.IO) error {
				out.OKValues(d.Info.Version)
				return nil
			},
		},
		{
			Name: "+DEV",
			Hint: "8-byte factory unique device identifier",
			Read: func(out *atci.IO) error {
				id := d.Unique.ID()
				out.OKValues(hex.EncodeToString(id[:]))
				return nil
			},
		},
		{
			Name: "+UART",
			Hint: "UART baud rate",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.Conf.Get().UartBaud))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				err := d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.UartBaud = sysconf.UartBaud(v)
					return nil
				})
				if err != nil {
					return atci.ErrInvalidValue
				}
				return nil
			},
			Test: func(out *atci.IO) error {
				out.OKValues("4800,9600,19200,38400")
				return nil
			},
		},
		{
			Name: "+REBOOT",
			Hint: "reboot, optionally immediately (=1)",
			Action: func(out *atci.IO, args string) error {
				kind := sysloop.ResetGraceful
				if args != "" {
					c := atci.NewCursor(args)
					v, ok := c.GetUint()
					if !ok || !c.Done() {
						return atci.ErrInvalidValue
					}
					if v == 1 {
						kind = sysloop.ResetImmediate
					}
				}
				d.Reset.ScheduleReset(kind)
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				kind := sysloop.ResetGraceful
				if v == 1 {
					kind = sysloop.ResetImmediate
				}
				d.Reset.ScheduleReset(kind)
				return nil
			},
		},
		{
			Name: "+FACNEW",
			Hint: "factory reset, optional flags",
			Action: func(out *atci.IO, args string) error {
				d.Conf.Reset()
				d.Lrw.SetKeys(func(k *lorawan.Keys) { *k = lorawan.Keys{} })
				d.resetRadioExtra()
				d.Reset.ScheduleReset(sysloop.ResetGraceful)
				return nil
			},
		},
		{
			Name: "$HALT",
			Hint: "halt the modem; only external reset recovers",
			Action: func(out *atci.IO, args string) error {
				d.Reset.ScheduleReset(sysloop.ResetImmediate)
				return nil
			},
		},
		{
			Name: "+TO",
			Hint: "UART timeout, milliseconds: the serial read timeout applied when the port is opened; uploads are not timed out",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.Conf.Get().UartTimeoutMs))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v == 0 || v > 65535 {
					return atci.ErrInvalidValue
				}
				return setErr(d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.UartTimeoutMs = uint16(v)
					return nil
				}))
			},
		},
		{
			Name: "+SLEEP",
			Hint: "enable/disable deep sleep when idle",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.Conf.Get().SleepAllowed))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				return setErr(d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.SleepAllowed = v
					return nil
				}))
			},
		},
		{
			Name: "+DFORMAT",
			Hint: "uplink/downlink payload encoding: 0=binary, 1=hex",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.Conf.Get().DataFormat))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 1 {
					return atci.ErrInvalidValue
				}
				return setErr(d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.DataFormat = sysconf.DataFormat(v)
					return nil
				}))
			},
		},
		{
			Name: "$LOCKKEYS",
			Hint: "permanently lock key read/write access",
			Action: func(out *atci.IO, args string) error {
				return setErr(d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.KeysLocked = true
					return nil
				}))
			},
		},
		{
			Name: "$NVM",
			Hint: "$NVM <index>[,<value>]: read/write one of the 64 user registers",
			Action: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				idx, ok := c.GetUint()
				if !ok || idx >= usernvm.NumRegisters {
					return atci.ErrInvalidValue
				}
				if c.IsComma() {
					v, ok := c.GetUint()
					if !ok || !c.Done() || v > 255 {
						return atci.ErrInvalidValue
					}
					if err := d.UserNvm.Set(int(idx), byte(v)); err != nil {
						return atci.ErrInvalidValue
					}
					return nil
				}
				if !c.Done() {
					return atci.ErrInvalidValue
				}
				v, err := d.UserNvm.Get(int(idx))
				if err != nil {
					return atci.ErrInvalidValue
				}
				out.OKValues(fmt.Sprintf("%d", v))
				return nil
			},
		},
	}
}

func setErr(err error) error {
	if err != nil {
		return atci.ErrInvalidValue
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBoolArg(args string) (bool, error) {
	c := atci.NewCursor(args)
	v, ok := c.GetUint()
	if !ok || !c.Done() || v > 1 {
		return false, atci.ErrInvalidValue
	}
	return v == 1, nil
}
