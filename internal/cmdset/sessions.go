package cmdset

import (
	"errors"
	"fmt"

	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/hal"
	"github.com/agsys/atmodem/internal/lorawan"
	"github.com/agsys/atmodem/internal/sysconf"
)

// sessionCommands covers sessions & traffic: +JOIN, +JOINDC, +LNCHECK,
// $DEVTIME, +PORT, +UTX, +CTX, +PUTX, +PCTX, +MCAST, +FRMCNT, +MSIZE,
// +RFQ, +BACKOFF, $SESSION, $ACTIVATED, $PING, $CERT, $CW, $CM, $TIME
// (spec.md §4.6).
func sessionCommands(d *Deps) []atci.Command {
	joinHandler := func(out *atci.IO, args string) error {
		if d.radioSnapshot().activationMode == activationModeABP {
			if args != "" {
				return ErrOnlyValidInOTAA
			}
			status, err := d.Lrw.Activate(hal.ActivationParams{OTAA: false})
			return activationErr(status, err)
		}

		dr := d.radioSnapshot().joinDR
		tries := d.radioSnapshot().joinTries
		if args != "" {
			c := atci.NewCursor(args)
			v, ok := c.GetUint()
			if !ok {
				return atci.ErrInvalidValue
			}
			dr = uint8(v)
			if c.IsComma() {
				t, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				tries = uint8(t)
			} else if !c.Done() {
				return atci.ErrInvalidValue
			}
		}
		status, err := d.Lrw.Activate(hal.ActivationParams{OTAA: true, JoinDatarate: dr, JoinRetries: int(tries)})
		return activationErr(status, err)
	}

	return []atci.Command{
		{Name: "+JOIN", Hint: "+JOIN[=<dr>[,<tries>]]: begin OTAA join", Action: joinHandler, Set: joinHandler},
		{
			Name: "+JOINDC",
			Hint: "enable/disable join duty-cycle backoff",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.radioSnapshot().joinDC))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				d.withRadio(func(r *radioExtra) { r.joinDC = v })
				return nil
			},
		},
		{
			Name: "+LNCHECK",
			Hint: "request a link check on the next uplink",
			Action: func(out *atci.IO, args string) error {
				var full bool
				d.withRadio(func(r *radioExtra) {
					full = r.pendingLinkChecks >= 1
					if !full {
						r.pendingLinkChecks++
					}
				})
				if full {
					return ErrTooManyLinkChecks
				}
				if !d.Lrw.IsJoined() {
					d.withRadio(func(r *radioExtra) {
						if r.pendingLinkChecks > 0 {
							r.pendingLinkChecks--
						}
					})
					return ErrNotJoined
				}
				if err := d.Lrw.MlmeRequest(hal.MlmeLinkCheck); err != nil {
					d.withRadio(func(r *radioExtra) {
						if r.pendingLinkChecks > 0 {
							r.pendingLinkChecks--
						}
					})
					return atci.ErrInvalidValue
				}
				return nil
			},
		},
		{
			Name: "$DEVTIME",
			Hint: "request the network's device-time answer",
			Action: func(out *atci.IO, args string) error {
				if !d.Lrw.IsJoined() {
					return ErrNotJoined
				}
				return setErr(d.Lrw.MlmeRequest(hal.MlmeDeviceTime))
			},
		},
		{
			Name: "+PORT",
			Hint: "default application port for +UTX/+CTX",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.Conf.Get().DefaultPort))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v < 1 || v > 223 {
					return atci.ErrInvalidValue
				}
				return setErr(d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.DefaultPort = uint8(v)
					return nil
				}))
			},
		},
		{Name: "+UTX", Hint: "+UTX <len>: unconfirmed uplink on the default port", Action: uploadHandler(d, false, false)},
		{Name: "+CTX", Hint: "+CTX <len>: confirmed uplink on the default port", Action: uploadHandler(d, true, false)},
		{Name: "+PUTX", Hint: "+PUTX <port>,<len>: unconfirmed uplink on an explicit port", Action: uploadHandler(d, false, true)},
		{Name: "+PCTX", Hint: "+PCTX <port>,<len>: confirmed uplink on an explicit port", Action: uploadHandler(d, true, true)},
		{
			Name: "+MCAST",
			Hint: "enable/disable multicast delivery handling",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.radioSnapshot().mcastOn))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				d.withRadio(func(r *radioExtra) { r.mcastOn = v })
				return nil
			},
		},
		{
			Name: "+FRMCNT",
			Hint: "uplink frame counter (debug/read-only in this core)",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.radioSnapshot().frameCounter))
				return nil
			},
		},
		{
			Name: "+MSIZE",
			Hint: "maximum uplink payload size for the current datarate",
			Read: func(out *atci.IO) error {
				info, err := d.Lrw.QueryTxPossible(int(d.radioSnapshot().maxPayload))
				if err != nil {
					return atci.ErrInvalidValue
				}
				out.OKValues(fmt.Sprintf("%d", info.MaxSize))
				return nil
			},
		},
		{
			Name: "+RFQ",
			Hint: "downlink RSSI/SNR quality indicator; not updated from received downlinks, reads 0",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.radioSnapshot().rfq))
				return nil
			},
		},
		{
			Name: "+BACKOFF",
			Hint: "join/uplink retry backoff, seconds",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.radioSnapshot().backoffS))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 65535 {
					return atci.ErrInvalidValue
				}
				d.withRadio(func(r *radioExtra) { r.backoffS = uint16(v) })
				return nil
			},
		},
		{
			Name: "$SESSION",
			Hint: "session counters: join attempts, join successes, uplinks, acks, downlinks",
			Read: func(out *atci.IO) error {
				s := d.Lrw.Stats()
				out.OKValues(fmt.Sprintf("%d,%d,%d,%d,%d", s.JoinAttempts, s.JoinSuccesses, s.UplinksSent, s.UplinksAcked, s.DownlinksRecv))
				return nil
			},
		},
		{
			Name: "$ACTIVATED",
			Hint: "current join state",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.Lrw.IsJoined()))
				return nil
			},
		},
		{
			Name: "$PING",
			Hint: "liveness check: always returns +OK",
			Action: func(out *atci.IO, args string) error { return nil },
		},
		{
			Name: "$CERT",
			Hint: "enable/disable certification-port handling: <port>,<0|1>",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.radioSnapshot().certModeOn))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				port, ok := c.GetUint()
				if !ok || !c.IsComma() || port < 1 || port > 223 {
					return atci.ErrInvalidValue
				}
				en, ok := c.GetUint()
				if !ok || !c.Done() || en > 1 {
					return atci.ErrInvalidValue
				}
				d.Lrw.SetCertificationPort(uint8(port), en == 1)
				d.withRadio(func(r *radioExtra) { r.certModeOn = en == 1 })
				return nil
			},
		},
		{
			Name: "$CW",
			Hint: "enable/disable continuous-wave test mode",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.radioSnapshot().continuousWave))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				d.withRadio(func(r *radioExtra) { r.continuousWave = v })
				return nil
			},
		},
		{
			Name: "$CM",
			Hint: "device class: 0=A, 1=B, 2=C",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.Lrw.Class()))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 2 {
					return atci.ErrInvalidValue
				}
				return setErr(d.Lrw.SetClass(lorawan.Class(v)))
			},
		},
		{
			Name: "$TIME",
			Hint: "device-time, seconds since GPS epoch; not updated from device-time answers, reads 0",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.radioSnapshot().lastDevTime))
				return nil
			},
		},
	}
}

func activationErr(status hal.MacStatus, err error) error {
	if err == nil {
		if status != hal.StatusOk {
			return translateStatus(status)
		}
		return nil
	}
	switch {
	case errors.Is(err, lorawan.ErrAlreadyJoined):
		return ErrAlreadyJoined
	case errors.Is(err, lorawan.ErrNotJoined):
		return ErrNotJoined
	case errors.Is(err, lorawan.ErrEmptyPayload):
		return ErrPayloadTooLong
	case errors.Is(err, lorawan.ErrInvalidPort):
		return atci.ErrInvalidValue
	default:
		return translateStatus(status)
	}
}

// uploadHandler builds the +UTX/+CTX/+PUTX/+PCTX action: it parses the
// length (and, for the port-taking variants, a leading port), arms the
// upload sub-protocol, and defers the reply until the payload has
// actually been received and submitted (spec.md §8 scenario 4).
func uploadHandler(d *Deps, confirmed bool, explicitPort bool) func(out *atci.IO, args string) error {
	return func(out *atci.IO, args string) error {
		c := atci.NewCursor(args)
		port := d.Conf.Get().DefaultPort
		if explicitPort {
			p, ok := c.GetUint()
			if !ok || !c.IsComma() || p < 1 || p > 223 {
				return atci.ErrInvalidValue
			}
			port = uint8(p)
		}
		length, ok := c.GetUint()
		if !ok || !c.Done() {
			return atci.ErrInvalidValue
		}
		maxLen := uint32(d.radioSnapshot().maxPayload)
		if length > maxLen {
			return ErrPayloadTooLong
		}

		cfg := d.Conf.Get()
		encoding := atci.EncodingBinary
		if cfg.DataFormat == sysconf.FormatHex {
			encoding = atci.EncodingHex
		}
		retries := int(cfg.UnconfirmedRetx)
		if confirmed {
			retries = int(cfg.ConfirmedRetx)
		}

		armErr := d.Parser.Arm(int(length), encoding, func(result atci.UploadResult, payload []byte) {
			switch result {
			case atci.UploadAborted:
				return
			case atci.UploadEncodingError:
				writeReply(out, d, atci.ErrInvalidValue)
				return
			}
			status, err := d.Lrw.Send(port, payload, confirmed, retries)
			if err == nil && status == hal.StatusOk {
				d.withRadio(func(r *radioExtra) { r.frameCounter++ })
			}
			writeReply(out, d, activationErr(status, err))
		})
		if armErr != nil {
			return ErrPayloadTooLong
		}
		return atci.Deferred
	}
}

// writeReply renders a deferred command's final +OK/+ERR line,
// draining any events buffered while async_events was false first
// (the same ordering the dispatcher enforces for non-deferred
// commands).
func writeReply(out *atci.IO, d *Deps, err error) {
	d.Lrw.DrainBuffered(out.Event)
	if err == nil {
		out.Print("+OK\r\n\r\n")
		return
	}
	code, ok := err.(atci.Code)
	if !ok {
		code = atci.ErrInvalidValue
	}
	out.Printf("+ERR=%d\r\n\r\n", int(code))
}
