package cmdset

import (
	"fmt"

	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/hal"
	"github.com/agsys/atmodem/internal/sysconf"
	"github.com/agsys/atmodem/internal/sysloop"
)

// regionNames maps the +BAND numeric code to the MAC library's region
// identifier string. 255 is reserved as "invalid" (spec.md §8 scenario
// 5: "AT+BAND=255" -> -15).
var regionNames = map[uint32]string{
	0: "EU868",
	1: "US915",
	2: "AU915",
	3: "AS923",
	4: "CN470",
	5: "KR920",
	6: "IN865",
	7: "RU864",
}

func regionCode(name string) (uint32, bool) {
	for code, n := range regionNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// regionCommands covers region & radio: +BAND, +DR/$DR, +RFPOWER/
// $RFPOWER, +NWK, +CHMASK/$CHMASK, +RFPARAM, +DUTYCYCLE, +DWELL,
// +MAXEIRP, +ADR, +ADRACK, +DELAY, +RX2/$RX2, +REP, +RTYNUM, +RSSITH,
// +CST (spec.md §4.6).
func regionCommands(d *Deps) []atci.Command {
	return []atci.Command{
		{
			Name: "+BAND",
			Hint: "LoRaWAN region, by numeric code",
			Read: func(out *atci.IO) error {
				code, ok := regionCode(d.Lrw.Region())
				if !ok {
					return atci.ErrInvalidValue
				}
				out.OKValues(fmt.Sprintf("%d", code))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				name, ok := regionNames[v]
				if !ok {
					return ErrRegionNotSupported
				}
				prior := d.Lrw.Region()
				if err := d.Lrw.SetRegion(name); err != nil {
					return ErrRegionNotSupported
				}
				if name != prior {
					// Band change policy (spec.md §4.6): a real region switch
					// invalidates session, channel plan and calibration state,
					// so it forces a factory reset and a scheduled reboot
					// after this reply is flushed.
					d.Conf.Reset()
					d.resetRadioExtra()
					d.Reset.ScheduleReset(sysloop.ResetGraceful)
				}
				return nil
			},
		},
		{
			Name: "+DR",
			Hint: "fixed uplink data rate, or ADR-managed if unset",
			Read: func(out *atci.IO) error {
				r := d.radioSnapshot()
				if r.fixedDR < 0 {
					out.OKValues("-1")
				} else {
					out.OKValues(fmt.Sprintf("%d", r.fixedDR))
				}
				return nil
			},
			Set: intField(d, -1, 15, func(r *radioExtra, v int32) { r.fixedDR = int8(v) }),
		},
		{Name: "$DR", Hint: "alias of +DR", Read: readIntField(d, func(r radioExtra) int32 { return int32(r.fixedDR) }),
			Set: intField(d, -1, 15, func(r *radioExtra, v int32) { r.fixedDR = int8(v) })},
		{
			Name: "+RFPOWER",
			Hint: "TX power, dBm",
			Read: readIntField(d, func(r radioExtra) int32 { return int32(r.rfPowerDBm) }),
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetInt()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				if v > 30 {
					return ErrTxPowerTooHigh
				}
				d.withRadio(func(r *radioExtra) { r.rfPowerDBm = int8(v) })
				return nil
			},
		},
		{Name: "$RFPOWER", Hint: "alias of +RFPOWER", Read: readIntField(d, func(r radioExtra) int32 { return int32(r.rfPowerDBm) }),
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetInt()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				if v > 30 {
					return ErrTxPowerTooHigh
				}
				d.withRadio(func(r *radioExtra) { r.rfPowerDBm = int8(v) })
				return nil
			}},
		{
			Name: "+NWK",
			Hint: "network type: 0=private, 1=public sync word",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.radioSnapshot().publicNetwork))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				if mibErr := d.Lrw.MibSet(hal.MibPublicNetwork, v); mibErr != nil {
					return atci.ErrInvalidValue
				}
				d.withRadio(func(r *radioExtra) { r.publicNetwork = v })
				return nil
			},
		},
		{
			Name: "+CHMASK",
			Hint: "active channel bitmask, hex",
			Read: func(out *atci.IO) error {
				v, err := d.Lrw.MibGet(hal.MibChannelMask)
				if err != nil {
					return atci.ErrInvalidValue
				}
				mask, _ := v.(uint32)
				out.OKValues(fmt.Sprintf("%08X", mask))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				b, ok := c.GetHex(8)
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				mask := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
				if err := d.Lrw.SetChannelMask(mask); err != nil {
					return ErrNoFreeChannel
				}
				return nil
			},
		},
		{Name: "$CHMASK", Hint: "alias of +CHMASK", Read: chmaskRead(d), Set: chmaskSet(d)},
		{
			Name: "+RFPARAM",
			Hint: "+RFPARAM <1=add|0=remove>,<channel>: adjust the channel plan",
			Action: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				// add=1/remove=0 then channel index, e.g. "1,3"
				op, ok := c.GetUint()
				if !ok || !c.IsComma() {
					return atci.ErrInvalidValue
				}
				ch, ok := c.GetUint()
				if !ok || !c.Done() || ch > 31 {
					return atci.ErrInvalidValue
				}
				v, err := d.Lrw.MibGet(hal.MibChannelMask)
				if err != nil {
					return atci.ErrInvalidValue
				}
				mask, _ := v.(uint32)
				if op == 1 {
					mask |= 1 << ch
				} else {
					mask &^= 1 << ch
				}
				if err := d.Lrw.SetChannelMask(mask); err != nil {
					return ErrNoFreeChannel
				}
				return nil
			},
		},
		{
			Name: "+DUTYCYCLE",
			Hint: "enable/disable duty-cycle enforcement",
			Read: func(out *atci.IO) error {
				out.OKValues(boolString(d.radioSnapshot().dutyCycleOn))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				d.withRadio(func(r *radioExtra) { r.dutyCycleOn = v })
				return nil
			},
		},
		{
			Name: "+DWELL",
			Hint: "dwell-time limit: <uplink>,<downlink> (0/1 each)",
			Read: func(out *atci.IO) error {
				up, _ := d.Lrw.MibGet(hal.MibDwellTimeUplink)
				down, _ := d.Lrw.MibGet(hal.MibDwellTimeDownlink)
				out.OKValues(fmt.Sprintf("%v,%v", boolAny(up), boolAny(down)))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				up, ok := c.GetUint()
				if !ok || !c.IsComma() || up > 1 {
					return atci.ErrInvalidValue
				}
				down, ok := c.GetUint()
				if !ok || !c.Done() || down > 1 {
					return atci.ErrInvalidValue
				}
				if err := d.Lrw.MibSet(hal.MibDwellTimeUplink, up == 1); err != nil {
					return ErrNotSupportedInRegion
				}
				if err := d.Lrw.MibSet(hal.MibDwellTimeDownlink, down == 1); err != nil {
					return ErrNotSupportedInRegion
				}
				return nil
			},
		},
		{
			Name: "+MAXEIRP",
			Hint: "maximum EIRP, dBm",
			Read: func(out *atci.IO) error {
				v, err := d.Lrw.MibGet(hal.MibMaxEIRP)
				if err != nil {
					return atci.ErrInvalidValue
				}
				eirp, _ := v.(uint8)
				out.OKValues(fmt.Sprintf("%d", eirp))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 36 {
					return atci.ErrInvalidValue
				}
				if err := d.Lrw.MibSet(hal.MibMaxEIRP, uint8(v)); err != nil {
					return ErrTxPowerTooHigh
				}
				return nil
			},
		},
		{
			Name: "+ADR",
			Hint: "adaptive data rate enable",
			Read: func(out *atci.IO) error {
				v, err := d.Lrw.MibGet(hal.MibAdrEnabled)
				if err != nil {
					return atci.ErrInvalidValue
				}
				out.OKValues(boolString(boolAny(v)))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				v, err := parseBoolArg(args)
				if err != nil {
					return err
				}
				return setErr(d.Lrw.MibSet(hal.MibAdrEnabled, v))
			},
		},
		{
			Name: "+ADRACK",
			Hint: "ADR ack-request limit (frames)",
			Read: func(out *atci.IO) error {
				v, err := d.Lrw.MibGet(hal.MibAdrAckLimit)
				if err != nil {
					return atci.ErrInvalidValue
				}
				limit, _ := v.(uint16)
				out.OKValues(fmt.Sprintf("%d", limit))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				return setErr(d.Lrw.MibSet(hal.MibAdrAckLimit, uint16(v)))
			},
		},
		{
			Name: "+DELAY",
			Hint: "RX1 delay, seconds",
			Read: func(out *atci.IO) error {
				v, err := d.Lrw.MibGet(hal.MibRxDelay)
				if err != nil {
					return atci.ErrInvalidValue
				}
				delay, _ := v.(uint8)
				out.OKValues(fmt.Sprintf("%d", delay))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 15 {
					return atci.ErrInvalidValue
				}
				return setErr(d.Lrw.MibSet(hal.MibRxDelay, uint8(v)))
			},
		},
		{
			Name: "+RX2",
			Hint: "RX2 window: <datarate>,<frequencyHz>",
			Read: func(out *atci.IO) error {
				dr, _ := d.Lrw.MibGet(hal.MibRx2DataRate)
				freq, _ := d.Lrw.MibGet(hal.MibRx2Frequency)
				out.OKValues(fmt.Sprintf("%v,%v", dr, freq))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				dr, ok := c.GetUint()
				if !ok || !c.IsComma() || dr > 15 {
					return atci.ErrInvalidValue
				}
				freq, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				if err := d.Lrw.MibSet(hal.MibRx2DataRate, uint8(dr)); err != nil {
					return ErrNotSupportedInRegion
				}
				return setErr(d.Lrw.MibSet(hal.MibRx2Frequency, freq))
			},
		},
		{Name: "$RX2", Hint: "alias of +RX2",
			Read: func(out *atci.IO) error {
				dr, _ := d.Lrw.MibGet(hal.MibRx2DataRate)
				freq, _ := d.Lrw.MibGet(hal.MibRx2Frequency)
				out.OKValues(fmt.Sprintf("%v,%v", dr, freq))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				dr, ok := c.GetUint()
				if !ok || !c.IsComma() || dr > 15 {
					return atci.ErrInvalidValue
				}
				freq, ok := c.GetUint()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				if err := d.Lrw.MibSet(hal.MibRx2DataRate, uint8(dr)); err != nil {
					return ErrNotSupportedInRegion
				}
				return setErr(d.Lrw.MibSet(hal.MibRx2Frequency, freq))
			},
		},
		{
			Name: "+REP",
			Hint: "repeater support, frame count",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.radioSnapshot().repeaterCount))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 255 {
					return atci.ErrInvalidValue
				}
				if err := d.Lrw.MibSet(hal.MibRepeaterSupport, v > 0); err != nil {
					return atci.ErrInvalidValue
				}
				d.withRadio(func(r *radioExtra) { r.repeaterCount = uint8(v) })
				return nil
			},
		},
		{
			Name: "+RTYNUM",
			Hint: "confirmed/unconfirmed retransmit counts: <unconfirmed>,<confirmed>",
			Read: func(out *atci.IO) error {
				cfg := d.Conf.Get()
				out.OKValues(fmt.Sprintf("%d,%d", cfg.UnconfirmedRetx, cfg.ConfirmedRetx))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				u, ok := c.GetUint()
				if !ok || !c.IsComma() || u < 1 || u > 15 {
					return atci.ErrInvalidValue
				}
				cf, ok := c.GetUint()
				if !ok || !c.Done() || cf < 1 || cf > 15 {
					return atci.ErrInvalidValue
				}
				return setErr(d.Conf.Set(func(cfg *sysconf.Config) error {
					cfg.UnconfirmedRetx = uint8(u)
					cfg.ConfirmedRetx = uint8(cf)
					return nil
				}))
			},
		},
		{
			Name: "+RSSITH",
			Hint: "RSSI channel-free threshold, dBm",
			Read: readIntField(d, func(r radioExtra) int32 { return int32(r.rssiThreshold) }),
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetInt()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				d.withRadio(func(r *radioExtra) { r.rssiThreshold = int16(v) })
				return nil
			},
		},
		{
			Name: "+CST",
			Hint: "carrier-sense threshold, dB",
			Read: readIntField(d, func(r radioExtra) int32 { return int32(r.csThresholdDB) }),
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetInt()
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				d.withRadio(func(r *radioExtra) { r.csThresholdDB = int8(v) })
				return nil
			},
		},
	}
}

func boolAny(v any) bool {
	b, _ := v.(bool)
	return b
}

func intField(d *Deps, min, max int32, apply func(*radioExtra, int32)) func(out *atci.IO, args string) error {
	return func(out *atci.IO, args string) error {
		c := atci.NewCursor(args)
		v, ok := c.GetInt()
		if !ok || !c.Done() || v < min || v > max {
			return atci.ErrInvalidValue
		}
		d.withRadio(func(r *radioExtra) { apply(r, v) })
		return nil
	}
}

func readIntField(d *Deps, get func(radioExtra) int32) func(out *atci.IO) error {
	return func(out *atci.IO) error {
		out.OKValues(fmt.Sprintf("%d", get(d.radioSnapshot())))
		return nil
	}
}

func chmaskRead(d *Deps) func(out *atci.IO) error {
	return func(out *atci.IO) error {
		v, err := d.Lrw.MibGet(hal.MibChannelMask)
		if err != nil {
			return atci.ErrInvalidValue
		}
		mask, _ := v.(uint32)
		out.OKValues(fmt.Sprintf("%08X", mask))
		return nil
	}
}

func chmaskSet(d *Deps) func(out *atci.IO, args string) error {
	return func(out *atci.IO, args string) error {
		c := atci.NewCursor(args)
		b, ok := c.GetHex(8)
		if !ok || !c.Done() {
			return atci.ErrInvalidValue
		}
		mask := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		if err := d.Lrw.SetChannelMask(mask); err != nil {
			return ErrNoFreeChannel
		}
		return nil
	}
}
