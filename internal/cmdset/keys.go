package cmdset

import (
	"encoding/hex"
	"fmt"

	"github.com/agsys/atmodem/internal/atci"
	"github.com/agsys/atmodem/internal/lorawan"
)

// keyCommands covers activation & keys: +MODE, +DEVADDR, +DEVEUI,
// +APPEUI/$JOINEUI, +APPKEY/$APPKEY, +NWKSKEY, +APPSKEY, $NWKKEY,
// $FNWKSINTKEY, $SNWKSINTKEY, $NWKSENCKEY, +NETID (spec.md §4.6). Key
// reads fail with ErrKeyAccessDenied once keys_locked is set.
func keyCommands(d *Deps) []atci.Command {
	return []atci.Command{
		{
			Name: "+MODE",
			Hint: "activation mode: 0=ABP, 1=OTAA",
			Read: func(out *atci.IO) error {
				out.OKValues(fmt.Sprintf("%d", d.radioSnapshot().activationMode))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				c := atci.NewCursor(args)
				v, ok := c.GetUint()
				if !ok || !c.Done() || v > 1 {
					return atci.ErrInvalidValue
				}
				d.withRadio(func(r *radioExtra) { r.activationMode = uint8(v) })
				return nil
			},
		},
		fixedByteField(d, "+DEVADDR", 4, func(k *lorawan.Keys) []byte { return k.DevAddr[:] }),
		fixedByteField(d, "+DEVEUI", 8, func(k *lorawan.Keys) []byte { return k.DevEUI[:] }),
		fixedByteField(d, "+APPEUI", 8, func(k *lorawan.Keys) []byte { return k.JoinEUI[:] }),
		fixedByteField(d, "$JOINEUI", 8, func(k *lorawan.Keys) []byte { return k.JoinEUI[:] }),
		{
			Name: "+APPKEY",
			Hint: "1.0 root key; dual-writes NwkKey",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.AppKey[:] }),
			Set: keySetHex(d, 16, func(k *lorawan.Keys, v []byte) {
				copy(k.AppKey[:], v)
				copy(k.NwkKey[:], v)
			}),
		},
		{
			Name: "$APPKEY",
			Hint: "1.1 application root key",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.AppKey[:] }),
			Set:  keySetHex(d, 16, func(k *lorawan.Keys, v []byte) { copy(k.AppKey[:], v) }),
		},
		{
			Name: "+NWKSKEY",
			Hint: "1.0 network session key; dual-writes F/S NwkSIntKey and NwkSEncKey",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.NwkSKey[:] }),
			Set: keySetHex(d, 16, func(k *lorawan.Keys, v []byte) {
				copy(k.NwkSKey[:], v)
				copy(k.FNwkSIntKey[:], v)
				copy(k.SNwkSIntKey[:], v)
				copy(k.NwkSEncKey[:], v)
			}),
		},
		{
			Name: "+APPSKEY",
			Hint: "application session key",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.AppSKey[:] }),
			Set:  keySetHex(d, 16, func(k *lorawan.Keys, v []byte) { copy(k.AppSKey[:], v) }),
		},
		{
			Name: "$NWKKEY",
			Hint: "1.1 network root key",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.NwkKey[:] }),
			Set:  keySetHex(d, 16, func(k *lorawan.Keys, v []byte) { copy(k.NwkKey[:], v) }),
		},
		{
			Name: "$FNWKSINTKEY",
			Hint: "1.1 forwarding network session integrity key",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.FNwkSIntKey[:] }),
			Set:  keySetHex(d, 16, func(k *lorawan.Keys, v []byte) { copy(k.FNwkSIntKey[:], v) }),
		},
		{
			Name: "$SNWKSINTKEY",
			Hint: "1.1 serving network session integrity key",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.SNwkSIntKey[:] }),
			Set:  keySetHex(d, 16, func(k *lorawan.Keys, v []byte) { copy(k.SNwkSIntKey[:], v) }),
		},
		{
			Name: "$NWKSENCKEY",
			Hint: "1.1 network session encryption key",
			Read: keyReadHex(d, func(k lorawan.Keys) []byte { return k.NwkSEncKey[:] }),
			Set:  keySetHex(d, 16, func(k *lorawan.Keys, v []byte) { copy(k.NwkSEncKey[:], v) }),
		},
		{
			Name: "+NETID",
			Hint: "network identifier, settable only in ABP mode",
			Read: func(out *atci.IO) error {
				if d.Conf.Get().KeysLocked {
					return ErrKeyAccessDenied
				}
				k := d.Lrw.Keys()
				out.OKValues(hex.EncodeToString(k.NetID[:]))
				return nil
			},
			Set: func(out *atci.IO, args string) error {
				if d.radioSnapshot().activationMode != activationModeABP {
					return ErrOnlyValidInABP
				}
				c := atci.NewCursor(args)
				v, ok := c.GetHex(3 * 2)
				if !ok || !c.Done() {
					return atci.ErrInvalidValue
				}
				d.Lrw.SetKeys(func(k *lorawan.Keys) { copy(k.NetID[:], v) })
				return nil
			},
		},
	}
}

// fixedByteField builds a Command reading/writing one fixed-width
// big-endian-hex identifier field (DevAddr, DevEUI, JoinEUI).
func fixedByteField(d *Deps, name string, width int, field func(*lorawan.Keys) []byte) atci.Command {
	return atci.Command{
		Name: name,
		Hint: name + ": fixed-width hex identifier",
		Read: func(out *atci.IO) error {
			if d.Conf.Get().KeysLocked {
				return ErrKeyAccessDenied
			}
			k := d.Lrw.Keys()
			out.OKValues(hex.EncodeToString(field(&k)))
			return nil
		},
		Set: func(out *atci.IO, args string) error {
			c := atci.NewCursor(args)
			v, ok := c.GetHex(width * 2)
			if !ok || !c.Done() {
				return atci.ErrInvalidValue
			}
			d.Lrw.SetKeys(func(k *lorawan.Keys) { copy(field(k), v) })
			return nil
		},
	}
}

func keyReadHex(d *Deps, field func(lorawan.Keys) []byte) func(out *atci.IO) error {
	return func(out *atci.IO) error {
		if d.Conf.Get().KeysLocked {
			return ErrKeyAccessDenied
		}
		out.OKValues(hex.EncodeToString(field(d.Lrw.Keys())))
		return nil
	}
}

func keySetHex(d *Deps, width int, apply func(*lorawan.Keys, []byte)) func(out *atci.IO, args string) error {
	return func(out *atci.IO, args string) error {
		c := atci.NewCursor(args)
		v, ok := c.GetHex(width * 2)
		if !ok || !c.Done() {
			return atci.ErrInvalidValue
		}
		d.Lrw.SetKeys(func(k *lorawan.Keys) { apply(k, v) })
		return nil
	}
}
