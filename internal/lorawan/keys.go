package lorawan

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/agsys/atmodem/internal/nvm"
)

const keysPartitionLabel = "crypto"

// Keys is the persisted activation identity: device/join identifiers
// plus every session and root key the 1.0/1.1 key hierarchies need.
// +APPKEY on a 1.0 device dual-writes NwkKey and AppKey; +NWKSKEY on a
// 1.0 device dual-writes all three derived session keys (spec.md
// §4.6 Activation & keys).
type Keys struct {
	DevEUI  [8]byte
	JoinEUI [8]byte // AppEUI in 1.0 terminology
	DevAddr [4]byte
	NetID   [3]byte

	AppKey [16]byte // 1.0 root key
	NwkKey [16]byte // 1.1 root key; dual-written from AppKey on 1.0 devices

	AppSKey      [16]byte
	NwkSKey      [16]byte // 1.0 single network session key
	FNwkSIntKey  [16]byte
	SNwkSIntKey  [16]byte
	NwkSEncKey   [16]byte
}

const keysRecordSize = 8 + 8 + 4 + 3 + 16 + 16 + 16 + 16 + 16 + 16 + 16

// keyStore persists Keys in the "crypto" partition, CRC-sealed the
// same way internal/sysconf seals its record.
type keyStore struct {
	part  *nvm.Partition
	keys  Keys
	dirty bool
}

func openKeyStore(table *nvm.Table) (*keyStore, error) {
	part, ok := table.Find(keysPartitionLabel)
	if !ok {
		var err error
		part, err = table.Create(keysPartitionLabel, keysRecordSize+4)
		if err != nil {
			return nil, err
		}
		return &keyStore{part: part, dirty: true}, nil
	}
	raw, err := part.Mmap()
	if err != nil {
		return nil, err
	}
	keys, ok := decodeKeys(raw)
	if !ok {
		return &keyStore{part: part, dirty: true}, nil
	}
	return &keyStore{part: part, keys: keys}, nil
}

func (k *keyStore) get() Keys { return k.keys }

func (k *keyStore) set(mutate func(*Keys)) {
	mutate(&k.keys)
	k.dirty = true
}

func (k *keyStore) flush() error {
	if !k.dirty {
		return nil
	}
	if err := k.part.Write(0, encodeKeys(k.keys)); err != nil {
		return err
	}
	k.dirty = false
	return nil
}

func encodeKeys(k Keys) []byte {
	buf := make([]byte, keysRecordSize+4)
	i := 0
	put := func(b []byte) {
		copy(buf[i:], b)
		i += len(b)
	}
	put(k.DevEUI[:])
	put(k.JoinEUI[:])
	put(k.DevAddr[:])
	put(k.NetID[:])
	put(k.AppKey[:])
	put(k.NwkKey[:])
	put(k.AppSKey[:])
	put(k.NwkSKey[:])
	put(k.FNwkSIntKey[:])
	put(k.SNwkSIntKey[:])
	put(k.NwkSEncKey[:])
	sum := crc32.ChecksumIEEE(buf[:keysRecordSize])
	binary.LittleEndian.PutUint32(buf[keysRecordSize:], sum)
	return buf
}

func decodeKeys(raw []byte) (Keys, bool) {
	if len(raw) < keysRecordSize+4 {
		return Keys{}, false
	}
	body := raw[:keysRecordSize]
	wantSum := binary.LittleEndian.Uint32(raw[keysRecordSize : keysRecordSize+4])
	if crc32.ChecksumIEEE(body) != wantSum {
		return Keys{}, false
	}
	var k Keys
	i := 0
	get := func(dst []byte) {
		copy(dst, body[i:i+len(dst)])
		i += len(dst)
	}
	get(k.DevEUI[:])
	get(k.JoinEUI[:])
	get(k.DevAddr[:])
	get(k.NetID[:])
	get(k.AppKey[:])
	get(k.NwkKey[:])
	get(k.AppSKey[:])
	get(k.NwkSKey[:])
	get(k.FNwkSIntKey[:])
	get(k.SNwkSIntKey[:])
	get(k.NwkSEncKey[:])
	return k, true
}
