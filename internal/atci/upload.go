package atci

import (
	"encoding/hex"
	"fmt"
)

// UploadEncoding selects how the armed upload's bytes are represented
// on the wire.
type UploadEncoding int

const (
	EncodingBinary UploadEncoding = iota
	EncodingHex
)

// UploadResult is the status an upload callback is invoked with.
type UploadResult int

const (
	UploadOK UploadResult = iota
	UploadAborted
	UploadEncodingError
)

// UploadCallback receives the decoded payload once length bytes have
// been accumulated, or whatever was accumulated if aborted.
type UploadCallback func(result UploadResult, payload []byte)

// uploadState is the single-slot continuation a command handler arms
// to bypass the line parser for a following binary or hex payload
// (spec.md §4.5 "upload sub-protocol"). Only one upload is ever
// pending; arming a second while one is active is an error.
type uploadState struct {
	pending  bool
	length   int
	encoding UploadEncoding
	callback UploadCallback

	binaryBuf []byte
	hexNibble []byte // accumulated ASCII nibble-pairs awaiting decode
}

// arm activates the upload slot. length==0 fires the callback
// immediately with an empty payload, matching the spec's immediate-
// fire rule, and never occupies the slot.
func (u *uploadState) arm(length int, encoding UploadEncoding, cb UploadCallback) error {
	if u.pending {
		return fmt.Errorf("atci: an upload is already pending")
	}
	if length == 0 {
		cb(UploadOK, nil)
		return nil
	}
	u.pending = true
	u.length = length
	u.encoding = encoding
	u.callback = cb
	u.binaryBuf = u.binaryBuf[:0]
	u.hexNibble = u.hexNibble[:0]
	return nil
}

// abort cancels a pending upload, invoking its callback with whatever
// was accumulated so far decoded.
func (u *uploadState) abort() {
	if !u.pending {
		return
	}
	cb := u.callback
	partial := u.decodedSoFar()
	u.clear()
	cb(UploadAborted, partial)
}

func (u *uploadState) decodedSoFar() []byte {
	switch u.encoding {
	case EncodingBinary:
		return append([]byte(nil), u.binaryBuf...)
	default:
		n := len(u.hexNibble) / 2 * 2
		decoded, _ := hex.DecodeString(string(u.hexNibble[:n]))
		return decoded
	}
}

func (u *uploadState) clear() {
	u.pending = false
	u.length = 0
	u.callback = nil
	u.binaryBuf = nil
	u.hexNibble = nil
}

// feed consumes bytes into the pending upload, invoking the callback
// exactly once the moment length decoded bytes are available. It
// returns how many bytes of p it consumed; the caller hands any
// leftover bytes back to the line parser. An invalid hex digit fires
// the callback with UploadEncodingError and clears the slot.
func (u *uploadState) feed(p []byte) int {
	if !u.pending {
		return 0
	}
	switch u.encoding {
	case EncodingBinary:
		need := u.length - len(u.binaryBuf)
		n := min(need, len(p))
		u.binaryBuf = append(u.binaryBuf, p[:n]...)
		if len(u.binaryBuf) == u.length {
			cb := u.callback
			payload := u.binaryBuf
			u.clear()
			cb(UploadOK, payload)
		}
		return n
	default:
		needNibbles := u.length*2 - len(u.hexNibble)
		n := min(needNibbles, len(p))
		for i := 0; i < n; i++ {
			if _, ok := hexNibble(p[i]); !ok {
				cb := u.callback
				u.clear()
				cb(UploadEncodingError, nil)
				return i + 1
			}
		}
		u.hexNibble = append(u.hexNibble, p[:n]...)
		if len(u.hexNibble) == u.length*2 {
			decoded, err := hex.DecodeString(string(u.hexNibble))
			cb := u.callback
			u.clear()
			if err != nil {
				cb(UploadEncodingError, nil)
			} else {
				cb(UploadOK, decoded)
			}
		}
		return n
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
