package transport

import (
	"crypto/hmac"
	"crypto/sha256"
)

// MinStatelessResetPacketLen is the minimum short-header datagram length
// an endpoint will examine as a possible stateless reset, spec.md §4.5.
// RFC 9000 §10.3 requires this to exceed the smallest plausible 1-RTT
// packet so a reset cannot be mistaken for one.
const MinStatelessResetPacketLen = 21

// deriveStatelessResetToken computes SPEC_FULL.md §C.6's
// HMAC-SHA256(seed, cid)[:16], giving a server-stable token for a CID
// without persisting a table across restarts.
func deriveStatelessResetToken(seed [16]byte, cid []byte) [16]byte {
	h := hmac.New(sha256.New, seed[:])
	h.Write(cid)
	sum := h.Sum(nil)
	var token [16]byte
	copy(token[:], sum)
	return token
}

// matchesStatelessReset reports whether the trailing 16 bytes of a short
// datagram equal a token this endpoint is tracking for one of its own
// issued CIDs, spec.md §4.5.
func matchesStatelessReset(datagram []byte, token [16]byte) bool {
	if len(datagram) < MinStatelessResetPacketLen {
		return false
	}
	trailing := datagram[len(datagram)-16:]
	return hmac.Equal(trailing, token[:])
}
