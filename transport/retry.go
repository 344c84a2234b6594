package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// retryIntegrityTagLen is the fixed 16-byte AEAD tag RFC 9001 §5.8
// appends to every Retry packet.
const retryIntegrityTagLen = 16

// Fixed RFC 9001 §5.8 Retry Integrity key/nonce (QUIC v1).
var (
	retryIntegrityKey   = []byte{0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a, 0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e}
	retryIntegrityNonce = []byte{0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb}
)

func retryPseudoHeader(odcid, retryPacketWithoutTag []byte) []byte {
	b := make([]byte, 0, 1+len(odcid)+len(retryPacketWithoutTag))
	b = append(b, byte(len(odcid)))
	b = append(b, odcid...)
	b = append(b, retryPacketWithoutTag...)
	return b
}

// computeRetryIntegrityTag computes the 16-byte tag for a Retry packet
// whose wire bytes (everything except the tag itself) are given in
// retryPacketWithoutTag, and whose associated odcid is the client's
// original destination CID.
func computeRetryIntegrityTag(odcid, retryPacketWithoutTag []byte) ([]byte, error) {
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	aad := retryPseudoHeader(odcid, retryPacketWithoutTag)
	tag := aead.Seal(nil, retryIntegrityNonce, nil, aad)
	return tag, nil
}

// verifyRetryIntegrity recomputes the tag over the received Retry packet
// b (whose final 16 bytes are the peer's tag) and the client's prior
// dcid (the odcid, from the client's point of view) and compares it in
// constant time.
func verifyRetryIntegrity(b, odcid []byte) bool {
	if len(b) < retryIntegrityTagLen {
		return false
	}
	body := b[:len(b)-retryIntegrityTagLen]
	gotTag := b[len(b)-retryIntegrityTagLen:]
	wantTag, err := computeRetryIntegrityTag(odcid, body)
	if err != nil {
		return false
	}
	return hmac.Equal(gotTag, wantTag)
}

// mintRetryToken builds a server Retry token per spec.md scenario 3:
// SHA256(commit || peer || scid) || scid, where commit is a per-process
// secret and peer is the client's observed address bytes. The token
// additionally carries a timestamp so validateRetryToken can enforce an
// expiry window.
func mintRetryToken(commit []byte, peer []byte, scid []byte, now time.Time) []byte {
	h := sha256.New()
	h.Write(commit)
	h.Write(peer)
	h.Write(scid)
	sum := h.Sum(nil)
	token := make([]byte, 0, len(sum)+len(scid)+8)
	token = append(token, sum...)
	token = append(token, scid...)
	token = binary.BigEndian.AppendUint64(token, uint64(now.Unix()))
	return token
}

// validateRetryToken recomputes the digest over (commit, peer, the
// token's trailing scid) and compares; it also rejects tokens older than
// maxAge. Returns the scid the token was minted against.
func validateRetryToken(commit, peer, token []byte, now time.Time, maxAge time.Duration) (scid []byte, ok bool) {
	if len(token) < sha256.Size+8 {
		return nil, false
	}
	ts := binary.BigEndian.Uint64(token[len(token)-8:])
	issued := time.Unix(int64(ts), 0)
	if now.Sub(issued) > maxAge || issued.After(now.Add(time.Second)) {
		return nil, false
	}
	scid = token[sha256.Size : len(token)-8]
	want := mintRetryToken(commit, peer, scid, issued)
	if !hmac.Equal(token, want) {
		return nil, false
	}
	return scid, true
}
