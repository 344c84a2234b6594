package transport

import (
	"crypto/rand"
	"encoding/binary"
)

// SupportedVersions lists the QUIC versions this endpoint's Version
// Negotiation packets advertise, spec.md scenario 2.
var SupportedVersions = []uint32{QUICVersion1}

// QUICVersion1 is the final RFC 9000 wire version.
const QUICVersion1 uint32 = 0x00000001

// encodeVersionNegotiation builds a server Version Negotiation packet,
// SPEC_FULL.md §C.1: a random reserved first byte with the long-header
// form bit set, zero version, the echoed dcid/scid, and the locally
// supported version list. This is the server-side construction the
// retrieved teacher slice's packetTypeVersionNegotiation constant names
// but whose encoder it does not include.
func encodeVersionNegotiation(dcid, scid []byte, versions []uint32) []byte {
	var firstByte [1]byte
	rand.Read(firstByte[:])
	b := make([]byte, 0, 7+len(dcid)+len(scid)+4*len(versions))
	b = append(b, firstByte[0]|longHeaderForm)
	b = binary.BigEndian.AppendUint32(b, 0) // version = 0 marks vneg
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	for _, v := range versions {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

// isSupportedVersion reports whether v is one this endpoint can speak.
func isSupportedVersion(v uint32) bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

// pickVersion implements spec.md scenario 2's client behavior: "client
// picks the first match" between the server's offered list and the
// client's own supported list.
func pickVersion(offered []uint32) (uint32, bool) {
	for _, v := range offered {
		if isSupportedVersion(v) {
			return v, true
		}
	}
	return 0, false
}
