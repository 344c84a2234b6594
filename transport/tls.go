package transport

// TLSHandshake is the boundary spec.md §6 draws around the TLS 1.3
// library: the core hands it opaque CRYPTO-frame bytes per epoch and
// pulls output bytes, an epoch-transition signal, key-install callbacks
// and an error code back out. Only this interface is specified — a real
// handshake library lives behind it, outside the core (spec.md §1).
type TLSHandshake interface {
	// SetTransportParams gives the peer-facing transport parameter
	// extension body to send in the handshake (spec.md §6, ext 0xffa5).
	SetTransportParams(b []byte) error

	// RecvData delivers CRYPTO frame bytes received at the given epoch
	// and drives the handshake forward.
	RecvData(space PacketSpace, b []byte) error

	// ReadHandshake drains bytes the handshake wants to send at the
	// given epoch (destined for a CRYPTO frame in that packet-number
	// space), returning 0 when nothing is pending.
	ReadHandshake(space PacketSpace, b []byte) (int, error)

	// PeerTransportParams returns the peer's decoded transport
	// parameters once the peer's handshake flight carrying them has
	// been processed.
	PeerTransportParams() (*Parameters, bool)

	// NextKeys reports whether a new epoch's traffic secrets became
	// available since the last call, and returns them. is_enc/epoch are
	// folded into two calls (read, write) per spec.md §6's "install
	// traffic-key callbacks with (is_enc, epoch, secret)".
	NextKeys() (readSecret, writeSecret []byte, space PacketSpace, ok bool)

	// HandshakeComplete reports whether the handshake has finished on
	// this side (spec.md §4.1: transition to estb on first valid
	// decryption at the data epoch, confirmed once this returns true).
	HandshakeComplete() bool

	// Export0RTTSecrets returns the 0-RTT read/write secrets for
	// resumed connections attempting early data, ok is false if the
	// session does not support 0-RTT.
	Export0RTTSecrets() (readSecret, writeSecret []byte, ok bool)
}

// tlsHandshake is the concrete field type embedded in Conn; kept as a
// distinct name from the exported interface so internal helpers can add
// bookkeeping (the epoch cursor) without widening the public contract.
type tlsHandshake struct {
	TLSHandshake
	installedReadSpace  [PacketSpaceCount]bool
	installedWriteSpace [PacketSpaceCount]bool
}

func (h *tlsHandshake) pumpKeys(s *Conn) {
	for {
		readSecret, writeSecret, space, ok := h.NextKeys()
		if !ok {
			return
		}
		pn := &s.packetNumberSpaces[space]
		if readSecret != nil {
			pn.opener = deriveAEADKeys(readSecret, false)
			h.installedReadSpace[space] = true
		}
		if writeSecret != nil {
			pn.sealer = deriveAEADKeys(writeSecret, false)
			h.installedWriteSpace[space] = true
		}
	}
}
