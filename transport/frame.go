package transport

// Frame type codes, spec.md §4.3.
const (
	frameTypePadding             uint64 = 0x00
	frameTypePing                uint64 = 0x01
	frameTypeAck                 uint64 = 0x02
	frameTypeAckECN               uint64 = 0x03
	frameTypeResetStream         uint64 = 0x04
	frameTypeStopSending         uint64 = 0x05
	frameTypeCrypto              uint64 = 0x06
	frameTypeNewToken            uint64 = 0x07
	frameTypeStream              uint64 = 0x08
	frameTypeStreamEnd           uint64 = 0x0f
	frameTypeMaxData             uint64 = 0x10
	frameTypeMaxStreamData       uint64 = 0x11
	frameTypeMaxStreamsBidi      uint64 = 0x12
	frameTypeMaxStreamsUni       uint64 = 0x13
	frameTypeDataBlocked         uint64 = 0x14
	frameTypeStreamDataBlocked   uint64 = 0x15
	frameTypeStreamsBlockedBidi  uint64 = 0x16
	frameTypeStreamsBlockedUni   uint64 = 0x17
	frameTypeNewConnectionID     uint64 = 0x18
	frameTypeRetireConnectionID  uint64 = 0x19
	frameTypePathChallenge       uint64 = 0x1a
	frameTypePathResponse        uint64 = 0x1b
	frameTypeConnectionClose     uint64 = 0x1c
	frameTypeApplicationClose    uint64 = 0x1d
	frameTypeHandshakeDone       uint64 = 0x1e
)

// Stream frame flag bits encoded in the low 3 bits of its type byte.
const (
	streamFlagFin = 0x01
	streamFlagLen = 0x02
	streamFlagOff = 0x04
)

// frame is implemented by every frame value; it carries decoded frames
// to qlog event formatting (transport/log.go) and outgoing frames to
// encodePacket. Receive dispatch does not use it: it switches on the
// wire type directly, as spec.md §4.3's table does.
type frame interface {
	frameType() uint64
}

// isFrameAckEliciting reports whether receiving a frame of this type
// must cause an ACK to be scheduled (spec.md §4.3/§4.4).
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypePadding, frameTypeAck, frameTypeAckECN, frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// frameAllowedInSpace enforces the per-epoch frame whitelist: Initial
// and Handshake packets accept only ACK, CRYPTO, PADDING and
// CONNECTION_CLOSE. The rule that 0-RTT packets carry no ACK depends on
// the packet type rather than the space and is checked in recvFrame.
func frameAllowedInSpace(typ uint64, space PacketSpace) bool {
	switch space {
	case PacketSpaceInitial, PacketSpaceHandshake:
		switch typ {
		case frameTypeAck, frameTypeAckECN, frameTypeCrypto, frameTypePadding,
			frameTypeConnectionClose:
			return true
		default:
			return false
		}
	default:
		return true
	}
}
