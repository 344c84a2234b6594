package transport

import (
	"io"
	"net"
	"time"
)

type connectionState uint8

// States from spec.md §4.1.
const (
	stateIdle connectionState = iota
	stateOpening
	stateEstablished
	stateQueueClose
	stateClosing
	stateDraining
	stateClosed
)

func (s connectionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpening:
		return "opng"
	case stateEstablished:
		return "estb"
	case stateQueueClose:
		return "qlse"
	case stateClosing:
		return "clsg"
	case stateDraining:
		return "drng"
	case stateClosed:
		return "clsd"
	default:
		return "unknown"
	}
}

const maxCryptoBuffer = 1 << 20

// Conn is a QUIC connection: spec.md §3's Connection record and §4.1's
// state machine, driven by Recv/Send from an external run loop (spec.md
// §4.7) rather than owning its own socket or goroutine.
type Conn struct {
	isClient bool
	version  uint32

	config *Config

	scids cidSet // this endpoint's issued CIDs
	dcids cidSet // the peer's advertised CIDs
	odcid []byte // original destination CID (server keeps as extra acceptable CID)
	rscid []byte // retry source CID, set on receipt of Retry

	packetNumberSpaces [PacketSpaceCount]packetNumberSpace
	cryptoTX           [PacketSpaceCount]*Stream
	cryptoRX           [PacketSpaceCount]*Stream
	streams            streamMap

	localParams Parameters
	peerParams  Parameters
	gotPeerParams bool

	handshake tlsHandshake
	recovery  lossRecovery
	pacer     pacer
	flow      flowControl

	state connectionState

	peer          net.Addr
	migratingPeer net.Addr
	migrating     bool
	pathChallengeOut        [8]byte
	havePathChallengeOut    bool
	pathValidationWindow    uint64
	pendingPathResponse     [8]byte
	havePendingPathResponse bool

	token      []byte // retry token to echo on the next Initial (client)
	retryToken []byte // token validated on this Initial (server)

	ackElicitingSent      bool
	handshakeConfirmed    bool
	derivedInitialSecrets bool
	didVersionNegotiation bool
	didRetry              bool
	try0RTT               bool
	did0RTT                bool

	spinEnabled bool
	spinBit     bool
	keyPhase    bool
	keyUpdatePending bool

	closeFrame        *connectionCloseFrame
	closeFrameSent    bool
	sentHandshakeDone bool

	idleTimeout     time.Duration
	idleDeadline    time.Time
	closingDeadline time.Time
	keyFlipDeadline time.Time

	events     []Event
	logEventFn func(LogEvent)

	lastActivity time.Time
}

// Connect creates a client connection. The connection is already in
// opng when Connect returns, before its first Initial has been sent; a
// client Conn is never in idle.
func Connect(peer net.Addr, config *Config) (*Conn, error) {
	scid := make([]byte, 8)
	if _, err := io.ReadFull(config.rand(), scid); err != nil {
		return nil, err
	}
	dcid := make([]byte, 8)
	if _, err := io.ReadFull(config.rand(), dcid); err != nil {
		return nil, err
	}
	s, err := newConn(config, scid, dcid, true)
	if err != nil {
		return nil, err
	}
	s.peer = peer
	s.deriveInitialKeyMaterial(dcid)
	s.state = stateOpening
	return s, nil
}

// Accept creates a server connection for a client's first Initial packet
// whose destination CID was odcid; scid is this endpoint's freshly
// chosen source CID (spec.md §3: "server switches scid to a fresh random
// value and keeps... odcid as an additional acceptable server CID").
func Accept(peer net.Addr, scid, odcid []byte, config *Config) (*Conn, error) {
	s, err := newConn(config, scid, odcid, false)
	if err != nil {
		return nil, err
	}
	s.peer = peer
	s.odcid = append([]byte(nil), odcid...)
	s.deriveInitialKeyMaterial(odcid)
	s.state = stateOpening
	return s, nil
}

func newConn(config *Config, scid, dcid []byte, isClient bool) (*Conn, error) {
	s := &Conn{
		isClient: isClient,
		version:  config.Version,
		config:   config,
	}
	if s.version == 0 {
		s.version = QUICVersion1
	}
	for i := range s.packetNumberSpaces {
		s.packetNumberSpaces[i].init()
		s.cryptoTX[i] = newStream(0, true, 0, ^uint64(0))
		s.cryptoRX[i] = newStream(0, false, ^uint64(0), 0)
	}
	s.streams.init()
	s.localParams = config.params()
	s.streams.maxStreamsBidiRemote = s.localParams.InitialMaxStreamsBidi
	s.streams.maxStreamsUniRemote = s.localParams.InitialMaxStreamsUni
	s.flow.init(s.localParams.InitialMaxData, 0)
	s.recovery.init()
	s.idleTimeout = s.localParams.MaxIdleTimeout
	s.spinEnabled = true

	var resetToken [16]byte
	if config.Seed != ([16]byte{}) {
		resetToken = deriveStatelessResetToken(config.Seed, scid)
	}
	s.scids.init(int(s.localParams.ActiveConnIDLimit))
	if err := s.scids.insert(0, scid, resetToken); err != nil {
		return nil, err
	}
	s.dcids.init(int(s.localParams.ActiveConnIDLimit))
	if err := s.dcids.insert(0, dcid, [16]byte{}); err != nil {
		return nil, err
	}

	if handshake, ok := config.TLS.(TLSHandshake); ok && handshake != nil {
		s.handshake.TLSHandshake = handshake
		params, err := s.localParams.marshal()
		if err != nil {
			return nil, err
		}
		if err := s.handshake.SetTransportParams(params); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// deriveInitialKeyMaterial derives the Initial epoch's read/write AEAD
// keys from the client's destination CID, spec.md §6.
func (s *Conn) deriveInitialKeyMaterial(cid []byte) {
	var ia initialAEAD
	ia.init(cid)
	space := &s.packetNumberSpaces[PacketSpaceInitial]
	if s.isClient {
		space.sealer = ia.client
		space.opener = ia.server
	} else {
		space.sealer = ia.server
		space.opener = ia.client
	}
	s.derivedInitialSecrets = true
}

func (s *Conn) transitionTo(next connectionState) {
	if next == s.state {
		// A transition to the same state is a bug, spec.md §4.1.
		return
	}
	s.state = next
	if next == stateClosed {
		s.addEvent(Event{Type: EventConnectionClosed})
	}
}

// IsEstablished reports whether the handshake has completed.
func (s *Conn) IsEstablished() bool { return s.state == stateEstablished }

// IsClosed reports whether the connection has reached clsd.
func (s *Conn) IsClosed() bool { return s.state == stateClosed }

// OnLogEvent installs the qlog-shaped event callback, SPEC_FULL.md §A.1.
func (s *Conn) OnLogEvent(fn func(LogEvent)) { s.logEventFn = fn }

func (s *Conn) activeSCID() []byte {
	if c, ok := s.scids.active(); ok {
		return c.id
	}
	return nil
}

func (s *Conn) activeDCID() []byte {
	if c, ok := s.dcids.active(); ok {
		return c.id
	}
	return nil
}

// SourceID returns this connection's currently active source CID — the
// value an owning endpoint must index its routing table by, since
// Connect/Accept choose it internally rather than accepting it from
// the caller for every CID (spec.md §4.5's CID manager owns rotation).
func (s *Conn) SourceID() []byte { return s.activeSCID() }

// DestinationID returns this connection's currently active destination
// CID (the peer's CID this endpoint addresses packets to).
func (s *Conn) DestinationID() []byte { return s.activeDCID() }

// ---------------------------------------------------------------------
// Receive pipeline, spec.md §4.2/§4.3/§9's "RX dispatch routes each
// packet to its pn space by type."
// ---------------------------------------------------------------------

// Recv processes one inbound UDP datagram, which may carry several
// coalesced QUIC packets (spec.md §4.2 decoalesce). from is the peer
// address the datagram arrived from, used for path-migration detection.
func (s *Conn) Recv(b []byte, from net.Addr, now time.Time) (int, error) {
	s.lastActivity = now
	total := 0
	for len(b) > 0 {
		n, err := s.recvOne(b, from, now)
		if err != nil {
			s.logPacketDropped(now, err)
			if fatal, ok := err.(*Error); ok {
				s.errClose(fatal.Code, fatal.Frame, fatal.Reason, now)
			}
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		b = b[n:]
	}
	s.armIdleTimeout(now)
	return total, nil
}

func (s *Conn) recvOne(b []byte, from net.Addr, now time.Time) (int, error) {
	var p packet
	if scid := s.activeSCID(); scid != nil {
		p.header.dcil = uint8(len(scid))
	}
	hn, retryODCID, err := p.decodeHeaderBeginning(b)
	if err != nil {
		return 0, err
	}
	pktLen := p.headerLen + p.payloadLen
	if p.typ == packetTypeShort || pktLen > len(b) || pktLen == 0 {
		pktLen = len(b)
	}
	_ = hn
	pktBytes := b[:pktLen]

	switch p.typ {
	case packetTypeVersionNegotiation:
		return pktLen, s.recvVersionNegotiation(pktBytes, &p)
	case packetTypeRetry:
		return pktLen, s.recvRetry(pktBytes, &p, retryODCID)
	case packetTypeInitial:
		return s.recvLongHeader(pktBytes, &p, PacketSpaceInitial, from, now)
	case packetTypeZeroRTT:
		return s.recvLongHeader(pktBytes, &p, PacketSpaceApplication, from, now)
	case packetTypeHandshake:
		return s.recvLongHeader(pktBytes, &p, PacketSpaceHandshake, from, now)
	case packetTypeShort:
		return s.recvShortHeader(pktBytes, &p, from, now)
	default:
		return pktLen, nil
	}
}

func (s *Conn) recvVersionNegotiation(b []byte, p *packet) error {
	if !s.isClient || s.didVersionNegotiation || s.handshakeConfirmed {
		return nil // spurious vneg: dropped without being logged.
	}
	if _, err := p.decodeBody(b); err != nil {
		return nil
	}
	v, ok := pickVersion(p.supportedVersions)
	if !ok {
		return newError(ProtocolViolation, "no common version")
	}
	s.version = v
	s.didVersionNegotiation = true
	for i := range s.packetNumberSpaces {
		s.packetNumberSpaces[i].reset()
	}
	s.deriveInitialKeyMaterial(s.activeDCID())
	return nil
}

func (s *Conn) recvRetry(b []byte, p *packet, retryODCID []byte) error {
	_ = retryODCID
	if !s.isClient || s.didRetry || s.derivedInitialSecrets && s.packetNumberSpaces[PacketSpaceInitial].hasLargestSent && s.handshakeConfirmed {
		return nil
	}
	odcid := s.activeDCID()
	if !verifyRetryIntegrity(b[p.headerLen:], odcid) {
		return nil // spurious retry: drop, spec.md §7.
	}
	s.rscid = append([]byte(nil), p.header.scid...)
	s.token = append([]byte(nil), p.token...)
	s.didRetry = true
	s.dcids.items = nil
	s.dcids.hasActive = false
	if err := s.dcids.insert(0, p.header.scid, [16]byte{}); err != nil {
		return err
	}
	for i := range s.packetNumberSpaces {
		s.packetNumberSpaces[i].reset()
	}
	s.deriveInitialKeyMaterial(p.header.scid)
	return nil
}

func (s *Conn) recvLongHeader(b []byte, p *packet, space PacketSpace, from net.Addr, now time.Time) (int, error) {
	pnSpace := &s.packetNumberSpaces[space]
	if !pnSpace.canDecrypt() {
		// Keys not installed yet (e.g. Handshake before the peer's
		// first flight): drop silently, spec.md §7.
		return len(b), nil
	}
	if space == PacketSpaceInitial && !s.isClient && len(p.token) > 0 {
		s.retryToken = append([]byte(nil), p.token...)
	}
	payload, consumed, err := pnSpace.decryptPacket(b, p)
	if err != nil {
		return len(b), nil // undecryptable: drop, not fatal.
	}
	if pnSpace.isPacketReceived(p.packetNumber) {
		return consumed, nil // duplicate: drop.
	}
	s.logPacketReceived(p, now)
	if err := s.recvFrames(payload, space, p.typ, now); err != nil {
		return consumed, err
	}
	pnSpace.onPacketReceived(p.packetNumber, now)
	s.maybeArmAckAlarm(space, p, now)
	if s.handshake.TLSHandshake != nil {
		s.handshake.pumpKeys(s)
	}
	s.pumpHandshakeData()
	s.maybeAdvanceHandshake(now)
	return consumed, nil
}

func (s *Conn) recvShortHeader(b []byte, p *packet, from net.Addr, now time.Time) (int, error) {
	pnSpace := &s.packetNumberSpaces[PacketSpaceApplication]
	if !pnSpace.canDecrypt() {
		return len(b), nil
	}
	payload, consumed, err := pnSpace.decryptPacket(b, p)
	if err != nil {
		return len(b), nil
	}
	if pnSpace.isPacketReceived(p.packetNumber) {
		return consumed, nil
	}
	s.maybeDetectMigration(p, from, now)
	s.logPacketReceived(p, now)
	if err := s.recvFrames(payload, PacketSpaceApplication, p.typ, now); err != nil {
		return consumed, err
	}
	pnSpace.onPacketReceived(p.packetNumber, now)
	s.maybeArmAckAlarm(PacketSpaceApplication, p, now)
	if p.keyPhase != s.keyPhase {
		s.onPeerKeyUpdate()
	}
	return consumed, nil
}

// maybeDetectMigration implements spec.md §4.5: "On data from a new
// source address that also carries a higher packet number than any
// previously seen, the endpoint sets migr_peer... and schedules
// PATH_CHALLENGE."
func (s *Conn) maybeDetectMigration(p *packet, from net.Addr, now time.Time) {
	if from == nil || s.peer == nil || s.localParams.DisableActiveMigration {
		return
	}
	if from.String() == s.peer.String() {
		return
	}
	space := &s.packetNumberSpaces[PacketSpaceApplication]
	if space.hasLargestSent && p.packetNumber <= space.largestAcked {
		return
	}
	if s.migrating && s.migratingPeer != nil && from.String() == s.migratingPeer.String() {
		return
	}
	s.migratingPeer = from
	s.migrating = true
	io.ReadFull(s.config.rand(), s.pathChallengeOut[:])
	s.havePathChallengeOut = true
	s.pathValidationWindow = uint64(3 * p.payloadLen)
}

func (s *Conn) maybeArmAckAlarm(space PacketSpace, p *packet, now time.Time) {
	pnSpace := &s.packetNumberSpaces[space]
	immediate := false
	if pnSpace.hasLargestSent && p.packetNumber < pnSpace.largestAcked {
		immediate = true
	}
	if pnSpace.ackAlarm.IsZero() || immediate {
		delay := s.peerParams.MaxAckDelay
		if immediate || space != PacketSpaceApplication {
			delay = 0
		}
		pnSpace.ackAlarm = now.Add(delay)
	}
}

// recvFrames walks the decrypted payload applying spec.md §4.3's
// per-frame dispatch table.
func (s *Conn) recvFrames(b []byte, space PacketSpace, pktType packetType, now time.Time) error {
	if len(b) == 0 {
		return newError(ProtocolViolation, "empty packet payload")
	}
	sawFrame := false
	for len(b) > 0 {
		var typ uint64
		n := getVarint(b, &typ)
		if n == 0 {
			return newError(FrameEncodingError, "truncated frame type")
		}
		if !frameAllowedInSpace(typ, space) {
			return newError(FrameEncodingError, "frame not allowed in this packet-number space")
		}
		consumed, err := s.recvFrame(typ, b[n:], space, pktType, now)
		if err != nil {
			return err
		}
		if isFrameAckEliciting(typ) {
			s.packetNumberSpaces[space].ackElicited = true
		}
		sawFrame = true
		b = b[n+consumed:]
	}
	if !sawFrame {
		return newError(ProtocolViolation, "packet with no frames")
	}
	return nil
}

func (s *Conn) recvFrame(typ uint64, b []byte, space PacketSpace, pktType packetType, now time.Time) (int, error) {
	switch typ {
	case frameTypePadding:
		f, n := decodePaddingFrame(b)
		s.logFrameProcessed(f, now)
		return n, nil
	case frameTypePing:
		s.logFrameProcessed(&pingFrame{}, now)
		return 0, nil
	case frameTypeAck, frameTypeAckECN:
		if pktType == packetTypeZeroRTT {
			return 0, newError(ProtocolViolation, "ACK frame in 0-RTT packet")
		}
		f, n := decodeAckFrame(b, typ == frameTypeAckECN)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed ACK frame")
		}
		s.logFrameProcessed(f, now)
		s.recvFrameAck(f, space, now)
		return n, nil
	case frameTypeResetStream:
		f, n := decodeResetStreamFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed RESET_STREAM")
		}
		s.logFrameProcessed(f, now)
		if st, ok := s.streams.get(f.streamID); ok {
			st.state = streamClosed
		}
		return n, nil
	case frameTypeStopSending:
		f, n := decodeStopSendingFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed STOP_SENDING")
		}
		s.logFrameProcessed(f, now)
		return n, nil
	case frameTypeCrypto:
		f, n := decodeCryptoFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed CRYPTO")
		}
		s.logFrameProcessed(f, now)
		if _, err := s.cryptoRX[space].pushRecv(f.data, f.offset, false); err != nil {
			return 0, err
		}
		if s.handshake.TLSHandshake != nil {
			pending := s.cryptoRX[space].inData
			if len(pending) > 0 {
				if err := s.handshake.RecvData(space, pending); err != nil {
					return 0, newError(ErrorCode(0x100), err.Error())
				}
				s.cryptoRX[space].inData = s.cryptoRX[space].inData[:0]
			}
		}
		return n, nil
	case frameTypeNewToken:
		f, n := decodeNewTokenFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed NEW_TOKEN")
		}
		s.logFrameProcessed(f, now)
		s.token = append([]byte(nil), f.token...)
		return n, nil
	default:
		if typ >= frameTypeStream && typ <= frameTypeStreamEnd {
			return s.recvFrameStream(typ, b, now)
		}
		return s.recvFrameControl(typ, b, now)
	}
}

func (s *Conn) recvFrameControl(typ uint64, b []byte, now time.Time) (int, error) {
	switch typ {
	case frameTypeMaxData:
		f, n := decodeMaxDataFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed MAX_DATA")
		}
		s.logFrameProcessed(f, now)
		if f.maximumData > s.flow.outDataMax {
			s.flow.outDataMax = f.maximumData
		}
		return n, nil
	case frameTypeMaxStreamData:
		f, n := decodeMaxStreamDataFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed MAX_STREAM_DATA")
		}
		s.logFrameProcessed(f, now)
		if st, ok := s.streams.get(f.streamID); ok && f.maximumData > st.outDataMax {
			st.outDataMax = f.maximumData
		}
		return n, nil
	case frameTypeMaxStreamsBidi, frameTypeMaxStreamsUni:
		f, n := decodeMaxStreamsFrame(b, typ)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed MAX_STREAMS")
		}
		s.logFrameProcessed(f, now)
		if f.bidi {
			s.streams.maxStreamsBidiLocal = maxU64(s.streams.maxStreamsBidiLocal, f.maximumStreams)
		} else {
			s.streams.maxStreamsUniLocal = maxU64(s.streams.maxStreamsUniLocal, f.maximumStreams)
		}
		return n, nil
	case frameTypeDataBlocked:
		f, n := decodeDataBlockedFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed DATA_BLOCKED")
		}
		s.logFrameProcessed(f, now)
		if s.flow.shouldUpdateMax() {
			s.flow.updateMax()
		}
		return n, nil
	case frameTypeStreamDataBlocked:
		f, n := decodeStreamDataBlockedFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed STREAM_DATA_BLOCKED")
		}
		s.logFrameProcessed(f, now)
		return n, nil
	case frameTypeStreamsBlockedBidi, frameTypeStreamsBlockedUni:
		f, n := decodeStreamsBlockedFrame(b, typ)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed STREAMS_BLOCKED")
		}
		s.logFrameProcessed(f, now)
		return n, nil
	case frameTypeNewConnectionID:
		f, n := decodeNewConnectionIDFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed NEW_CONNECTION_ID")
		}
		s.logFrameProcessed(f, now)
		limit := s.localParams.ActiveConnIDLimit
		if s.peerParams.HasPreferredAddress() {
			limit++
		}
		s.dcids.limit = int(limit)
		if err := s.dcids.insert(f.sequence, f.connID, f.resetToken); err != nil {
			return 0, err
		}
		for _, seq := range s.dcids.retireBelow(f.retirePriorTo) {
			_ = seq
		}
		return n, nil
	case frameTypeRetireConnectionID:
		f, n := decodeRetireConnectionIDFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed RETIRE_CONNECTION_ID")
		}
		s.logFrameProcessed(f, now)
		s.scids.retire(f.sequence)
		return n, nil
	case frameTypePathChallenge:
		f, n := decodePathChallengeFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed PATH_CHALLENGE")
		}
		s.logFrameProcessed(f, now)
		s.pendingPathResponse = f.data
		s.havePendingPathResponse = true
		return n, nil
	case frameTypePathResponse:
		f, n := decodePathResponseFrame(b)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed PATH_RESPONSE")
		}
		s.logFrameProcessed(f, now)
		if s.havePathChallengeOut && f.data == s.pathChallengeOut {
			s.peer = s.migratingPeer
			s.migrating = false
			s.havePathChallengeOut = false
			s.addEvent(Event{Type: EventPeerMigrated})
		}
		return n, nil
	case frameTypeConnectionClose, frameTypeApplicationClose:
		f, n := decodeConnectionCloseFrame(b, typ == frameTypeApplicationClose)
		if f == nil {
			return 0, newError(FrameEncodingError, "malformed CONNECTION_CLOSE")
		}
		s.logFrameProcessed(f, now)
		s.enterDraining(now)
		return n, nil
	case frameTypeHandshakeDone:
		if !s.isClient {
			return 0, newError(ProtocolViolation, "HANDSHAKE_DONE sent by client")
		}
		s.logFrameProcessed(&handshakeDoneFrame{}, now)
		s.handshakeConfirmed = true
		return 0, nil
	default:
		return 0, newError(FrameEncodingError, "unknown frame type")
	}
}

func (s *Conn) recvFrameStream(typ uint64, b []byte, now time.Time) (int, error) {
	f, n := decodeStreamFrame(b, typ)
	if f == nil {
		return 0, newError(FrameEncodingError, "malformed STREAM frame")
	}
	s.logFrameProcessed(f, now)
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	if st.state == streamClosed {
		return n, nil // dropped silently, spec.md §4.3.
	}
	end := f.offset + uint64(len(f.data))
	if end > st.inDataMax {
		return 0, newError(FlowControlError, "stream flow control limit exceeded")
	}
	before := st.inDataOff
	delivered, err := st.pushRecv(f.data, f.offset, f.fin)
	if err != nil {
		return 0, err
	}
	newBytes := st.inDataOff - before
	if newBytes > 0 {
		if err := s.flow.onDataReceived(newBytes); err != nil {
			return 0, err
		}
	}
	_ = delivered
	if st.readable() {
		s.addEvent(Event{Type: EventStreamReadable, StreamID: f.streamID})
	}
	if st.inFin && len(st.inData) == 0 {
		s.addEvent(Event{Type: EventStreamComplete, StreamID: f.streamID})
	}
	return n, nil
}

// recvFrameAck implements spec.md §4.4: mark acknowledged packets,
// update RTT from the newly-acked largest packet number, detect losses,
// and drive the congestion controller.
func (s *Conn) recvFrameAck(f *ackFrame, space PacketSpace, now time.Time) {
	pnSpace := &s.packetNumberSpaces[space]
	ackDelayExp := s.peerParams.AckDelayExponent
	if space != PacketSpaceApplication {
		ackDelayExp = 3
	}
	ackDelay := time.Duration(f.ackDelay<<ackDelayExp) * time.Microsecond

	ranges := ackRangesOf(f)
	newlyAckedLargest := false
	var largestNewlyAcked *sentPacket
	for _, r := range ranges {
		for pn := r.start; pn <= r.end; pn++ {
			sp, ok := pnSpace.sent[pn]
			if !ok || sp.acked {
				continue
			}
			sp.acked = true
			if !pnSpace.hasLargestAcked || pn > pnSpace.largestAcked {
				pnSpace.largestAcked = pn
				pnSpace.hasLargestAcked = true
				newlyAckedLargest = pn == f.largestAck
				if newlyAckedLargest {
					largestNewlyAcked = sp
				}
			}
			s.onPacketAckedBookkeeping(sp, space)
			s.recovery.onPacketAcked(sp.size, sp.sentTime)
		}
	}
	if largestNewlyAcked != nil {
		latest := now.Sub(largestNewlyAcked.sentTime)
		s.recovery.updateRTT(latest, ackDelay, s.peerParams.MaxAckDelay)
	}
	for _, lost := range s.recovery.detectLost(pnSpace, now) {
		s.recovery.onCongestionEvent(lost.sentTime, now)
		s.requeueLost(lost, space)
	}
}

func ackRangesOf(f *ackFrame) []intervalRange {
	ranges := make([]intervalRange, 0, len(f.ranges)+1)
	hi := f.largestAck
	lo := hi - f.firstAckRange
	ranges = append(ranges, intervalRange{lo, hi})
	for _, r := range f.ranges {
		hi = lo - r.gap - 2
		lo = hi - r.ackRangeLen
		ranges = append(ranges, intervalRange{lo, hi})
	}
	return ranges
}

// onPacketAckedBookkeeping retires stream/crypto send-buffer bytes now
// covered by the ACK (spec.md §8: "Loss then ACK of the same packet
// number is a no-op after the first resolution").
func (s *Conn) onPacketAckedBookkeeping(sp *sentPacket, space PacketSpace) {
	if sp.frames&sentCrypto != 0 {
		s.cryptoTX[space].ackUpTo(sp.streamOffset+uint64(sp.streamLen), false)
	}
	if sp.frames&sentStream != 0 {
		if st, ok := s.streams.get(sp.streamID); ok {
			st.ackUpTo(sp.streamOffset+uint64(sp.streamLen), sp.streamFin)
			if st.outFinAcked && st.state == streamHalfClosedLocal {
				st.state = streamClosed
			}
		}
	}
}

// requeueLost rewinds the relevant send cursor so the lost payload is
// picked up again by the next sendFrames pass, spec.md scenario 4.
func (s *Conn) requeueLost(sp *sentPacket, space PacketSpace) {
	if sp.frames&sentCrypto != 0 {
		s.cryptoTX[space].retransmit(sp.streamOffset)
	}
	if sp.frames&sentStream != 0 {
		if st, ok := s.streams.get(sp.streamID); ok {
			st.retransmit(sp.streamOffset)
		}
	}
}

func (s *Conn) getOrCreateStream(id uint64, local bool) (*Stream, error) {
	if st, ok := s.streams.get(id); ok {
		return st, nil
	}
	max := s.streams.maxAllowed(id, s.isClient)
	if streamOrdinal(id) >= max {
		return nil, newError(StreamLimitError, "stream id exceeds negotiated limit")
	}
	inMax := s.localParams.InitialMaxStreamDataBidiRemote
	outMax := s.peerParams.InitialMaxStreamDataBidiLocal
	if !streamIsBidi(id) {
		inMax = s.localParams.InitialMaxStreamDataUni
		outMax = 0
	}
	st := newStream(id, local, inMax, outMax)
	s.streams.streams[id] = st
	return st, nil
}

// onPeerKeyUpdate advances this space's read keys to the next key phase
// when the peer flips the bit first, SPEC_FULL.md §C.5/RFC 9001 §6.
func (s *Conn) onPeerKeyUpdate() {
	pnSpace := &s.packetNumberSpaces[PacketSpaceApplication]
	if opener, ok := pnSpace.opener.(*aeadKeys); ok {
		pnSpace.opener = opener.next()
	}
	s.keyPhase = !s.keyPhase
}

// pumpHandshakeData drains whatever output bytes the TLS adapter has
// queued per epoch (spec.md §6: "output bytes per epoch") and appends
// them to the matching outbound CRYPTO stream. Called once the adapter
// is started (Connect/Accept, via the first Send) and again after every
// RecvData call, since either can hand back the next flight.
func (s *Conn) pumpHandshakeData() {
	if s.handshake.TLSHandshake == nil {
		return
	}
	var buf [4096]byte
	for space := PacketSpace(0); space < PacketSpaceCount; space++ {
		for {
			n, err := s.handshake.ReadHandshake(space, buf[:])
			if err != nil || n == 0 {
				break
			}
			s.cryptoTX[space].Write(buf[:n])
		}
	}
}

// maybeAdvanceHandshake moves an opng connection to estb once the TLS
// handshake reports completion, emitting EventConnectionEstablished and
// applying the peer's transport parameters. It does not drive the TLS
// adapter itself.
func (s *Conn) maybeAdvanceHandshake(now time.Time) {
	if s.handshake.TLSHandshake == nil {
		return
	}
	if s.handshake.HandshakeComplete() && s.state == stateOpening {
		s.transitionTo(stateEstablished)
		s.addEvent(Event{Type: EventConnectionEstablished})
		if peer, ok := s.handshake.PeerTransportParams(); ok && !s.gotPeerParams {
			if err := s.validatePeerTransportParams(peer); err == nil {
				s.peerParams = *peer
				s.gotPeerParams = true
				s.flow.outDataMax = peer.InitialMaxData
				s.streams.maxStreamsBidiLocal = peer.InitialMaxStreamsBidi
				s.streams.maxStreamsUniLocal = peer.InitialMaxStreamsUni
				s.recovery.peerMaxAckDelay = peer.MaxAckDelay
			}
		}
	}
}

func (s *Conn) validatePeerTransportParams(p *Parameters) error {
	if p.AckDelayExponent > 20 {
		return newError(TransportParameterError, "ack_delay_exponent too large")
	}
	if p.MaxUDPPayloadSize != 0 && p.MaxUDPPayloadSize < 1200 {
		return newError(TransportParameterError, "max_packet_size below 1200")
	}
	return nil
}

// ---------------------------------------------------------------------
// Send pipeline, spec.md §4.2's encode() and §4.7's TX watcher.
// ---------------------------------------------------------------------

// Send produces the next outbound datagram into b, returning the number
// of bytes written (0 if there is nothing to send right now).
func (s *Conn) Send(b []byte, now time.Time) (int, error) {
	if s.state == stateClosed {
		return 0, nil
	}
	if len(b) > kMaxDatagramSize {
		b = b[:kMaxDatagramSize]
	}
	s.pumpHandshakeData()
	if s.state == stateQueueClose {
		n := s.sendClose(b, now)
		if n > 0 {
			s.transitionTo(stateClosing)
			s.armClosingTimer(now)
		}
		return n, nil
	}
	total := 0
	for _, space := range []PacketSpace{PacketSpaceInitial, PacketSpaceHandshake, PacketSpaceApplication} {
		if total >= len(b) {
			break
		}
		n := s.sendSpace(b[total:], space, now)
		total += n
	}
	if total > 0 {
		s.pacer.retune(s.recovery.cwnd, s.recovery.srtt)
	}
	return total, nil
}

func (s *Conn) sendSpace(b []byte, space PacketSpace, now time.Time) int {
	pnSpace := &s.packetNumberSpaces[space]
	if !pnSpace.canEncrypt() {
		return 0
	}
	avail := s.recovery.congestionWindowAvailable()
	if avail == 0 {
		return 0
	}
	if !s.pacer.allow(len(b)) {
		return 0
	}

	var frames []frame
	op := &sentPacket{}
	headerBudget := 64
	left := len(b) - headerBudget
	if left <= 0 {
		return 0
	}

	if pnSpace.eligibleForAck() {
		if f := s.sendFrameAck(pnSpace, space, now); f != nil {
			frames = append(frames, f)
			op.frames |= sentAck
		}
	}
	if s.state == stateClosing && s.closeFrame != nil {
		frames = append(frames, s.closeFrame)
		op.frames |= 0
	}
	if cf := s.sendFrameCrypto(space, op, left); cf != nil {
		frames = append(frames, cf)
	}
	if space == PacketSpaceApplication {
		if !s.isClient && s.handshakeConfirmed && !s.sentHandshakeDone {
			frames = append(frames, &handshakeDoneFrame{})
			op.frames |= sentHandshakeDone
			s.sentHandshakeDone = true
		}
		if s.flow.shouldUpdateMax() {
			frames = append(frames, &maxDataFrame{maximumData: s.flow.updateMax()})
			op.frames |= sentMaxData
		}
		for id, st := range s.streams.streams {
			if sf := s.sendFrameStream(id, st, op, left); sf != nil {
				frames = append(frames, sf)
			}
		}
		if s.havePendingPathResponse {
			frames = append(frames, &pathResponseFrame{data: s.pendingPathResponse})
			s.havePendingPathResponse = false
			op.frames |= sentPathResponse
		}
		if s.havePathChallengeOut {
			frames = append(frames, &pathChallengeFrame{data: s.pathChallengeOut})
			op.frames |= sentPathChallenge
		}
	}
	if len(frames) == 0 {
		return 0
	}

	ackEliciting := false
	for _, typ := range frames {
		if isFrameAckEliciting(typ.frameType()) {
			ackEliciting = true
		}
	}
	if !ackEliciting && s.needsAckElicitingProbe(space) {
		frames = append(frames, &pingFrame{})
		ackEliciting = true
		op.frames |= sentPing
	}

	n, pn := s.encodePacket(b, space, frames, pnSpace, now)
	if n == 0 {
		return 0
	}
	op.packetNumber = pn
	op.sentTime = now
	op.size = n
	op.inFlight = true
	op.ackEliciting = ackEliciting
	pnSpace.onPacketSent(op)
	if ackEliciting {
		s.recovery.onPacketSent(space, n, true, now)
	}
	s.logPacketSent(frames, now)
	return n
}

func (s *Conn) needsAckElicitingProbe(space PacketSpace) bool {
	return false
}

// sendFrameAck builds an ACK enumerating the space's received ranges in
// descending order, spec.md §4.4.
func (s *Conn) sendFrameAck(pnSpace *packetNumberSpace, space PacketSpace, now time.Time) *ackFrame {
	hi, ok := pnSpace.recv.max()
	if !ok {
		return nil
	}
	f := &ackFrame{largestAck: hi}
	exp := s.localParams.AckDelayExponent
	if space != PacketSpaceApplication {
		exp = 3
	}
	f.ackDelay = uint64(0) >> exp
	first := true
	var lastLow uint64
	pnSpace.recv.descending(func(start, end uint64) bool {
		if first {
			f.firstAckRange = end - start
			lastLow = start
			first = false
			return true
		}
		gap := lastLow - end - 2
		f.ranges = append(f.ranges, ackRange{gap: gap, ackRangeLen: end - start})
		lastLow = start
		return true
	})
	pnSpace.pktsRxedSinceLastAckTx = 0
	pnSpace.ackAlarm = time.Time{}
	return f
}

func (s *Conn) sendFrameCrypto(space PacketSpace, op *sentPacket, left int) *cryptoFrame {
	st := s.cryptoTX[space]
	data, _ := st.pending()
	if len(data) == 0 {
		return nil
	}
	headerLen := 1 + 10 + 10 // type + offset + length varints, upper bound
	if left <= headerLen {
		return nil
	}
	n := left - headerLen
	if n > len(data) {
		n = len(data)
	}
	off := st.outData
	st.onDataSent(n, false)
	op.frames |= sentCrypto
	op.streamID = 0
	op.streamOffset = off
	op.streamLen = n
	return newCryptoFrame(data[:n], off)
}

func (s *Conn) sendFrameStream(id uint64, st *Stream, op *sentPacket, left int) *streamFrame {
	data, fin := st.pending()
	if len(data) == 0 && !fin {
		return nil
	}
	if !s.flow.canSend(uint64(len(data))) {
		data = data[:s.flow.outDataMax-s.flow.outData]
	}
	headerLen := 1 + 10 + 10 + 10
	if left <= headerLen {
		return nil
	}
	n := left - headerLen
	if n > len(data) {
		n = len(data)
	}
	sendFin := fin && n == len(data)
	off := st.outData
	st.onDataSent(n, sendFin)
	s.flow.onDataSent(uint64(n))
	op.frames |= sentStream
	op.streamID = id
	op.streamOffset = off
	op.streamLen = n
	return newStreamFrame(id, data[:n], off, sendFin)
}

// sendClose encodes a CONNECTION_CLOSE into the highest-available epoch,
// spec.md §7: "sets state to qlse, arms immediate TX to send
// CONNECTION_CLOSE, then enters clsg."
func (s *Conn) sendClose(b []byte, now time.Time) int {
	space := PacketSpaceApplication
	if !s.packetNumberSpaces[space].canEncrypt() {
		space = PacketSpaceHandshake
	}
	if !s.packetNumberSpaces[space].canEncrypt() {
		space = PacketSpaceInitial
	}
	pnSpace := &s.packetNumberSpaces[space]
	if !pnSpace.canEncrypt() || s.closeFrame == nil {
		return 0
	}
	n, _ := s.encodePacket(b, space, []frame{s.closeFrame}, pnSpace, now)
	if n > 0 {
		s.closeFrameSent = true
	}
	return n
}

// encodePacket assembles header + frames + padding, applies AEAD and
// header protection, spec.md §4.2 encode()/apply_aead. It returns the
// encoded size and the packet number it consumed from pnSpace, so the
// caller never has to call nextPN() a second time to recover it.
func (s *Conn) encodePacket(b []byte, space PacketSpace, frames []frame, pnSpace *packetNumberSpace, now time.Time) (int, uint64) {
	long := space != PacketSpaceApplication
	pn := pnSpace.nextPN()
	lgAcked := uint64(0)
	if pnSpace.hasLargestAcked {
		lgAcked = pnSpace.largestAcked
	}
	pnLen := pnEncodeLen(pn, lgAcked)

	var headerLen, lengthOffset int
	if long {
		typ := packetTypeInitial
		if space == PacketSpaceHandshake {
			typ = packetTypeHandshake
		}
		headerLen, lengthOffset = encodeLongHeader(b, typ, s.version, s.activeDCID(), s.activeSCID(), s.outgoingToken())
	} else {
		b[0] = encodeShortHeaderFirstByte(s.keyPhase, s.spinBit, pnLen)
		headerLen = 1 + copy(b[1:], s.activeDCID())
	}
	pnOffset := headerLen
	encodePacketNumber(b[pnOffset:], pn, pnLen)
	payloadStart := pnOffset + pnLen

	payloadEnd := payloadStart
	for _, f := range frames {
		payloadEnd += f.(interface{ encode([]byte) int }).encode(b[payloadEnd:])
	}

	// The sample window invariant (spec.md §4.2) requires at least 4
	// bytes between the packet-number field's start and the end of the
	// frame payload.
	for payloadEnd-pnOffset < pnLen+4 {
		b[payloadEnd] = 0
		payloadEnd++
	}
	if space == PacketSpaceInitial && s.isClient && s.state == stateOpening && !s.didRetry {
		for payloadEnd < 1200-16 {
			b[payloadEnd] = 0
			payloadEnd++
		}
	}

	if long {
		// Length covers the packet-number field through the AEAD tag,
		// spec.md §4.2 encode(). It was reserved as a fixed 2-byte
		// varint by encodeLongHeader; overwrite it now that both the
		// pn length and payload size are known.
		length := uint64(payloadEnd-pnOffset) + 16 // pn + payload + AEAD tag
		put2ByteVarint(b[lengthOffset:], length)
	}

	sealer := pnSpace.sealer.(*aeadKeys)
	return applyPacketProtection(b, pnOffset, pnLen, sealer, pn, b[payloadStart:payloadEnd], long), pn
}

func (s *Conn) outgoingToken() []byte {
	if s.isClient {
		return s.token
	}
	return nil
}

// ---------------------------------------------------------------------
// Loss detection / idle / closing timers, spec.md §4.4/§5.
// ---------------------------------------------------------------------

func (s *Conn) armIdleTimeout(now time.Time) {
	to := s.idleTimeout
	pto := s.recovery.ptoTimeout(PacketSpaceApplication)
	if 3*pto > to {
		to = 3 * pto
	}
	s.idleDeadline = now.Add(to)
}

func (s *Conn) armClosingTimer(now time.Time) {
	d := 3*s.recovery.srtt + 4*s.recovery.rttvar
	if d <= 0 {
		d = 3 * kInitialRtt
	}
	s.closingDeadline = now.Add(d)
}

// Timeout returns the duration until the next timer the caller (run
// loop) needs to wake up for, spec.md §4.7 step 2.
func (s *Conn) Timeout(now time.Time) time.Duration {
	if s.state == stateClosed {
		return -1
	}
	var deadline time.Time
	switch s.state {
	case stateClosing, stateDraining:
		deadline = s.closingDeadline
	default:
		deadline = s.idleDeadline
	}
	if deadline.IsZero() {
		return -1
	}
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// OnTimeout fires expired timers, spec.md §4.7/§5.
func (s *Conn) OnTimeout(now time.Time) {
	switch s.state {
	case stateClosing, stateDraining:
		if !s.closingDeadline.IsZero() && !now.Before(s.closingDeadline) {
			s.transitionTo(stateClosed)
		}
	default:
		if !s.idleDeadline.IsZero() && !now.Before(s.idleDeadline) {
			s.errClose(NoError, 0, "idle timeout", now)
			s.transitionTo(stateClosed)
		}
	}
}

func (s *Conn) enterDraining(now time.Time) {
	s.transitionTo(stateDraining)
	s.armClosingTimer(now)
}

// Close is spec.md §7's err_close / application-initiated close: latch
// the first error, move to qlse so the next Send() call emits
// CONNECTION_CLOSE and transitions to clsg.
func (s *Conn) Close(app bool, code uint64, reason string) {
	if s.closeFrame != nil {
		return // first error wins, spec.md §7.
	}
	s.closeFrame = newConnectionCloseFrame(code, 0, []byte(reason), app)
	s.transitionTo(stateQueueClose)
}

func (s *Conn) errClose(code ErrorCode, frameType uint64, reason string, now time.Time) {
	if s.closeFrame != nil {
		return
	}
	s.closeFrame = newConnectionCloseFrame(uint64(code), frameType, []byte(reason), false)
	s.transitionTo(stateQueueClose)
}

// ---------------------------------------------------------------------
// Stream I/O surface, spec.md §4.7's read(_stream) API call.
// ---------------------------------------------------------------------

func (s *Conn) StreamWrite(id uint64, b []byte, fin bool) (int, error) {
	st, err := s.getOrCreateStream(id, true)
	if err != nil {
		return 0, err
	}
	n := st.Write(b)
	if fin {
		st.Close()
	}
	return n, nil
}

func (s *Conn) StreamRead(id uint64, b []byte) (int, bool, error) {
	st, ok := s.streams.get(id)
	if !ok {
		return 0, false, newError(StreamStateError, "unknown stream")
	}
	n, fin := st.Read(b)
	return n, fin, nil
}

func (s *Conn) logPacketDropped(now time.Time, err error) {
	if s.logEventFn == nil {
		return
	}
	e := newLogEvent(now, logEventPacketDropped)
	e.addField("reason", err.Error())
	s.logEventFn(e)
}

func (s *Conn) logPacketReceived(p *packet, now time.Time) {
	if s.logEventFn == nil {
		return
	}
	s.logEventFn(newLogEventPacket(now, logEventPacketReceived, p))
}

func (s *Conn) logPacketSent(frames []frame, now time.Time) {
	if s.logEventFn == nil {
		return
	}
	e := newLogEvent(now, logEventPacketSent)
	e.addField("frame_count", len(frames))
	s.logEventFn(e)
}

func (s *Conn) logFrameProcessed(f frame, now time.Time) {
	if s.logEventFn == nil {
		return
	}
	s.logEventFn(newLogEventFrame(now, logEventFramesProcessed, f))
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
