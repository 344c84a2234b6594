package transport

// Frame value types and their wire codecs, spec.md §4.3. Each type
// implements frame (for qlog formatting, transport/log.go) and carries
// its own decode<Name>Frame(b) / encode(b) pair, mirroring the teacher's
// one-function-per-frame-kind layout (transport/conn.go's recvFrameXxx
// dispatch, transport/log.go's logFrameXxx table).

type paddingFrame struct {
	length int
}

func newPaddingFrame(length int) *paddingFrame { return &paddingFrame{length: length} }
func (f *paddingFrame) frameType() uint64       { return frameTypePadding }

// decodePaddingFrame consumes a run of consecutive 0x00 bytes.
func decodePaddingFrame(b []byte) (*paddingFrame, int) {
	n := 0
	for n < len(b) && b[n] == 0 {
		n++
	}
	return newPaddingFrame(n), n
}

func (f *paddingFrame) encode(b []byte) int {
	for i := 0; i < f.length; i++ {
		b[i] = 0
	}
	return f.length
}

type pingFrame struct{}

func (f *pingFrame) frameType() uint64 { return frameTypePing }

func (f *pingFrame) encode(b []byte) int {
	return putVarint(b, frameTypePing)
}

// ackFrame is encoded/decoded against the pn space's interval set
// directly by the caller (pnSpace.recv); this struct only carries the
// fields needed to log and to construct the wire form.
type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange // gaps after the first range, descending
	ect0, ect1, ce uint64
	withECN       bool
}

type ackRange struct {
	gap         uint64
	ackRangeLen uint64
}

func (f *ackFrame) frameType() uint64 {
	if f.withECN {
		return frameTypeAckECN
	}
	return frameTypeAck
}

func decodeAckFrame(b []byte, withECN bool) (*ackFrame, int) {
	f := &ackFrame{withECN: withECN}
	n := 0
	adv := func(fn func([]byte, *uint64) int, v *uint64) bool {
		m := fn(b[n:], v)
		if m == 0 {
			return false
		}
		n += m
		return true
	}
	var rangeCount uint64
	if !adv(getVarint, &f.largestAck) ||
		!adv(getVarint, &f.ackDelay) ||
		!adv(getVarint, &rangeCount) ||
		!adv(getVarint, &f.firstAckRange) {
		return nil, 0
	}
	for i := uint64(0); i < rangeCount; i++ {
		var gap, length uint64
		if !adv(getVarint, &gap) || !adv(getVarint, &length) {
			return nil, 0
		}
		f.ranges = append(f.ranges, ackRange{gap, length})
	}
	if withECN {
		if !adv(getVarint, &f.ect0) || !adv(getVarint, &f.ect1) || !adv(getVarint, &f.ce) {
			return nil, 0
		}
	}
	return f, n
}

func (f *ackFrame) encode(b []byte) int {
	n := putVarint(b, f.frameType())
	n += putVarint(b[n:], f.largestAck)
	n += putVarint(b[n:], f.ackDelay)
	n += putVarint(b[n:], uint64(len(f.ranges)))
	n += putVarint(b[n:], f.firstAckRange)
	for _, r := range f.ranges {
		n += putVarint(b[n:], r.gap)
		n += putVarint(b[n:], r.ackRangeLen)
	}
	if f.withECN {
		n += putVarint(b[n:], f.ect0)
		n += putVarint(b[n:], f.ect1)
		n += putVarint(b[n:], f.ce)
	}
	return n
}

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(id, code, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: id, errorCode: code, finalSize: finalSize}
}
func (f *resetStreamFrame) frameType() uint64 { return frameTypeResetStream }

func decodeResetStreamFrame(b []byte) (*resetStreamFrame, int) {
	var id, code, size uint64
	n := getVarint(b, &id)
	if n == 0 {
		return nil, 0
	}
	m := getVarint(b[n:], &code)
	if m == 0 {
		return nil, 0
	}
	n += m
	m = getVarint(b[n:], &size)
	if m == 0 {
		return nil, 0
	}
	n += m
	return newResetStreamFrame(id, code, size), n
}

func (f *resetStreamFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeResetStream)
	n += putVarint(b[n:], f.streamID)
	n += putVarint(b[n:], f.errorCode)
	n += putVarint(b[n:], f.finalSize)
	return n
}

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(id, code uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: id, errorCode: code}
}
func (f *stopSendingFrame) frameType() uint64 { return frameTypeStopSending }

func decodeStopSendingFrame(b []byte) (*stopSendingFrame, int) {
	var id, code uint64
	n := getVarint(b, &id)
	if n == 0 {
		return nil, 0
	}
	m := getVarint(b[n:], &code)
	if m == 0 {
		return nil, 0
	}
	return newStopSendingFrame(id, code), n + m
}

func (f *stopSendingFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeStopSending)
	n += putVarint(b[n:], f.streamID)
	n += putVarint(b[n:], f.errorCode)
	return n
}

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{offset: offset, data: data}
}
func (f *cryptoFrame) frameType() uint64 { return frameTypeCrypto }

func decodeCryptoFrame(b []byte) (*cryptoFrame, int) {
	var offset, length uint64
	n := getVarint(b, &offset)
	if n == 0 {
		return nil, 0
	}
	m := getVarint(b[n:], &length)
	if m == 0 {
		return nil, 0
	}
	n += m
	if uint64(len(b)-n) < length {
		return nil, 0
	}
	data := b[n : n+int(length)]
	return newCryptoFrame(data, offset), n + int(length)
}

func (f *cryptoFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeCrypto)
	n += putVarint(b[n:], f.offset)
	n += putVarint(b[n:], uint64(len(f.data)))
	n += copy(b[n:], f.data)
	return n
}

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame { return &newTokenFrame{token: token} }
func (f *newTokenFrame) frameType() uint64          { return frameTypeNewToken }

func decodeNewTokenFrame(b []byte) (*newTokenFrame, int) {
	var length uint64
	n := getVarint(b, &length)
	if n == 0 || uint64(len(b)-n) < length {
		return nil, 0
	}
	return newNewTokenFrame(b[n : n+int(length)]), n + int(length)
}

func (f *newTokenFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeNewToken)
	n += putVarint(b[n:], uint64(len(f.token)))
	n += copy(b[n:], f.token)
	return n
}

type streamFrame struct {
	streamID uint64
	data     []byte
	offset   uint64
	fin      bool
}

func newStreamFrame(id uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: id, data: data, offset: offset, fin: fin}
}
func (f *streamFrame) frameType() uint64 {
	typ := frameTypeStream
	if f.offset > 0 {
		typ |= streamFlagOff
	}
	typ |= streamFlagLen
	if f.fin {
		typ |= streamFlagFin
	}
	return typ
}

func decodeStreamFrame(b []byte, typ uint64) (*streamFrame, int) {
	f := &streamFrame{fin: typ&streamFlagFin != 0}
	n := getVarint(b, &f.streamID)
	if n == 0 {
		return nil, 0
	}
	if typ&streamFlagOff != 0 {
		m := getVarint(b[n:], &f.offset)
		if m == 0 {
			return nil, 0
		}
		n += m
	}
	if typ&streamFlagLen != 0 {
		var length uint64
		m := getVarint(b[n:], &length)
		if m == 0 {
			return nil, 0
		}
		n += m
		if uint64(len(b)-n) < length {
			return nil, 0
		}
		f.data = b[n : n+int(length)]
		n += int(length)
	} else {
		// No length: remainder of the packet is the stream's data.
		f.data = b[n:]
		n = len(b)
	}
	return f, n
}

// encode always writes LEN and, when offset > 0, OFF, matching the
// teacher's preference for explicit framing over the implicit
// remainder-of-packet form on the wire we generate (we still decode it
// on RX for interop, see decodeStreamFrame).
func (f *streamFrame) encode(b []byte) int {
	n := putVarint(b, f.frameType())
	n += putVarint(b[n:], f.streamID)
	if f.offset > 0 {
		n += putVarint(b[n:], f.offset)
	}
	n += putVarint(b[n:], uint64(len(f.data)))
	n += copy(b[n:], f.data)
	return n
}

// headerLen returns the encoded size of everything but the data payload,
// used by sendFrameStream to fit data into the remaining packet space.
func (f *streamFrame) headerLen() int {
	n := varintLen(f.frameType())
	n += varintLen(f.streamID)
	if f.offset > 0 {
		n += varintLen(f.offset)
	}
	n += varintLen(uint64(len(f.data)))
	return n
}

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{maximumData: max} }
func (f *maxDataFrame) frameType() uint64       { return frameTypeMaxData }

func decodeMaxDataFrame(b []byte) (*maxDataFrame, int) {
	var max uint64
	n := getVarint(b, &max)
	if n == 0 {
		return nil, 0
	}
	return newMaxDataFrame(max), n
}

func (f *maxDataFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeMaxData)
	n += putVarint(b[n:], f.maximumData)
	return n
}

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(id, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: id, maximumData: max}
}
func (f *maxStreamDataFrame) frameType() uint64 { return frameTypeMaxStreamData }

func decodeMaxStreamDataFrame(b []byte) (*maxStreamDataFrame, int) {
	var id, max uint64
	n := getVarint(b, &id)
	if n == 0 {
		return nil, 0
	}
	m := getVarint(b[n:], &max)
	if m == 0 {
		return nil, 0
	}
	return newMaxStreamDataFrame(id, max), n + m
}

func (f *maxStreamDataFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeMaxStreamData)
	n += putVarint(b[n:], f.streamID)
	n += putVarint(b[n:], f.maximumData)
	return n
}

type maxStreamsFrame struct {
	maximumStreams uint64
	bidi           bool
}

func newMaxStreamsFrame(max uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{maximumStreams: max, bidi: bidi}
}
func (f *maxStreamsFrame) frameType() uint64 {
	if f.bidi {
		return frameTypeMaxStreamsBidi
	}
	return frameTypeMaxStreamsUni
}

func decodeMaxStreamsFrame(b []byte, typ uint64) (*maxStreamsFrame, int) {
	var max uint64
	n := getVarint(b, &max)
	if n == 0 {
		return nil, 0
	}
	return newMaxStreamsFrame(max, typ == frameTypeMaxStreamsBidi), n
}

func (f *maxStreamsFrame) encode(b []byte) int {
	n := putVarint(b, f.frameType())
	n += putVarint(b[n:], f.maximumStreams)
	return n
}

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{dataLimit: limit} }
func (f *dataBlockedFrame) frameType() uint64              { return frameTypeDataBlocked }

func decodeDataBlockedFrame(b []byte) (*dataBlockedFrame, int) {
	var limit uint64
	n := getVarint(b, &limit)
	if n == 0 {
		return nil, 0
	}
	return newDataBlockedFrame(limit), n
}

func (f *dataBlockedFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeDataBlocked)
	n += putVarint(b[n:], f.dataLimit)
	return n
}

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(id, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: id, dataLimit: limit}
}
func (f *streamDataBlockedFrame) frameType() uint64 { return frameTypeStreamDataBlocked }

func decodeStreamDataBlockedFrame(b []byte) (*streamDataBlockedFrame, int) {
	var id, limit uint64
	n := getVarint(b, &id)
	if n == 0 {
		return nil, 0
	}
	m := getVarint(b[n:], &limit)
	if m == 0 {
		return nil, 0
	}
	return newStreamDataBlockedFrame(id, limit), n + m
}

func (f *streamDataBlockedFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeStreamDataBlocked)
	n += putVarint(b[n:], f.streamID)
	n += putVarint(b[n:], f.dataLimit)
	return n
}

type streamsBlockedFrame struct {
	streamLimit uint64
	bidi        bool
}

func newStreamsBlockedFrame(limit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{streamLimit: limit, bidi: bidi}
}
func (f *streamsBlockedFrame) frameType() uint64 {
	if f.bidi {
		return frameTypeStreamsBlockedBidi
	}
	return frameTypeStreamsBlockedUni
}

func decodeStreamsBlockedFrame(b []byte, typ uint64) (*streamsBlockedFrame, int) {
	var limit uint64
	n := getVarint(b, &limit)
	if n == 0 {
		return nil, 0
	}
	return newStreamsBlockedFrame(limit, typ == frameTypeStreamsBlockedBidi), n
}

func (f *streamsBlockedFrame) encode(b []byte) int {
	n := putVarint(b, f.frameType())
	n += putVarint(b[n:], f.streamLimit)
	return n
}

type newConnectionIDFrame struct {
	sequence      uint64
	retirePriorTo uint64
	connID        []byte
	resetToken    [16]byte
}

func (f *newConnectionIDFrame) frameType() uint64 { return frameTypeNewConnectionID }

func decodeNewConnectionIDFrame(b []byte) (*newConnectionIDFrame, int) {
	f := &newConnectionIDFrame{}
	n := getVarint(b, &f.sequence)
	if n == 0 {
		return nil, 0
	}
	m := getVarint(b[n:], &f.retirePriorTo)
	if m == 0 {
		return nil, 0
	}
	n += m
	if len(b) <= n {
		return nil, 0
	}
	length := int(b[n])
	n++
	if length < MinCIDLength || length > MaxCIDLength || len(b)-n < length+16 {
		return nil, 0
	}
	f.connID = append([]byte(nil), b[n:n+length]...)
	n += length
	copy(f.resetToken[:], b[n:n+16])
	n += 16
	return f, n
}

func (f *newConnectionIDFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeNewConnectionID)
	n += putVarint(b[n:], f.sequence)
	n += putVarint(b[n:], f.retirePriorTo)
	b[n] = byte(len(f.connID))
	n++
	n += copy(b[n:], f.connID)
	n += copy(b[n:], f.resetToken[:])
	return n
}

type retireConnectionIDFrame struct {
	sequence uint64
}

func (f *retireConnectionIDFrame) frameType() uint64 { return frameTypeRetireConnectionID }

func decodeRetireConnectionIDFrame(b []byte) (*retireConnectionIDFrame, int) {
	var seq uint64
	n := getVarint(b, &seq)
	if n == 0 {
		return nil, 0
	}
	return &retireConnectionIDFrame{sequence: seq}, n
}

func (f *retireConnectionIDFrame) encode(b []byte) int {
	n := putVarint(b, frameTypeRetireConnectionID)
	n += putVarint(b[n:], f.sequence)
	return n
}

type pathChallengeFrame struct {
	data [8]byte
}

func (f *pathChallengeFrame) frameType() uint64 { return frameTypePathChallenge }

func decodePathChallengeFrame(b []byte) (*pathChallengeFrame, int) {
	if len(b) < 8 {
		return nil, 0
	}
	f := &pathChallengeFrame{}
	copy(f.data[:], b[:8])
	return f, 8
}

func (f *pathChallengeFrame) encode(b []byte) int {
	n := putVarint(b, frameTypePathChallenge)
	n += copy(b[n:], f.data[:])
	return n
}

type pathResponseFrame struct {
	data [8]byte
}

func (f *pathResponseFrame) frameType() uint64 { return frameTypePathResponse }

func decodePathResponseFrame(b []byte) (*pathResponseFrame, int) {
	if len(b) < 8 {
		return nil, 0
	}
	f := &pathResponseFrame{}
	copy(f.data[:], b[:8])
	return f, 8
}

func (f *pathResponseFrame) encode(b []byte) int {
	n := putVarint(b, frameTypePathResponse)
	n += copy(b[n:], f.data[:])
	return n
}

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType_   uint64
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reason []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{
		application:  application,
		errorCode:    errorCode,
		frameType_:   frameType,
		reasonPhrase: reason,
	}
}

func (f *connectionCloseFrame) frameType() uint64 {
	if f.application {
		return frameTypeApplicationClose
	}
	return frameTypeConnectionClose
}

func decodeConnectionCloseFrame(b []byte, application bool) (*connectionCloseFrame, int) {
	f := &connectionCloseFrame{application: application}
	n := getVarint(b, &f.errorCode)
	if n == 0 {
		return nil, 0
	}
	if !application {
		m := getVarint(b[n:], &f.frameType_)
		if m == 0 {
			return nil, 0
		}
		n += m
	}
	var length uint64
	m := getVarint(b[n:], &length)
	if m == 0 {
		return nil, 0
	}
	n += m
	if uint64(len(b)-n) < length {
		return nil, 0
	}
	f.reasonPhrase = b[n : n+int(length)]
	return f, n + int(length)
}

func (f *connectionCloseFrame) encode(b []byte) int {
	n := putVarint(b, f.frameType())
	n += putVarint(b[n:], f.errorCode)
	if !f.application {
		n += putVarint(b[n:], f.frameType_)
	}
	n += putVarint(b[n:], uint64(len(f.reasonPhrase)))
	n += copy(b[n:], f.reasonPhrase)
	return n
}

type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) frameType() uint64 { return frameTypeHandshakeDone }

func (f *handshakeDoneFrame) encode(b []byte) int {
	return putVarint(b, frameTypeHandshakeDone)
}
