package transport

import "sort"

// streamState is spec.md §3's {idle, open, hclo, hcrm, clsd}.
type streamState uint8

const (
	streamIdle streamState = iota
	streamOpen
	streamHalfClosedLocal
	streamHalfClosedRemote
	streamClosed
)

// Stream-id low bits, RFC 9000 §2.1.
const (
	streamInitiatorClient = 0x0
	streamInitiatorServer = 0x1
	streamDirBidi         = 0x0
	streamDirUni          = 0x2
)

func streamIsClientInitiated(id uint64) bool { return id&0x1 == streamInitiatorClient }
func streamIsBidi(id uint64) bool            { return id&0x2 == streamDirBidi }

// oooChunk is one out-of-order reassembly entry, spec.md §3's in_ooo
// keyed by offset.
type oooChunk struct {
	offset uint64
	data   []byte
}

// Stream is spec.md §3's per-stream record: ordered inbound reassembly,
// outbound retransmission queue, and flow-control counters.
type Stream struct {
	id    uint64
	local bool // true if this endpoint is the initiator

	state streamState

	// Outbound.
	outBuf      []byte // every byte ever written, offset 0-based
	outUna      uint64 // first unacknowledged offset (out_una)
	outData     uint64 // next offset to send
	outDataMax  uint64 // peer-granted ceiling (out_data_max)
	outBlocked  bool
	outFin      bool
	outFinSent  bool
	outFinAcked bool

	// Inbound.
	inData    []byte // contiguous delivered bytes, ready for Read
	inDataOff uint64 // next expected offset (in_data_off)
	inDataMax uint64 // locally-granted ceiling (in_data_max)
	inOOO     []oooChunk
	inFin     bool
	inFinSize uint64
	gotFin    bool
}

func newStream(id uint64, local bool, inMax, outMax uint64) *Stream {
	return &Stream{
		id:         id,
		local:      local,
		state:      streamIdle,
		inDataMax:  inMax,
		outDataMax: outMax,
	}
}

// writable reports whether Write can accept more bytes right now.
func (s *Stream) writable() bool {
	return s.state != streamClosed && s.state != streamHalfClosedLocal
}

// Write appends b to the outbound queue, subject to the peer-granted
// flow-control ceiling; it returns the number of bytes accepted. When
// the ceiling cuts a write short it sets outBlocked; no DATA_BLOCKED or
// STREAM_DATA_BLOCKED frame is sent.
func (s *Stream) Write(b []byte) int {
	avail := s.outDataMax - uint64(len(s.outBuf))
	if avail == 0 {
		s.outBlocked = true
		return 0
	}
	n := len(b)
	if uint64(n) > avail {
		n = int(avail)
	}
	s.outBuf = append(s.outBuf, b[:n]...)
	s.outBlocked = uint64(n) < uint64(len(b))
	if s.state == streamIdle {
		s.state = streamOpen
	}
	return n
}

// Close marks no more outbound bytes will be written (FIN).
func (s *Stream) Close() {
	s.outFin = true
}

// pending returns the outbound bytes in [outData, len(outBuf)) not yet
// sent, and whether the stream's FIN is due in this range.
func (s *Stream) pending() (data []byte, fin bool) {
	data = s.outBuf[s.outData:]
	fin = s.outFin && !s.outFinSent
	return data, fin
}

// onDataSent records that [outData, outData+n) has gone out on the wire;
// advances the send cursor (not an ack — retransmission still has the
// bytes in outBuf until ackUpTo releases them).
func (s *Stream) onDataSent(n int, fin bool) {
	s.outData += uint64(n)
	if fin {
		s.outFinSent = true
		if s.state == streamOpen {
			s.state = streamHalfClosedLocal
		}
	}
}

// ackUpTo releases outbound bytes below off now that the peer has
// acknowledged receiving them.
func (s *Stream) ackUpTo(off uint64, fin bool) {
	if off > s.outUna {
		s.outUna = off
	}
	if fin {
		s.outFinAcked = true
	}
}

// retransmit rewinds the send cursor to resend [off, off+n) after a loss
// (spec.md scenario 4: "the payload is retransmitted in a new packet").
func (s *Stream) retransmit(off uint64) {
	if off < s.outData {
		s.outData = off
	}
	if off < s.outUna {
		s.outFinSent = false
	}
}

// pushRecv reassembles an inbound STREAM/CRYPTO payload at the given
// offset, spec.md §4.3's DIET-style OOO splicing: "When the in-order
// offset advances, contiguous OOO entries are spliced into the in-order
// queue in order; fully-behind entries are dropped; overlaps are
// rejected." Returns the number of newly-delivered (in-order) bytes.
func (s *Stream) pushRecv(data []byte, offset uint64, fin bool) (int, error) {
	if s.gotFin && (offset+uint64(len(data)) > s.inFinSize || (fin && offset+uint64(len(data)) != s.inFinSize)) {
		return 0, newError(FinalSizeError, "data beyond final size")
	}
	if fin {
		finSize := offset + uint64(len(data))
		if s.gotFin && finSize != s.inFinSize {
			return 0, newError(FinalSizeError, "conflicting final size")
		}
		s.gotFin = true
		s.inFinSize = finSize
	}
	end := offset + uint64(len(data))
	if end <= s.inDataOff {
		// Entirely behind the delivered cursor: duplicate, drop.
		if fin && len(data) == 0 && offset == s.inDataOff {
			return s.deliverFin()
		}
		return 0, nil
	}
	if offset < s.inDataOff {
		// Overlaps the front: trim the already-delivered prefix.
		skip := s.inDataOff - offset
		data = data[skip:]
		offset = s.inDataOff
	}
	if offset == s.inDataOff {
		s.inData = append(s.inData, data...)
		s.inDataOff += uint64(len(data))
		n := len(data)
		spliced, err := s.spliceOOO()
		if err != nil {
			return 0, err
		}
		n += spliced
		if s.gotFin && s.inDataOff == s.inFinSize {
			fn, _ := s.deliverFin()
			n += fn
		}
		return n, nil
	}
	s.insertOOO(offset, data)
	return 0, nil
}

func (s *Stream) deliverFin() (int, error) {
	if !s.inFin {
		s.inFin = true
		if s.state == streamOpen {
			s.state = streamHalfClosedRemote
		} else if s.state == streamHalfClosedLocal {
			s.state = streamClosed
		}
	}
	return 0, nil
}

// insertOOO inserts data at offset into the out-of-order set, rejecting
// overlaps with an existing entry per spec.md §4.3 ("overlaps are
// rejected — we do not copy-merge overlapping ranges").
func (s *Stream) insertOOO(offset uint64, data []byte) {
	end := offset + uint64(len(data))
	i := sort.Search(len(s.inOOO), func(i int) bool { return s.inOOO[i].offset >= offset })
	if i > 0 {
		prev := s.inOOO[i-1]
		if prev.offset+uint64(len(prev.data)) > offset {
			return // overlap with predecessor, reject
		}
	}
	if i < len(s.inOOO) && s.inOOO[i].offset < end {
		return // overlap with successor, reject
	}
	chunk := oooChunk{offset: offset, data: append([]byte(nil), data...)}
	s.inOOO = append(s.inOOO, oooChunk{})
	copy(s.inOOO[i+1:], s.inOOO[i:])
	s.inOOO[i] = chunk
}

// spliceOOO moves contiguous OOO entries into the in-order queue now
// that inDataOff has advanced to (possibly) meet them.
func (s *Stream) spliceOOO() (int, error) {
	n := 0
	for len(s.inOOO) > 0 && s.inOOO[0].offset <= s.inDataOff {
		c := s.inOOO[0]
		end := c.offset + uint64(len(c.data))
		if end <= s.inDataOff {
			s.inOOO = s.inOOO[1:]
			continue
		}
		skip := s.inDataOff - c.offset
		s.inData = append(s.inData, c.data[skip:]...)
		delivered := len(c.data) - int(skip)
		s.inDataOff += uint64(delivered)
		n += delivered
		s.inOOO = s.inOOO[1:]
	}
	return n, nil
}

// Read drains delivered in-order bytes into b, FIFO.
func (s *Stream) Read(b []byte) (int, bool) {
	n := copy(b, s.inData)
	s.inData = s.inData[n:]
	fin := s.inFin && len(s.inData) == 0
	return n, fin
}

func (s *Stream) readable() bool {
	return len(s.inData) > 0 || s.inFin
}

// streamMap owns every Stream on a connection, indexed by id, plus the
// negotiated id ceilings used to validate new ids (spec.md §4.3:
// "a stream id greater than the negotiated max for its direction/
// initiator is fatal STREAM_ID_ERROR").
type streamMap struct {
	streams map[uint64]*Stream

	maxStreamsBidiLocal  uint64
	maxStreamsBidiRemote uint64
	maxStreamsUniLocal   uint64
	maxStreamsUniRemote  uint64

	nextBidi uint64
	nextUni  uint64
}

func (m *streamMap) init() {
	m.streams = make(map[uint64]*Stream)
}

func (m *streamMap) get(id uint64) (*Stream, bool) {
	s, ok := m.streams[id]
	return s, ok
}

func (m *streamMap) maxAllowed(id uint64, isClient bool) uint64 {
	clientInit := streamIsClientInitiated(id)
	bidi := streamIsBidi(id)
	localIsInitiator := clientInit == isClient
	switch {
	case bidi && localIsInitiator:
		return m.maxStreamsBidiLocal
	case bidi && !localIsInitiator:
		return m.maxStreamsBidiRemote
	case !bidi && localIsInitiator:
		return m.maxStreamsUniLocal
	default:
		return m.maxStreamsUniRemote
	}
}

// streamOrdinal returns the zero-based ordinal a stream id encodes,
// used to compare against a MAX_STREAMS ceiling.
func streamOrdinal(id uint64) uint64 {
	return id >> 2
}
