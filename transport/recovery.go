package transport

import "time"

// Constants from spec.md §4.4.
const (
	kPacketThreshold           = 3
	kGranularity               = time.Millisecond
	kInitialRtt                = 333 * time.Millisecond
	kPersistentCongestionThreshold = 3
	kMaxDatagramSize           = 1452
	kMinimumWindowPackets      = 2
)

// lossRecovery is spec.md §3/§4.4's per-connection recovery state: RTT
// estimation, NewReno-style congestion control, and loss/PTO scheduling.
// One instance is shared across all three packet-number spaces, as the
// teacher's recovery module does (RTT and cwnd are connection-wide; only
// the alarms and sent-packet maps are per-space, and those live on
// packetNumberSpace itself).
type lossRecovery struct {
	minRTT    time.Duration
	srtt      time.Duration
	rttvar    time.Duration
	latestRTT time.Duration
	hasRTT    bool

	cwnd          uint64
	ssthresh      uint64
	bytesInFlight uint64
	recoveryStartTime time.Time
	inRecovery    bool

	ptoCount       uint64
	cryptoCount    uint64
	lastSentAckElicitTime [PacketSpaceCount]time.Time
	lastSentCryptoTime    time.Time

	peerMaxAckDelay time.Duration

	persistentCongestion bool
	ecnDisabled          bool
}

func (r *lossRecovery) init() {
	r.cwnd = initialCwnd()
	r.ssthresh = ^uint64(0)
	r.peerMaxAckDelay = 25 * time.Millisecond
}

// initialCwnd is spec.md §4.4's min(10*kMaxDatagramSize,
// max(2*kMaxDatagramSize, 14720)).
func initialCwnd() uint64 {
	v := 10 * kMaxDatagramSize
	if v > 14720 {
		v = 14720
	}
	if 2*kMaxDatagramSize > v {
		v = 2 * kMaxDatagramSize
	}
	return uint64(v)
}

func minimumWindow() uint64 {
	return kMinimumWindowPackets * kMaxDatagramSize
}

// updateRTT implements spec.md §4.4's RTT update: first sample sets
// srtt := latest_rtt, rttvar := latest_rtt/2; subsequent samples use the
// EWMA with ack-delay adjustment.
// ackDelay is the peer's decoded delay for this ACK (handshake-epoch
// ACKs are decoded with the fixed exponent of 3, data-epoch ACKs with
// the negotiated exponent — that decoding happens in the caller, since
// only it knows which space the ACK arrived in).
func (r *lossRecovery) updateRTT(latestRTT, ackDelay, maxAckDelay time.Duration) {
	r.latestRTT = latestRTT
	if !r.hasRTT || latestRTT < r.minRTT {
		r.minRTT = latestRTT
	}
	adjusted := latestRTT
	delay := ackDelay
	if delay > maxAckDelay {
		delay = maxAckDelay
	}
	if latestRTT-r.minRTT > delay {
		adjusted = latestRTT - delay
	}
	if !r.hasRTT {
		r.srtt = adjusted
		r.rttvar = adjusted / 2
		r.hasRTT = true
		return
	}
	diff := r.srtt - adjusted
	if diff < 0 {
		diff = -diff
	}
	r.rttvar = 3*r.rttvar/4 + diff/4
	r.srtt = 7*r.srtt/8 + adjusted/8
}

// lossDelay is spec.md §4.4's loss_del = max(kGranularity, 9/8*max(srtt,
// latest_rtt)).
func (r *lossRecovery) lossDelay() time.Duration {
	base := r.srtt
	if r.latestRTT > base {
		base = r.latestRTT
	}
	d := base * 9 / 8
	if d < kGranularity {
		d = kGranularity
	}
	return d
}

// ptoTimeout is spec.md §4.4's PTO arming: last_sent_ack_elicit_t +
// (srtt + max(4*rttvar, kGranularity) + peer_max_ack_delay) * 2^pto_cnt.
func (r *lossRecovery) ptoTimeout(space PacketSpace) time.Duration {
	v := 4 * r.rttvar
	if v < kGranularity {
		v = kGranularity
	}
	base := r.srtt + v + r.peerMaxAckDelay
	return base << r.ptoCount
}

// cryptoTimeout is spec.md §4.4's crypto retransmission timer:
// last_sent_crypto_t + 2*max(srtt, kInitialRtt)*2^crypto_cnt.
func (r *lossRecovery) cryptoTimeout() time.Duration {
	base := r.srtt
	if base < kInitialRtt {
		base = kInitialRtt
	}
	return 2 * base << r.cryptoCount
}

// onPacketSent updates in-flight accounting; called for every
// ack-eliciting packet, spec.md §4.4/§8.
func (r *lossRecovery) onPacketSent(space PacketSpace, size int, ackEliciting bool, now time.Time) {
	if ackEliciting {
		r.bytesInFlight += uint64(size)
		r.lastSentAckElicitTime[space] = now
	}
}

// onPacketAcked applies spec.md §4.4's congestion-window growth rule:
// slow-start below ssthresh, congestion-avoidance above it.
func (r *lossRecovery) onPacketAcked(udpLen int, sentTime time.Time) {
	r.ptoCount = 0
	if r.bytesInFlight >= uint64(udpLen) {
		r.bytesInFlight -= uint64(udpLen)
	} else {
		r.bytesInFlight = 0
	}
	if r.inRecovery && sentTime.Before(r.recoveryStartTime) {
		return
	}
	r.inRecovery = false
	if r.cwnd < r.ssthresh {
		r.cwnd += uint64(udpLen)
	} else {
		r.cwnd += kMaxDatagramSize * uint64(udpLen) / r.cwnd
	}
}

// onCongestionEvent implements spec.md §4.4's congestion event: "if the
// triggering packet was sent after rec_start_t, set rec_start_t := now,
// cwnd := max(cwnd/2, kMinimumWindow), ssthresh := cwnd."
func (r *lossRecovery) onCongestionEvent(sentTime, now time.Time) {
	if r.inRecovery && sentTime.Before(r.recoveryStartTime) {
		return
	}
	r.recoveryStartTime = now
	r.inRecovery = true
	half := r.cwnd / 2
	if half < minimumWindow() {
		half = minimumWindow()
	}
	r.cwnd = half
	r.ssthresh = r.cwnd
}

// onPTO bumps the probe count and, once kPersistentCongestionThreshold
// consecutive PTOs have fired, disables ECN per spec.md §4.4.
func (r *lossRecovery) onPTO() {
	r.ptoCount++
	if r.ptoCount >= kPersistentCongestionThreshold {
		r.ecnDisabled = true
		r.persistentCongestion = true
	}
}

func (r *lossRecovery) onCryptoTimeout() {
	r.cryptoCount++
}

func (r *lossRecovery) congestionWindowAvailable() uint64 {
	if r.bytesInFlight >= r.cwnd {
		return 0
	}
	return r.cwnd - r.bytesInFlight
}

// detectLost walks a space's sent-packet map applying spec.md §4.4's
// two loss criteria and returns the newly-lost packets; caller is
// responsible for triggering the congestion event and retransmission.
func (r *lossRecovery) detectLost(space *packetNumberSpace, now time.Time) []*sentPacket {
	if !space.hasLargestAcked {
		return nil
	}
	lossDelay := r.lossDelay()
	var lost []*sentPacket
	for pn, sp := range space.sent {
		if sp.acked || sp.lost {
			continue
		}
		if pn > space.largestAcked {
			continue
		}
		byCount := space.largestAcked-pn >= kPacketThreshold
		byTime := now.Sub(sp.sentTime) >= lossDelay
		if byCount || byTime {
			sp.lost = true
			lost = append(lost, sp)
		}
	}
	return lost
}

// earliestLossTime returns the sent time of the earliest ack-eliciting
// packet in space that is neither acked nor lost. No timer in this
// package is armed from it.
func (r *lossRecovery) earliestLossTime(space *packetNumberSpace) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, sp := range space.sent {
		if sp.acked || sp.lost || !sp.ackEliciting {
			continue
		}
		if !found || sp.sentTime.Before(earliest) {
			earliest = sp.sentTime
			found = true
		}
	}
	return earliest, found
}
