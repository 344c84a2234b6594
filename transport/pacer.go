package transport

import (
	"time"

	"golang.org/x/time/rate"
)

// pacer spreads a congestion window's worth of datagrams across the
// estimated RTT instead of writing them back to back, SPEC_FULL.md §C.3.
// Congestion control (recovery.go) bounds how much may be in flight; the
// pacer bounds how fast it may leave, which in a real deployment is what
// keeps a cwnd-sized flight from arriving at a bottleneck as one burst.
type pacer struct {
	limiter *rate.Limiter
}

// retune reconfigures the token bucket for the current cwnd/srtt
// estimate: the bucket refills at cwnd/srtt bytes per second and can
// burst one maximum datagram, so the first packet of a flight is never
// held up by pacing.
func (p *pacer) retune(cwnd uint64, srtt time.Duration) {
	if srtt <= 0 {
		srtt = kInitialRtt
	}
	bytesPerSec := float64(cwnd) / srtt.Seconds()
	if p.limiter == nil {
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), kMaxDatagramSize)
		return
	}
	p.limiter.SetLimit(rate.Limit(bytesPerSec))
}

// allow reports whether n bytes may be sent now without exceeding the
// paced rate; it does not block, matching spec.md §5's "all other
// primitives are non-blocking" — a denied send just waits for the next
// run-loop tick rather than parking the goroutine.
func (p *pacer) allow(n int) bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.AllowN(time.Now(), n)
}
