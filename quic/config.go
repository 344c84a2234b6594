package quic

import (
	"crypto/rand"
	"crypto/tls"
	"io"

	"github.com/quicwire/quic/transport"
)

// DefaultCIDLength is the length of connection IDs this endpoint mints
// for itself, spec.md §4.5 (4..20 bytes; 8 gives the stateless-reset
// fallback path enough entropy to avoid accidental collision with a
// short-header packet's reserved bits).
const DefaultCIDLength = 8

// DefaultNumBufs is the pre-allocated receive-buffer pool size from
// spec.md §5's resource policy ("Buffer pool is pre-allocated at init").
const DefaultNumBufs = 10000

// Config is the run-loop-facing configuration SPEC_FULL.md §A.3 adds on
// top of transport.Config: buffer-pool sizing, the SRT derivation seed,
// and the CID length the endpoint uses for the connections it accepts.
type Config struct {
	// TLS is forwarded into every transport.Config the endpoint builds.
	TLS *tls.Config

	// Params seeds the local transport parameters; zero value falls
	// back to transport.DefaultParameters().
	Params transport.Parameters

	// RetryOnPort4434 is threaded straight through to transport.Config.
	// Neither package reads it: no Retry is sent whatever its value.
	RetryOnPort4434 bool

	// NumBufs sizes the receive-buffer pool; 0 means DefaultNumBufs.
	NumBufs int

	// Seed keys deriveStatelessResetToken for every connection this
	// endpoint accepts or originates (SPEC_FULL.md §C.6). The zero
	// value disables stateless reset (all tokens collide at all-zero).
	Seed [16]byte

	// CIDLength is the length of the connection IDs this endpoint mints
	// for connections it accepts, and the short-header DCID length it
	// assumes when routing. 0 means DefaultCIDLength. Connect does not
	// use it: transport.Connect always mints an 8-byte scid.
	CIDLength int

	// ALPN is not read by the endpoint or the transport; the application
	// protocols offered and accepted come from TLS.NextProtos.
	ALPN []string

	// Rand overrides the randomness source for CID/token generation;
	// nil means crypto/rand.
	Rand io.Reader
}

func (c *Config) numBufs() int {
	if c.NumBufs > 0 {
		return c.NumBufs
	}
	return DefaultNumBufs
}

func (c *Config) cidLength() int {
	if c.CIDLength > 0 {
		return c.CIDLength
	}
	return DefaultCIDLength
}

func (c *Config) rand() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

// transportConfig builds a fresh transport.Config for one connection.
// Each connection gets its own value (transport.Config is read once at
// newConn time) but they all share this Endpoint's TLS/Params/Seed.
func (c *Config) transportConfig(version uint32, handshake transport.TLSHandshake) *transport.Config {
	return &transport.Config{
		Version:         version,
		TLS:             handshake,
		Params:          c.Params,
		RetryOnPort4434: c.RetryOnPort4434,
		Rand:            c.rand(),
		Seed:            c.Seed,
	}
}
