package transport

import (
	"crypto/rand"
	"io"
)

// Config carries everything a Conn needs that is not per-connection
// state, SPEC_FULL.md §A.3. It is read once at newConn time; mutating it
// afterwards has no effect on connections already created from it.
type Config struct {
	// Version is the QUIC wire version this endpoint speaks.
	Version uint32

	// TLS is the handshake adapter (spec.md §6). Tests substitute a fake
	// implementation; production wiring lives in the quic package.
	TLS TLSHandshake

	// Params seeds the local transport parameters advertised at the
	// handshake; zero value falls back to DefaultParameters().
	Params Parameters

	// RetryOnPort4434 is the configuration flag for the port-4434 Retry
	// interop behavior named in spec.md §9. Nothing in this package
	// reads it: a server connection never sends Retry and accepts an
	// Initial without checking a token, whatever its value.
	RetryOnPort4434 bool

	// Rand is the randomness source for CIDs and PATH_CHALLENGE data;
	// defaults to crypto/rand so tests can supply a deterministic
	// reader. Grease transport parameters always use crypto/rand.
	Rand io.Reader

	// Seed keys deriveStatelessResetToken for CIDs this endpoint issues
	// (SPEC_FULL.md §C.6). Zero value derives unusable all-zero tokens;
	// callers that care about stateless reset must set this.
	Seed [16]byte
}

func (c *Config) rand() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

// params returns the configured local transport parameters, falling
// back to DefaultParameters() when the caller left Config.Params at its
// zero value. MaxUDPPayloadSize is used as the "configured" sentinel
// since every real parameter set sets it to at least 1200 (spec.md §6).
func (c *Config) params() Parameters {
	if c.Params.MaxUDPPayloadSize == 0 {
		return DefaultParameters()
	}
	return c.Params
}
