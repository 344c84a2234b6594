package transport

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Transport parameter identifiers, spec.md §6 / RFC 9000 §18.2.
const (
	paramOriginalDestinationCID paramID = 0x00
	paramIdleTimeout            paramID = 0x01
	paramStatelessResetToken    paramID = 0x02
	paramMaxPacketSize          paramID = 0x03
	paramInitialMaxData         paramID = 0x04
	paramInitialMaxStreamDataBidiLocal  paramID = 0x05
	paramInitialMaxStreamDataBidiRemote paramID = 0x06
	paramInitialMaxStreamDataUni        paramID = 0x07
	paramInitialMaxStreamsBidi  paramID = 0x08
	paramInitialMaxStreamsUni   paramID = 0x09
	paramAckDelayExponent       paramID = 0x0a
	paramMaxAckDelay            paramID = 0x0b
	paramDisableMigration       paramID = 0x0c
	paramPreferredAddress       paramID = 0x0d
	paramActiveConnectionIDLimit paramID = 0x0e
	paramInitialSourceCID       paramID = 0x0f
	paramRetrySourceCID         paramID = 0x10
)

type paramID uint64

// greaseParamBase marks an arbitrary-payload "grease" parameter per
// spec.md §6: "a grease entry of type 0xff00 | r ... must be emitted on
// TX." r and the payload are drawn from crypto/rand on every marshal
// call, so each encoding carries a different grease entry.
const greaseParamBase = 0xff00

// PreferredAddress is the decoded payload of transport parameter 0x0d.
// SPEC_FULL.md §C.4: parsed for active_connection_id_limit accounting
// only; the core never migrates to it automatically.
type PreferredAddress struct {
	IPv4       [4]byte
	IPv4Port   uint16
	IPv6       [16]byte
	IPv6Port   uint16
	ConnID     []byte
	ResetToken [16]byte
}

// Parameters is the set of QUIC transport parameters, spec.md §6.
type Parameters struct {
	OriginalDestinationCID []byte
	MaxIdleTimeout         time.Duration
	StatelessResetToken    []byte
	MaxUDPPayloadSize      uint64
	InitialMaxData         uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni  uint64
	AckDelayExponent      uint64
	MaxAckDelay           time.Duration
	DisableActiveMigration bool
	PreferredAddress      *PreferredAddress
	ActiveConnIDLimit     uint64
	InitialSourceCID      []byte
	RetrySourceCID        []byte
}

// Default values, RFC 9000 §18.2.
const (
	defaultAckDelayExponent  = 3
	defaultMaxAckDelay       = 25 * time.Millisecond
	defaultActiveConnIDLimit = 2
	minActiveConnIDLimit     = 2
)

// DefaultParameters returns the parameter set a conforming endpoint uses
// absent any application configuration.
func DefaultParameters() Parameters {
	return Parameters{
		MaxIdleTimeout:        30 * time.Second,
		MaxUDPPayloadSize:     1452,
		InitialMaxData:        786432,
		InitialMaxStreamDataBidiLocal:  524288,
		InitialMaxStreamDataBidiRemote: 524288,
		InitialMaxStreamDataUni:        524288,
		InitialMaxStreamsBidi: 128,
		InitialMaxStreamsUni:  128,
		AckDelayExponent:      defaultAckDelayExponent,
		MaxAckDelay:           defaultMaxAckDelay,
		ActiveConnIDLimit:     defaultActiveConnIDLimit,
	}
}

func (p *Parameters) HasPreferredAddress() bool {
	return p.PreferredAddress != nil
}

// marshal encodes p as the 0xffa5 TLS extension body.
func (p *Parameters) marshal() ([]byte, error) {
	b := make([]byte, 0, 256)
	put := func(id paramID, payload []byte) {
		h := make([]byte, 2*10)
		n := putVarint(h, uint64(id))
		n += putVarint(h[n:], uint64(len(payload)))
		b = append(b, h[:n]...)
		b = append(b, payload...)
	}
	putVarintParam := func(id paramID, v uint64) {
		var tmp [10]byte
		n := putVarint(tmp[:], v)
		put(id, tmp[:n])
	}
	if len(p.OriginalDestinationCID) > 0 {
		put(paramOriginalDestinationCID, p.OriginalDestinationCID)
	}
	if p.MaxIdleTimeout > 0 {
		putVarintParam(paramIdleTimeout, uint64(p.MaxIdleTimeout/time.Millisecond))
	}
	if len(p.StatelessResetToken) == 16 {
		put(paramStatelessResetToken, p.StatelessResetToken)
	}
	if p.MaxUDPPayloadSize > 0 {
		putVarintParam(paramMaxPacketSize, p.MaxUDPPayloadSize)
	}
	putVarintParam(paramInitialMaxData, p.InitialMaxData)
	putVarintParam(paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	putVarintParam(paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	putVarintParam(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	putVarintParam(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	putVarintParam(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	if p.AckDelayExponent != defaultAckDelayExponent {
		putVarintParam(paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay != defaultMaxAckDelay {
		putVarintParam(paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	}
	if p.DisableActiveMigration {
		put(paramDisableMigration, nil)
	}
	if p.PreferredAddress != nil {
		put(paramPreferredAddress, encodePreferredAddress(p.PreferredAddress))
	}
	putVarintParam(paramActiveConnectionIDLimit, p.ActiveConnIDLimit)
	put(paramInitialSourceCID, p.InitialSourceCID)
	if len(p.RetrySourceCID) > 0 {
		put(paramRetrySourceCID, p.RetrySourceCID)
	}
	// Grease, spec.md §6: random type 0xff00|r with random payload.
	var r [1]byte
	rand.Read(r[:])
	greasePayload := make([]byte, 1+int(r[0]&0x0f))
	rand.Read(greasePayload)
	put(paramID(greaseParamBase|uint64(r[0])), greasePayload)
	return b, nil
}

func encodePreferredAddress(a *PreferredAddress) []byte {
	b := make([]byte, 0, 64)
	b = append(b, a.IPv4[:]...)
	b = binary.BigEndian.AppendUint16(b, a.IPv4Port)
	b = append(b, a.IPv6[:]...)
	b = binary.BigEndian.AppendUint16(b, a.IPv6Port)
	b = append(b, byte(len(a.ConnID)))
	b = append(b, a.ConnID...)
	b = append(b, a.ResetToken[:]...)
	return b
}

func decodePreferredAddress(b []byte) (*PreferredAddress, error) {
	if len(b) < 4+2+16+2+1 {
		return nil, newError(TransportParameterError, "preferred_address too short")
	}
	a := &PreferredAddress{}
	n := copy(a.IPv4[:], b)
	a.IPv4Port = binary.BigEndian.Uint16(b[n:])
	n += 2
	n += copy(a.IPv6[:], b[n:])
	a.IPv6Port = binary.BigEndian.Uint16(b[n:])
	n += 2
	cl := int(b[n])
	n++
	if cl > MaxCIDLength || len(b)-n < cl+16 {
		return nil, newError(TransportParameterError, "preferred_address cid/token overrun")
	}
	a.ConnID = append([]byte(nil), b[n:n+cl]...)
	n += cl
	copy(a.ResetToken[:], b[n:n+16])
	return a, nil
}

// UnmarshalParameters decodes the 0xffa5 extension body sent by the
// peer. Duplicates are fatal (spec.md §6); an unknown id, including a
// grease entry, is ignored.
func UnmarshalParameters(b []byte) (*Parameters, error) {
	p := &Parameters{}
	seen := map[paramID]bool{}
	for len(b) > 0 {
		var id, length uint64
		n := getVarint(b, &id)
		if n == 0 {
			return nil, newError(TransportParameterError, "truncated parameter id")
		}
		b = b[n:]
		n = getVarint(b, &length)
		if n == 0 {
			return nil, newError(TransportParameterError, "truncated parameter length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return nil, newError(TransportParameterError, "truncated parameter value")
		}
		val := b[:length]
		b = b[length:]
		pid := paramID(id)
		if seen[pid] {
			return nil, newError(TransportParameterError, "duplicate transport parameter")
		}
		seen[pid] = true
		if err := applyParameter(p, pid, val); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func applyParameter(p *Parameters, id paramID, val []byte) error {
	getv := func() (uint64, error) {
		var v uint64
		n := getVarint(val, &v)
		if n == 0 || n != len(val) {
			return 0, newError(TransportParameterError, "malformed varint parameter")
		}
		return v, nil
	}
	switch id {
	case paramOriginalDestinationCID:
		p.OriginalDestinationCID = append([]byte(nil), val...)
	case paramIdleTimeout:
		v, err := getv()
		if err != nil {
			return err
		}
		p.MaxIdleTimeout = time.Duration(v) * time.Millisecond
	case paramStatelessResetToken:
		if len(val) != 16 {
			return newError(TransportParameterError, "stateless_reset_token must be 16 bytes")
		}
		p.StatelessResetToken = append([]byte(nil), val...)
	case paramMaxPacketSize:
		v, err := getv()
		if err != nil {
			return err
		}
		if v < 1200 {
			return newError(TransportParameterError, "max_packet_size below 1200")
		}
		p.MaxUDPPayloadSize = v
	case paramInitialMaxData:
		v, err := getv()
		if err != nil {
			return err
		}
		p.InitialMaxData = v
	case paramInitialMaxStreamDataBidiLocal:
		v, err := getv()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiLocal = v
	case paramInitialMaxStreamDataBidiRemote:
		v, err := getv()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiRemote = v
	case paramInitialMaxStreamDataUni:
		v, err := getv()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataUni = v
	case paramInitialMaxStreamsBidi:
		v, err := getv()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsBidi = v
	case paramInitialMaxStreamsUni:
		v, err := getv()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsUni = v
	case paramAckDelayExponent:
		v, err := getv()
		if err != nil {
			return err
		}
		if v > 20 {
			return newError(TransportParameterError, "ack_delay_exponent exceeds 20")
		}
		p.AckDelayExponent = v
	case paramMaxAckDelay:
		v, err := getv()
		if err != nil {
			return err
		}
		if v >= 1<<14 {
			return newError(TransportParameterError, "max_ack_delay exceeds 2^14")
		}
		p.MaxAckDelay = time.Duration(v) * time.Millisecond
	case paramDisableMigration:
		p.DisableActiveMigration = true
	case paramPreferredAddress:
		pa, err := decodePreferredAddress(val)
		if err != nil {
			return err
		}
		p.PreferredAddress = pa
	case paramActiveConnectionIDLimit:
		v, err := getv()
		if err != nil {
			return err
		}
		if v < minActiveConnIDLimit {
			return newError(TransportParameterError, "active_connection_id_limit below 2")
		}
		p.ActiveConnIDLimit = v
	case paramInitialSourceCID:
		p.InitialSourceCID = append([]byte(nil), val...)
	case paramRetrySourceCID:
		p.RetrySourceCID = append([]byte(nil), val...)
	default:
		// Unknown (including grease): ignored, spec.md §6.
	}
	return nil
}
