package quic

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quicwire/quic/transport"
)

// tlsAdapter implements transport.TLSHandshake (SPEC_FULL.md §6's TLS
// adapter contract) on top of the standard library's crypto/tls QUIC
// support (tls.QUICConn), the one piece of the handshake the module
// deliberately does NOT reimplement (spec.md §1's Non-goals: "full TLS").
// This is the concrete library living "outside the core" spec.md §6
// describes; transport.Conn only ever sees the TLSHandshake interface.
type tlsAdapter struct {
	qconn   *tls.QUICConn
	space   map[transport.PacketSpace][]byte // output bytes pending per epoch
	params  *transport.Parameters
	gotPeer bool
	readKey, writeKey []byte
	keySpace          transport.PacketSpace
	haveKeys          bool
	complete          bool
}

func newTLSAdapterClient(cfg *tls.Config) *tlsAdapter {
	return &tlsAdapter{
		qconn: tls.QUICClient(&tls.QUICConfig{TLSConfig: cfg}),
		space: make(map[transport.PacketSpace][]byte, 4),
	}
}

func newTLSAdapterServer(cfg *tls.Config) *tlsAdapter {
	return &tlsAdapter{
		qconn: tls.QUICServer(&tls.QUICConfig{TLSConfig: cfg}),
		space: make(map[transport.PacketSpace][]byte, 4),
	}
}

func toTLSLevel(space transport.PacketSpace) tls.QUICEncryptionLevel {
	switch space {
	case transport.PacketSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case transport.PacketSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func fromTLSLevel(level tls.QUICEncryptionLevel) transport.PacketSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return transport.PacketSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return transport.PacketSpaceHandshake
	default:
		return transport.PacketSpaceApplication
	}
}

// start kicks the handshake off (client: ClientHello; server: waits for
// the first RecvData to produce output) and drains the initial batch of
// events into s.space/s.readKey etc.
func (a *tlsAdapter) start() error {
	if err := a.qconn.Start(context.Background()); err != nil {
		return fmt.Errorf("tls: start handshake: %w", err)
	}
	return a.drain()
}

func (a *tlsAdapter) SetTransportParams(b []byte) error {
	a.qconn.SetTransportParameters(b)
	return nil
}

func (a *tlsAdapter) RecvData(space transport.PacketSpace, b []byte) error {
	if err := a.qconn.HandleData(toTLSLevel(space), b); err != nil {
		return fmt.Errorf("tls: handle data at %s: %w", space.String(), err)
	}
	return a.drain()
}

// drain pumps crypto/tls's QUICEvent stream (the stdlib's own encoding of
// spec.md §6's "output bytes per epoch, epoch transition, install-key
// callback, error code" tuple) into this adapter's buffers.
func (a *tlsAdapter) drain() error {
	for {
		ev := a.qconn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICWriteData:
			space := fromTLSLevel(ev.Level)
			a.space[space] = append(a.space[space], ev.Data...)
		case tls.QUICSetReadSecret:
			a.readKey = ev.Data
			a.keySpace = fromTLSLevel(ev.Level)
			a.haveKeys = true
		case tls.QUICSetWriteSecret:
			a.writeKey = ev.Data
			a.keySpace = fromTLSLevel(ev.Level)
			a.haveKeys = true
		case tls.QUICTransportParameters:
			p, err := transport.UnmarshalParameters(ev.Data)
			if err != nil {
				return fmt.Errorf("tls: peer transport parameters: %w", err)
			}
			a.params = p
			a.gotPeer = true
		case tls.QUICHandshakeDone:
			a.complete = true
		}
	}
}

func (a *tlsAdapter) ReadHandshake(space transport.PacketSpace, b []byte) (int, error) {
	pending := a.space[space]
	n := copy(b, pending)
	a.space[space] = pending[n:]
	return n, nil
}

func (a *tlsAdapter) PeerTransportParams() (*transport.Parameters, bool) {
	return a.params, a.gotPeer
}

func (a *tlsAdapter) NextKeys() (readSecret, writeSecret []byte, space transport.PacketSpace, ok bool) {
	if !a.haveKeys {
		return nil, nil, 0, false
	}
	readSecret, writeSecret, space = a.readKey, a.writeKey, a.keySpace
	a.readKey, a.writeKey = nil, nil
	a.haveKeys = false
	return readSecret, writeSecret, space, true
}

func (a *tlsAdapter) HandshakeComplete() bool {
	return a.complete
}

func (a *tlsAdapter) Export0RTTSecrets() (readSecret, writeSecret []byte, ok bool) {
	// 0-RTT resumption is outside this adapter's current scope; the
	// core's try0RTT path simply finds none available.
	return nil, nil, false
}
