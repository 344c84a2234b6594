package quic

import (
	"io"
	"net"
	"time"

	"github.com/quicwire/quic/transport"
)

// Conn is the application-facing view of one QUIC connection, the
// interface type client.go's Handler.Serve receives (kept narrow on
// purpose: everything that mutates endpoint-wide state, like migration
// or closing a listener, stays on Endpoint).
type Conn interface {
	RemoteAddr() net.Addr
	Stream(id uint64) *Stream
	Close(code uint64, reason string)
}

// remoteConn is the Endpoint's owning record for one connection: the
// core state machine plus the routing/logging metadata the run loop
// needs, spec.md §9's re-expression of conns_by_id/conns_by_ipnp as
// owning hash tables rather than intrusive structures.
type remoteConn struct {
	conn    *transport.Conn
	addr    net.Addr
	scid    []byte
	odcid   []byte
	groupID string
	handler Handler

	// generation guards against a stale handle outliving this slot: an
	// Endpoint map is keyed by scid/addr/srt strings, never by pointer,
	// so a closed-and-reused key cannot resurrect a deleted *remoteConn
	// (spec.md §9's "connection handles are indices or generation-
	// counted handles, never raw aliases").
	generation uint64
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }

func (c *remoteConn) Stream(id uint64) *Stream {
	return &Stream{conn: c.conn, id: id}
}

func (c *remoteConn) Close(code uint64, reason string) {
	c.conn.Close(true, code, reason)
}

// Stream is a single stream's read/write surface bound to one
// connection, the unit client.go's Serve handler reads and writes.
type Stream struct {
	conn *transport.Conn
	id   uint64
}

// ID returns the stream identifier this handle was bound to.
func (s *Stream) ID() uint64 { return s.id }

// Write sends b on the stream without closing it.
func (s *Stream) Write(b []byte) (int, error) {
	return s.conn.StreamWrite(s.id, b, false)
}

// Close sends a zero-length STREAM frame with FIN set, signaling no
// more data will be written (spec.md §8: "Empty STREAM frame with FIN
// delivers FIN and no bytes").
func (s *Stream) Close() error {
	_, err := s.conn.StreamWrite(s.id, nil, true)
	return err
}

// Read fills b with the next in-order bytes available on the stream,
// returning io.EOF once the peer's FIN has been delivered and drained.
func (s *Stream) Read(b []byte) (int, error) {
	n, fin, err := s.conn.StreamRead(s.id, b)
	if err != nil {
		return n, err
	}
	if n == 0 && fin {
		return 0, io.EOF
	}
	return n, nil
}

// quic-level synthetic events, appended to the events slice a
// remoteConn's Serve call receives alongside transport.Event values —
// client.go's Serve switches over both quic.EventConnAccept and
// transport.EventStreamReadable in the same loop, so these reuse the same
// transport.EventType space at a high offset that cannot collide with
// transport's own enumerators.
const (
	// EventConnAccept fires once, the first time a connection (client
	// or server side) is handed to a Handler.
	EventConnAccept transport.EventType = 0x40 + iota
	// EventConnClose fires once, when a connection is removed from its
	// Endpoint's routing tables.
	EventConnClose
)

func acceptEvent() transport.Event { return transport.Event{Type: EventConnAccept} }
func closeEvent() transport.Event  { return transport.Event{Type: EventConnClose} }

// idleDeadline returns the next instant any armed timer of c fires, or
// now when one is already due.
func idleDeadline(c *transport.Conn, now time.Time) time.Time {
	d := c.Timeout(now)
	if d <= 0 {
		return now
	}
	return now.Add(d)
}
