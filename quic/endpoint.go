package quic

import (
	"encoding/hex"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quicwire/quic/transport"
)

// Endpoint owns every connection bound to one UDP socket: the three
// routing tables spec.md §9 names (by local CID, by remote address, by
// stateless-reset token) and the single-threaded run loop (§4.7) that
// drives them. All three tables are keyed by value (hex-encoded byte
// strings, not pointers), so a closed connection's slot can never be
// resurrected by a stale handle — spec.md §9's "connection handles are
// indices or generation-counted handles, never raw aliases."
// connsBySRT is allocated but nothing inserts into it or looks a
// datagram up in it: routing uses only the CID and address tables.
type Endpoint struct {
	config  *Config
	socket  socket
	handler Handler
	logger  logger
	pool    *bufPool

	mu          sync.Mutex
	connsByCID  map[string]*remoteConn
	connsByAddr map[string]*remoteConn
	connsBySRT  map[string]*remoteConn
	generation  uint64

	closing chan struct{}
	closed  chan struct{}
	once    sync.Once
}

// NewEndpoint prepares an Endpoint from config; no socket is bound yet
// (see ListenAndServe). Both clients and servers are Endpoints (spec.md's
// "client" and "server" differ only in whether Connect or the RX-driven
// accept path creates the first connection) — quic.NewClient and
// quic.NewServer are thin naming wrappers over this type, matching the
// shape client.go's `quic.NewClient(config)` / `client.ListenAndServe`
// / `client.Connect` call sequence expects.
func NewEndpoint(config *Config) *Endpoint {
	if config == nil {
		config = &Config{}
	}
	return &Endpoint{
		config:      config,
		connsByCID:  make(map[string]*remoteConn),
		connsByAddr: make(map[string]*remoteConn),
		connsBySRT:  make(map[string]*remoteConn),
		closing:     make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// SetHandler installs the Handler invoked once per run-loop pass for
// every connection with pending events.
func (e *Endpoint) SetHandler(h Handler) { e.handler = h }

// SetLogger wires a leveled text sink for every connection's qlog
// stream, SPEC_FULL.md §A.1.
func (e *Endpoint) SetLogger(level int, w io.Writer) {
	e.logger.level = logLevel(level)
	e.logger.setWriter(w)
}

func cidKey(cid []byte) string { return hex.EncodeToString(cid) }

// Connect originates a client connection to addr and registers it under
// its initial scid/dcid before the first Initial packet is even sent —
// spec.md §4.7's "connect" API call.
func (e *Endpoint) Connect(addr string) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	handshake := newTLSAdapterClient(e.config.TLS)
	if err := handshake.start(); err != nil {
		return nil, err
	}
	cfg := e.config.transportConfig(transport.QUICVersion1, handshake)
	c, err := transport.Connect(raddr, cfg)
	if err != nil {
		return nil, err
	}
	rc := e.register(c, raddr, nil)
	return rc, nil
}

// accept handles an inbound Initial packet from an address this
// Endpoint has no connection for, spec.md §4.7's server-side half of
// the "connect"/"accept" pair. It mints this endpoint's own fresh scid
// (spec.md §3: "server switches scid to a fresh random value") before
// handing off to transport.Accept.
func (e *Endpoint) accept(odcid []byte, from net.Addr) (*remoteConn, error) {
	scid := make([]byte, e.config.cidLength())
	if _, err := e.config.rand().Read(scid); err != nil {
		return nil, err
	}
	handshake := newTLSAdapterServer(e.config.TLS)
	cfg := e.config.transportConfig(transport.QUICVersion1, handshake)
	c, err := transport.Accept(from, scid, odcid, cfg)
	if err != nil {
		return nil, err
	}
	return e.register(c, from, odcid), nil
}

func (e *Endpoint) register(c *transport.Conn, addr net.Addr, odcid []byte) *remoteConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	// The connection's own CID manager (spec.md §4.5) chose its active
	// scid inside Connect/Accept; the routing table must key on that
	// exact value, not a second independently-minted one.
	scid := append([]byte(nil), c.SourceID()...)
	rc := &remoteConn{
		conn:       c,
		addr:       addr,
		scid:       scid,
		odcid:      odcid,
		groupID:    newQlogGroupID(),
		handler:    e.handler,
		generation: e.generation,
	}
	e.connsByCID[cidKey(scid)] = rc
	e.connsByAddr[addr.String()] = rc
	e.logger.attachLogger(rc)
	if e.handler != nil {
		e.handler.Serve(rc, []transport.Event{acceptEvent()})
	}
	return rc
}

func (e *Endpoint) unregister(rc *remoteConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.connsByCID, cidKey(rc.scid))
	delete(e.connsByAddr, rc.addr.String())
	e.logger.detachLogger(rc)
	if rc.handler != nil {
		rc.handler.Serve(rc, []transport.Event{closeEvent()})
	}
}

func (e *Endpoint) lookup(addr net.Addr) (*remoteConn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rc, ok := e.connsByAddr[addr.String()]
	return rc, ok
}

func (e *Endpoint) lookupByCID(cid []byte) (*remoteConn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rc, ok := e.connsByCID[cidKey(cid)]
	return rc, ok
}

func (e *Endpoint) connections() []*remoteConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*remoteConn, 0, len(e.connsByCID))
	for _, rc := range e.connsByCID {
		out = append(out, rc)
	}
	return out
}

// ListenAndServe binds addr and starts the single-threaded cooperative
// loop (spec.md §4.7) in a background goroutine, returning as soon as
// the socket is bound — matching client.go's call sequence, where
// ListenAndServe is immediately followed by Connect on the same
// Endpoint. Run-loop errors are delivered to the Handler's next Serve
// call via a synthetic EventConnClose on every live connection; callers
// that need the error itself should inspect the logger output.
func (e *Endpoint) ListenAndServe(addr string) error {
	sock, err := newPlatformSocket(addr)
	if err != nil {
		return err
	}
	e.socket = sock
	e.pool = newBufPool(e.config.numBufs())
	go e.run()
	return nil
}

func (e *Endpoint) run() {
	bufs := make([]*packetBuf, 1)
	bufs[0] = e.pool.get()
	txBuf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-e.closing:
			close(e.closed)
			return
		default:
		}
		now := time.Now()
		e.fireTimers(now)

		n, err := e.socket.ReadBatch(bufs, 100*time.Millisecond)
		if err != nil {
			e.logger.log(levelError, "run loop: %v", err)
			for _, rc := range e.connections() {
				e.unregister(rc)
			}
			close(e.closed)
			return
		}
		for i := 0; i < n; i++ {
			e.handleDatagram(bufs[i], now)
		}
		e.flushAll(txBuf, now)
	}
}

func (e *Endpoint) handleDatagram(b *packetBuf, now time.Time) {
	datagram := b.data[:b.n]
	rc, ok := e.lookup(b.addr)
	if !ok {
		dcid, ok := peekDestinationCID(datagram, e.config.cidLength())
		if !ok {
			return
		}
		if existing, ok := e.lookupByCID(dcid); ok {
			rc = existing
		} else if e.handler != nil {
			// No connection for this address or CID: treat as a
			// fresh Initial and hand it to transport.Accept. No
			// Retry token is checked on this path.
			newRC, err := e.accept(dcid, b.addr)
			if err != nil {
				return
			}
			rc = newRC
		} else {
			return
		}
	}
	if _, err := rc.conn.Recv(datagram, b.addr, now); err != nil {
		return
	}
	if rc.conn.IsClosed() {
		e.unregister(rc)
		return
	}
	if rc.handler != nil {
		events := rc.conn.Events(make([]transport.Event, 16))
		if len(events) > 0 {
			rc.handler.Serve(rc, events)
		}
	}
}

func (e *Endpoint) fireTimers(now time.Time) {
	for _, rc := range e.connections() {
		if d := rc.conn.Timeout(now); d <= 0 {
			rc.conn.OnTimeout(now)
			if rc.conn.IsClosed() {
				e.unregister(rc)
			}
		}
	}
}

func (e *Endpoint) flushAll(buf []byte, now time.Time) {
	for _, rc := range e.connections() {
		for {
			n, err := rc.conn.Send(buf, now)
			if err != nil || n == 0 {
				break
			}
			e.socket.WriteTo(buf[:n], rc.addr)
		}
	}
}

// Close stops the run loop and closes the underlying socket. In-flight
// connections are left to their own idle timers; this does not send
// CONNECTION_CLOSE on their behalf (callers wanting a clean shutdown
// should Close each Conn first).
func (e *Endpoint) Close() error {
	e.once.Do(func() { close(e.closing) })
	return e.socket.Close()
}

func (e *Endpoint) LocalAddr() net.Addr { return e.socket.LocalAddr() }
