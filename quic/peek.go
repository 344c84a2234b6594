package quic

// peekDestinationCID extracts just enough of a QUIC packet header to
// route an unmatched datagram to a connection, without pulling in the
// full decoder (transport.Conn.Recv does that once a *remoteConn has
// been found). Long-header packets carry an explicit DCID length byte;
// short-header packets carry a DCID of this endpoint's own fixed
// length, since that length is the value this endpoint chose when it
// minted the CID in the first place (spec.md §4.5).
func peekDestinationCID(b []byte, shortCIDLen int) (dcid []byte, ok bool) {
	if len(b) < 1 {
		return nil, false
	}
	const longHeaderForm = 0x80
	if b[0]&longHeaderForm != 0 {
		// first byte(1) + version(4) + dcil(1)
		if len(b) < 6 {
			return nil, false
		}
		dcil := int(b[5])
		if len(b) < 6+dcil {
			return nil, false
		}
		return b[6 : 6+dcil], true
	}
	if len(b) < 1+shortCIDLen {
		return nil, false
	}
	return b[1 : 1+shortCIDLen], true
}
