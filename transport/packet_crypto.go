package transport

// decryptPacket implements spec.md §4.2's undo_hp + decode_hdr_remainder
// + AEAD decrypt pipeline for a packet whose beginning has already been
// parsed into p (p.headerLen is the offset of the packet-number field).
// expectedNext is the next packet number this space expects, used as the
// window center for reconstructing the truncated wire value.
func (s *packetNumberSpace) decryptPacket(b []byte, p *packet) (payload []byte, consumed int, err error) {
	long := p.typ != packetTypeShort
	pnOffset := p.headerLen
	sampleOffset := pnOffset + 4
	if sampleOffset+headerSampleLen > len(b) {
		return nil, 0, newError(ProtocolViolation, "packet too short for header protection sample")
	}
	opener, ok := s.opener.(*aeadKeys)
	if !ok || opener == nil {
		return nil, 0, newError(InternalError, "no read keys installed")
	}
	mask := opener.hpMask(b[sampleOffset : sampleOffset+headerSampleLen])
	pnLen := undoHeaderProtection(b, pnOffset, mask, long)

	ciphertextEnd := pnOffset + p.payloadLen
	if ciphertextEnd > len(b) || pnOffset+pnLen > ciphertextEnd {
		return nil, 0, newError(ProtocolViolation, "packet length inconsistent with header protection")
	}
	var truncated uint64
	for i := 0; i < pnLen; i++ {
		truncated = truncated<<8 | uint64(b[pnOffset+i])
	}
	expectedNext := s.rxExpected
	fullPN := decodePacketNumberWindow(truncated, pnLen, expectedNext)

	if !p.reservedOK {
		return nil, 0, newError(ProtocolViolation, "reserved header bits set")
	}

	aad := b[:pnOffset+pnLen]
	ciphertext := b[pnOffset+pnLen : ciphertextEnd]
	plaintext, err := s.opener.open(nil, aad, fullPN, ciphertext)
	if err != nil {
		return nil, 0, err
	}
	p.packetNumber = fullPN
	p.packetNumberLen = pnLen
	if fullPN >= s.rxExpected {
		s.rxExpected = fullPN + 1
	}
	return plaintext, ciphertextEnd, nil
}

// encodeLongHeader writes the long-header prefix (first byte through
// dcid/scid, the token for Initial, and a reserved 2-byte Length
// placeholder for every type but Retry) and returns (n, lengthOffset):
// n is the offset of the packet-number field, lengthOffset is where the
// caller must later overwrite 2 bytes with the real Length once the
// packet-number and payload sizes are known (spec.md §4.2 encode()), or
// -1 for Retry.
func encodeLongHeader(b []byte, typ packetType, version uint32, dcid, scid, token []byte) (n int, lengthOffset int) {
	var firstByte byte = longHeaderForm | 0xc0 // bits 6-7 reserved set per draft fixed bits
	switch typ {
	case packetTypeInitial:
		firstByte |= longTypeInitial << 4
	case packetTypeZeroRTT:
		firstByte |= longTypeZeroRTT << 4
	case packetTypeHandshake:
		firstByte |= longTypeHandshake << 4
	case packetTypeRetry:
		firstByte |= longTypeRetry << 4
	}
	b[0] = firstByte
	n = 1
	n += putU32(b[n:], version)
	b[n] = byte(len(dcid))
	n++
	n += copy(b[n:], dcid)
	b[n] = byte(len(scid))
	n++
	n += copy(b[n:], scid)
	if typ == packetTypeInitial {
		n += putVarint(b[n:], uint64(len(token)))
		n += copy(b[n:], token)
	}
	if typ == packetTypeRetry {
		return n, -1 // Retry carries no Length field
	}
	lengthOffset = n
	put2ByteVarint(b[n:], 0) // placeholder, overwritten once total length is known
	n += 2
	return n, lengthOffset
}

// put2ByteVarint writes v using the fixed 2-byte varint form regardless
// of whether a shorter encoding would fit, so a length field reserved
// before the real value is known can be overwritten in place. v must be
// at most 16383, true for any single QUIC datagram.
func put2ByteVarint(b []byte, v uint64) {
	b[0] = 0x40 | byte(v>>8)
	b[1] = byte(v)
}

func putU32(b []byte, v uint32) int {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	return 4
}

func encodeShortHeaderFirstByte(keyPhase bool, spinBit bool, pnLen int) byte {
	b := byte(0x40) // fixed bit
	if spinBit {
		b |= 0x20
	}
	if keyPhase {
		b |= 0x04
	}
	b |= byte(pnLen - 1)
	return b
}

// applyPacketProtection is spec.md §4.2's apply_aead: it AEAD-seals the
// payload using the header (through the pn field, ending at pnOffset+
// pnLen) as associated data, writes the ciphertext right after it, then
// masks byte 0 and the pn bytes using a cipher keyed from a sample taken
// at pnOffset+4 regardless of the actual pn length (RFC 9001 §5.4.2),
// matching undoHeaderProtection's decode-side sampling exactly.
func applyPacketProtection(buf []byte, pnOffset int, pnLen int, sealer *aeadKeys, pn uint64, payload []byte, long bool) int {
	ciphertextStart := pnOffset + pnLen
	aad := buf[:ciphertextStart]
	sealed := sealer.seal(buf[:ciphertextStart], aad, pn, payload)
	n := len(sealed)
	sampleOffset := pnOffset + 4
	mask := sealer.hpMask(buf[sampleOffset : sampleOffset+headerSampleLen])
	applyHeaderProtection(buf, pnOffset, pnLen, mask, long)
	return n
}
