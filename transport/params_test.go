package transport

import "testing"

func TestParametersRoundTrip(t *testing.T) {
	p := DefaultParameters()
	p.InitialSourceCID = []byte{1, 2, 3, 4}
	p.OriginalDestinationCID = []byte{5, 6, 7, 8}
	b, err := p.marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalParameters(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.InitialMaxData != p.InitialMaxData {
		t.Fatalf("InitialMaxData = %d, want %d", got.InitialMaxData, p.InitialMaxData)
	}
	if string(got.InitialSourceCID) != string(p.InitialSourceCID) {
		t.Fatalf("InitialSourceCID mismatch")
	}
	if got.ActiveConnIDLimit != defaultActiveConnIDLimit {
		t.Fatalf("ActiveConnIDLimit = %d", got.ActiveConnIDLimit)
	}
}

func TestParametersDuplicateFatal(t *testing.T) {
	b := make([]byte, 0, 32)
	var tmp [10]byte
	n := putVarint(tmp[:], uint64(paramInitialMaxData))
	b = append(b, tmp[:n]...)
	n = putVarint(tmp[:], 1)
	b = append(b, tmp[:n]...)
	b = append(b, 5)
	// Repeat the same parameter id.
	n = putVarint(tmp[:], uint64(paramInitialMaxData))
	b = append(b, tmp[:n]...)
	n = putVarint(tmp[:], 1)
	b = append(b, tmp[:n]...)
	b = append(b, 7)
	if _, err := UnmarshalParameters(b); err == nil {
		t.Fatal("expected duplicate parameter to be fatal")
	}
}

func TestParametersUnknownIgnored(t *testing.T) {
	b := make([]byte, 0, 32)
	var tmp [10]byte
	n := putVarint(tmp[:], 0xbeef)
	b = append(b, tmp[:n]...)
	n = putVarint(tmp[:], 2)
	b = append(b, tmp[:n]...)
	b = append(b, 1, 2)
	if _, err := UnmarshalParameters(b); err != nil {
		t.Fatalf("unknown parameter should be ignored, got %v", err)
	}
}

func TestMaxPacketSizeBelow1200Rejected(t *testing.T) {
	b := make([]byte, 0, 32)
	var tmp [10]byte
	n := putVarint(tmp[:], uint64(paramMaxPacketSize))
	b = append(b, tmp[:n]...)
	n = putVarint(tmp[:], 2)
	b = append(b, tmp[:n]...)
	n = putVarint(tmp[2:], 1199)
	b = append(b, tmp[2:2+n]...)
	if _, err := UnmarshalParameters(b); err == nil {
		t.Fatal("expected max_packet_size < 1200 to be rejected")
	}
}

func TestPreferredAddressRoundTrip(t *testing.T) {
	pa := &PreferredAddress{
		IPv4Port: 443,
		ConnID:   []byte{9, 9, 9, 9},
	}
	enc := encodePreferredAddress(pa)
	got, err := decodePreferredAddress(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.IPv4Port != 443 || string(got.ConnID) != string(pa.ConnID) {
		t.Fatalf("unexpected: %+v", got)
	}
}
