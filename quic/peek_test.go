package quic

import "testing"

func TestPeekDestinationCIDLongHeader(t *testing.T) {
	b := []byte{0x80, 1, 0, 0, 1, 4, 0xaa, 0xbb, 0xcc, 0xdd, 0x00}
	dcid, ok := peekDestinationCID(b, 8)
	if !ok {
		t.Fatal("expected ok")
	}
	want := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	if len(dcid) != len(want) {
		t.Fatalf("dcid = %x, want %x", dcid, want)
	}
	for i := range want {
		if dcid[i] != want[i] {
			t.Fatalf("dcid = %x, want %x", dcid, want)
		}
	}
}

func TestPeekDestinationCIDLongHeaderTooShort(t *testing.T) {
	b := []byte{0x80, 1, 0, 0, 1, 4, 0xaa, 0xbb}
	if _, ok := peekDestinationCID(b, 8); ok {
		t.Fatal("expected short datagram to be rejected")
	}
}

func TestPeekDestinationCIDShortHeader(t *testing.T) {
	b := make([]byte, 1+8)
	b[0] = 0x40
	for i := 0; i < 8; i++ {
		b[1+i] = byte(i + 1)
	}
	dcid, ok := peekDestinationCID(b, 8)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(dcid) != 8 || dcid[0] != 1 || dcid[7] != 8 {
		t.Fatalf("dcid = %x", dcid)
	}
}

func TestPeekDestinationCIDShortHeaderTooShort(t *testing.T) {
	b := []byte{0x40, 1, 2, 3}
	if _, ok := peekDestinationCID(b, 8); ok {
		t.Fatal("expected short datagram to be rejected")
	}
}

func TestPeekDestinationCIDEmpty(t *testing.T) {
	if _, ok := peekDestinationCID(nil, 8); ok {
		t.Fatal("expected empty datagram to be rejected")
	}
}
