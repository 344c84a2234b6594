package quic

import "testing"

func TestCidKeyIsStableHexEncoding(t *testing.T) {
	cid := []byte{0xde, 0xad, 0xbe, 0xef}
	if got, want := cidKey(cid), "deadbeef"; got != want {
		t.Fatalf("cidKey(%x) = %q, want %q", cid, got, want)
	}
}

func TestCidKeyDistinguishesDifferentCIDs(t *testing.T) {
	a := cidKey([]byte{1, 2, 3, 4})
	b := cidKey([]byte{1, 2, 3, 5})
	if a == b {
		t.Fatalf("distinct CIDs produced the same key %q", a)
	}
}

func TestNewEndpointInitializesRoutingTables(t *testing.T) {
	e := NewEndpoint(nil)
	if e.connsByCID == nil || e.connsByAddr == nil || e.connsBySRT == nil {
		t.Fatal("NewEndpoint must initialize all three routing tables")
	}
	if len(e.connections()) != 0 {
		t.Fatal("a fresh Endpoint must own no connections")
	}
}

func TestNewEndpointDefaultsConfig(t *testing.T) {
	e := NewEndpoint(nil)
	if e.config == nil {
		t.Fatal("NewEndpoint(nil) must install a default Config")
	}
}
