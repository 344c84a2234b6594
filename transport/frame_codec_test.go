package transport

import "testing"

func TestStreamFrameRoundTrip(t *testing.T) {
	f := newStreamFrame(4, []byte("hello"), 10, true)
	b := make([]byte, 64)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, m := decodeStreamFrame(b[tn:n], typ)
	if got == nil {
		t.Fatal("decode failed")
	}
	if m != n-tn {
		t.Fatalf("consumed %d, want %d", m, n-tn)
	}
	if got.streamID != 4 || got.offset != 10 || !got.fin || string(got.data) != "hello" {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestStreamFrameNoOffset(t *testing.T) {
	f := newStreamFrame(0, []byte("x"), 0, false)
	b := make([]byte, 16)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, _ := decodeStreamFrame(b[tn:n], typ)
	if got.offset != 0 {
		t.Fatalf("offset = %d, want 0", got.offset)
	}
}

func TestResetStreamFrameRoundTrip(t *testing.T) {
	f := newResetStreamFrame(1, 2, 3)
	b := make([]byte, 32)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, m := decodeResetStreamFrame(b[tn:n])
	if m != n-tn || got.streamID != 1 || got.errorCode != 2 || got.finalSize != 3 {
		t.Fatalf("unexpected: %+v m=%d", got, m)
	}
}

func TestCryptoFrameRoundTrip(t *testing.T) {
	f := newCryptoFrame([]byte("handshake bytes"), 7)
	b := make([]byte, 64)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, m := decodeCryptoFrame(b[tn:n])
	if m != n-tn || got.offset != 7 || string(got.data) != "handshake bytes" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestConnectionCloseFrameRoundTrip(t *testing.T) {
	f := newConnectionCloseFrame(0x7, 0x1c, []byte("bad frame"), false)
	b := make([]byte, 64)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, m := decodeConnectionCloseFrame(b[tn:n], false)
	if m != n-tn || got.errorCode != 0x7 || got.frameType_ != 0x1c || string(got.reasonPhrase) != "bad frame" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestAckFrameRoundTrip(t *testing.T) {
	f := &ackFrame{
		largestAck:    100,
		ackDelay:      5,
		firstAckRange: 10,
		ranges:        []ackRange{{gap: 2, ackRangeLen: 3}},
	}
	b := make([]byte, 64)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, m := decodeAckFrame(b[tn:n], false)
	if m != n-tn {
		t.Fatalf("consumed %d, want %d", m, n-tn)
	}
	if got.largestAck != 100 || got.ackDelay != 5 || got.firstAckRange != 10 || len(got.ranges) != 1 || got.ranges[0] != (ackRange{2, 3}) {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestPaddingFrameDecode(t *testing.T) {
	b := []byte{0, 0, 0, 1, 2}
	f, n := decodePaddingFrame(b)
	if n != 3 || f.length != 3 {
		t.Fatalf("n=%d length=%d", n, f.length)
	}
}

func TestNewConnectionIDFrameRoundTrip(t *testing.T) {
	f := &newConnectionIDFrame{
		sequence:      3,
		retirePriorTo: 1,
		connID:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	for i := range f.resetToken {
		f.resetToken[i] = byte(i)
	}
	b := make([]byte, 64)
	n := f.encode(b)
	var typ uint64
	tn := getVarint(b, &typ)
	got, m := decodeNewConnectionIDFrame(b[tn:n])
	if m != n-tn || got.sequence != 3 || got.retirePriorTo != 1 || len(got.connID) != 8 {
		t.Fatalf("unexpected: %+v", got)
	}
	if got.resetToken != f.resetToken {
		t.Fatalf("reset token mismatch")
	}
}
