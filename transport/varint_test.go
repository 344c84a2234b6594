package transport

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 37, 63,
		64, 15293, 16383,
		16384, 494878333, 1073741823,
		1073741824, 151288809941952652, maxVarint,
	}
	for _, v := range cases {
		b := make([]byte, 8)
		n := putVarint(b, v)
		if sz := varintLen(v); sz != n {
			t.Fatalf("varintLen(%d) = %d, want %d", v, sz, n)
		}
		var got uint64
		n2 := getVarint(b[:n], &got)
		if n2 != n {
			t.Fatalf("getVarint consumed %d bytes, want %d", n2, n)
		}
		if got != v {
			t.Fatalf("decode(encode(%d)) = %d", v, got)
		}
	}
}

func TestVarintEncodingSize(t *testing.T) {
	cases := []struct {
		v    uint64
		size int
	}{
		{0, 1}, {63, 1},
		{64, 2}, {16383, 2},
		{16384, 4}, {1073741823, 4},
		{1073741824, 8}, {maxVarint, 8},
	}
	for _, c := range cases {
		if got := varintLen(c.v); got != c.size {
			t.Fatalf("varintLen(%d) = %d, want %d", c.v, got, c.size)
		}
	}
}

func TestVarintShortBuffer(t *testing.T) {
	var v uint64
	if n := getVarint(nil, &v); n != 0 {
		t.Fatalf("getVarint(nil) = %d, want 0", n)
	}
	b := []byte{0xc0, 0x01, 0x02} // claims 8-byte encoding, only 3 present
	if n := getVarint(b, &v); n != 0 {
		t.Fatalf("getVarint(short) = %d, want 0", n)
	}
}

func TestVarintPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic encoding out-of-range varint")
		}
	}()
	putVarint(make([]byte, 8), maxVarint+1)
}
