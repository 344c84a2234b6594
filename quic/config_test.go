package quic

import "testing"

func TestConfigDefaultsNumBufsAndCIDLength(t *testing.T) {
	c := &Config{}
	if got := c.numBufs(); got != DefaultNumBufs {
		t.Fatalf("numBufs() = %d, want %d", got, DefaultNumBufs)
	}
	if got := c.cidLength(); got != DefaultCIDLength {
		t.Fatalf("cidLength() = %d, want %d", got, DefaultCIDLength)
	}
}

func TestConfigOverridesDefaults(t *testing.T) {
	c := &Config{NumBufs: 4, CIDLength: 20}
	if got := c.numBufs(); got != 4 {
		t.Fatalf("numBufs() = %d, want 4", got)
	}
	if got := c.cidLength(); got != 20 {
		t.Fatalf("cidLength() = %d, want 20", got)
	}
}

func TestConfigRandDefaultsToCryptoRand(t *testing.T) {
	c := &Config{}
	if c.rand() == nil {
		t.Fatal("rand() must never return nil")
	}
}

func TestTransportConfigCarriesEndpointSettings(t *testing.T) {
	c := &Config{RetryOnPort4434: true, Seed: [16]byte{1, 2, 3}}
	tc := c.transportConfig(1, nil)
	if !tc.RetryOnPort4434 {
		t.Fatal("RetryOnPort4434 not forwarded")
	}
	if tc.Seed != c.Seed {
		t.Fatal("Seed not forwarded")
	}
	if tc.Version != 1 {
		t.Fatalf("Version = %d, want 1", tc.Version)
	}
}
