package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Initial secrets are derived from this fixed 20-byte salt and the
// client's destination CID (spec.md §6, RFC 9001 §5.2, QUIC v1 salt).
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

const (
	hpLabel   = "quic hp"
	keyLabel  = "quic key"
	ivLabel   = "quic iv"
	kuLabel   = "quic ku"
	aeadBaseLabel = "tls13 "
	aeadKeyLen    = 16
	aeadIVLen     = 12
	headerSampleLen = 16
)

// aeadKeys holds the four derived values needed to protect or unprotect
// one direction of traffic at one epoch: the AEAD key and static IV, and
// the header-protection cipher (RFC 9001 §5.4).
type aeadKeys struct {
	aead    cipher.AEAD
	iv      []byte
	hp      cipher.Block   // AES-ECB-mode "block" used to build the HP mask
	hpChaCha []byte        // raw HP key when suite is ChaCha20-Poly1305
	chacha  bool
	secret  []byte // retained to derive the next key-phase's secret
}

// hkdfExpandLabel implements RFC 8446 §7.1's HKDF-Expand-Label with the
// QUIC v1 "tls13 " label prefix (spec.md §6).
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	fullLabel := aeadBaseLabel + label
	info := make([]byte, 0, 3+len(fullLabel)+1)
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0) // empty context
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("hkdf: " + err.Error())
	}
	return out
}

func deriveAEADKeys(secret []byte, chacha bool) *aeadKeys {
	k := &aeadKeys{secret: secret, chacha: chacha}
	key := hkdfExpandLabel(secret, keyLabel, aeadKeyLen)
	k.iv = hkdfExpandLabel(secret, ivLabel, aeadIVLen)
	if chacha {
		key = hkdfExpandLabel(secret, keyLabel, chacha20poly1305.KeySize)
		a, err := chacha20poly1305.New(key)
		if err != nil {
			panic(err)
		}
		k.aead = a
		k.hpChaCha = hkdfExpandLabel(secret, hpLabel, chacha20poly1305.KeySize)
		return k
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	a, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	k.aead = a
	hpKey := hkdfExpandLabel(secret, hpLabel, aeadKeyLen)
	hpBlock, err := aes.NewCipher(hpKey)
	if err != nil {
		panic(err)
	}
	k.hp = hpBlock
	return k
}

// next derives the following key-phase's secret per RFC 9001 §6:
// next = HKDF-Expand-Label(secret, "quic ku", "", Hash.len).
func (k *aeadKeys) next() *aeadKeys {
	nextSecret := hkdfExpandLabel(k.secret, kuLabel, sha256.Size)
	return deriveAEADKeys(nextSecret, k.chacha)
}

// nonce XORs the static IV with the big-endian packet number.
func (k *aeadKeys) nonce(pn uint64) []byte {
	n := append([]byte(nil), k.iv...)
	for i := 0; i < 8; i++ {
		n[len(n)-1-i] ^= byte(pn >> (8 * i))
	}
	return n
}

// seal AEAD-encrypts payload in place (spec.md §4.2 apply_aead), using
// the packet header through the pn field as associated data.
func (k *aeadKeys) seal(dst, aad []byte, pn uint64, plaintext []byte) []byte {
	return k.aead.Seal(dst, k.nonce(pn), plaintext, aad)
}

func (k *aeadKeys) open(dst, aad []byte, pn uint64, ciphertext []byte) ([]byte, error) {
	out, err := k.aead.Open(dst, k.nonce(pn), ciphertext, aad)
	if err != nil {
		return nil, newError(ProtocolViolation, "aead open failed")
	}
	return out, nil
}

// hpMask computes the 5-byte header-protection mask from a sample taken
// at pnOffset+4 (spec.md §4.2). For AES suites the mask is
// AES-ECB(hp_key, sample); for ChaCha20 it is the first 5 bytes of the
// ChaCha20 keystream block selected by the sample's counter/nonce.
func (k *aeadKeys) hpMask(sample []byte) [5]byte {
	var mask [5]byte
	if k.chacha {
		// RFC 9001 §5.4.4: counter = sample[0:4] LE, nonce = sample[4:16].
		return chacha20Mask(k.hpChaCha, sample)
	}
	var block [16]byte
	k.hp.Encrypt(block[:], sample)
	copy(mask[:], block[:5])
	return mask
}

// applyHeaderProtection XORs the mask into byte 0's low bits (4 bits for
// long headers, 5 for short) and into the pnl packet-number bytes,
// spec.md §4.2.
func applyHeaderProtection(buf []byte, pnOffset, pnLen int, mask [5]byte, long bool) {
	if long {
		buf[0] ^= mask[0] & 0x0f
	} else {
		buf[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
}

// undoHeaderProtection reverses applyHeaderProtection. The packet-number
// length is not known until byte 0 is unmasked, so callers unmask byte 0
// first, read pnl out of it, then unmask exactly pnl pn bytes.
func undoHeaderProtection(buf []byte, pnOffset int, mask [5]byte, long bool) int {
	if long {
		buf[0] ^= mask[0] & 0x0f
	} else {
		buf[0] ^= mask[0] & 0x1f
	}
	pnLen := int(buf[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
	return pnLen
}

// chacha20Mask derives the 5-byte HP mask for the ChaCha20 suite by
// running the block cipher directly (RFC 9001 §5.4.4) rather than
// pulling in a second Stream implementation: counter is the first 4
// sample bytes (LE), nonce is the last 12.
func chacha20Mask(hpKey, sample []byte) [5]byte {
	var mask [5]byte
	ctr := binary.LittleEndian.Uint32(sample[0:4])
	nonce := sample[4:16]
	s, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce)
	if err != nil {
		panic(err)
	}
	s.SetCounter(ctr)
	var zero [5]byte
	s.XORKeyStream(mask[:], zero[:])
	return mask
}

// initialAEAD derives the client and server initial read/write key sets
// from the client's destination CID (spec.md §6, §4.2 deriveInitialKeyMaterial).
type initialAEAD struct {
	client *aeadKeys
	server *aeadKeys
}

func (a *initialAEAD) init(dcid []byte) {
	initialSecret := hkdf.Extract(sha256.New, dcid, initialSalt)
	clientSecret := hkdfExpandLabel(initialSecret, "client in", sha256.Size)
	serverSecret := hkdfExpandLabel(initialSecret, "server in", sha256.Size)
	a.client = deriveAEADKeys(clientSecret, false)
	a.server = deriveAEADKeys(serverSecret, false)
}
