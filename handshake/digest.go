package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
)

var (
	clientFullKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	serverFullKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
		'S', 'e', 'r', 'v', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	clientPartialKey = clientFullKey[:30]
	serverPartialKey = serverFullKey[:36]
)

const digestLen = sha256.Size

// Scheme selects where the digest and the DH public key sit inside a 1536-byte packet. The packet is split
// into two 764-byte blocks after the 8-byte time/version prefix; scheme 0 puts the digest in the first
// block and the key in the second, scheme 1 the other way round.
type Scheme int

const (
	Scheme0 Scheme = 0
	Scheme1 Scheme = 1
)

func (s Scheme) digestBase() int {
	if s == Scheme1 {
		return 772
	}
	return 8
}

// digestOffset is where the 32-byte digest starts. The four bytes at the block base select it.
func (s Scheme) digestOffset(p []byte) int {
	base := s.digestBase()
	sum := int(p[base]) + int(p[base+1]) + int(p[base+2]) + int(p[base+3])
	return sum%728 + base + 4
}

// keyOffset is where the 128-byte DH public key starts. The selector bytes are the last four of the block
// holding the key.
func (s Scheme) keyOffset(p []byte) int {
	var sel, base int
	if s == Scheme1 {
		sel, base = 768, 8
	} else {
		sel, base = 1532, 772
	}
	sum := int(p[sel]) + int(p[sel+1]) + int(p[sel+2]) + int(p[sel+3])
	return sum%632 + base
}

// makeDigest computes HMAC-SHA256 over p, skipping the 32 bytes at gap when gap is not negative.
func makeDigest(key, p []byte, gap int) []byte {
	h := hmac.New(sha256.New, key)
	if gap < 0 {
		h.Write(p)
	} else {
		h.Write(p[:gap])
		h.Write(p[gap+digestLen:])
	}
	return h.Sum(nil)
}

// signPacket writes the digest for p at the scheme's position and returns it.
func signPacket(p []byte, s Scheme, key []byte) []byte {
	off := s.digestOffset(p)
	digest := makeDigest(key, p, off)
	copy(p[off:], digest)
	return digest
}

// findDigest looks for a valid digest in p under either scheme.
func findDigest(p []byte, key []byte) (Scheme, []byte, bool) {
	for _, s := range []Scheme{Scheme1, Scheme0} {
		off := s.digestOffset(p)
		want := makeDigest(key, p, off)
		if hmac.Equal(p[off:off+digestLen], want) {
			return s, p[off : off+digestLen], true
		}
	}
	return 0, nil, false
}

// signResponse fills the trailing digest of an S2/C2 packet. The key is derived from the peer's digest.
func signResponse(p []byte, fullKey, peerDigest []byte) {
	key := makeDigest(fullKey, peerDigest, -1)
	gap := len(p) - digestLen
	copy(p[gap:], makeDigest(key, p[:gap], -1))
}

func verifyResponse(p []byte, fullKey, ownDigest []byte) bool {
	key := makeDigest(fullKey, ownDigest, -1)
	gap := len(p) - digestLen
	return hmac.Equal(p[gap:], makeDigest(key, p[:gap], -1))
}
