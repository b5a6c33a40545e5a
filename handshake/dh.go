package handshake

import (
	"crypto/hmac"
	"crypto/rc4"
	"crypto/sha256"
	"io"
	"math/big"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/rand"
)

// 1024-bit MODP group (RFC 2409, group 2).
var dhPrime, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381"+
		"FFFFFFFFFFFFFFFF", 16)

var dhGenerator = big.NewInt(2)

const (
	dhKeyLen = 128
	// Keystream discarded on both ciphers once the keys are installed.
	rc4Skip = 1536
)

type dhKey struct {
	private *big.Int
	public  []byte
}

func newDHKey(r io.Reader) (*dhKey, error) {
	raw := make([]byte, dhKeyLen)
	if err := rand.Fill(r, raw); err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(raw)
	for i := range raw {
		raw[i] = 0
	}
	// keep x in [2, p-2]
	x.Mod(x, new(big.Int).Sub(dhPrime, big.NewInt(3)))
	x.Add(x, big.NewInt(2))
	y := new(big.Int).Exp(dhGenerator, x, dhPrime)
	return &dhKey{private: x, public: y.FillBytes(make([]byte, dhKeyLen))}, nil
}

// sharedSecret computes peer^x mod p after rejecting degenerate public keys.
func (k *dhKey) sharedSecret(peer []byte) ([]byte, error) {
	y := new(big.Int).SetBytes(peer)
	limit := new(big.Int).Sub(dhPrime, big.NewInt(1))
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(limit) >= 0 {
		return nil, errors.WithStack(ErrBadPublicKey)
	}
	s := new(big.Int).Exp(y, k.private, dhPrime)
	return s.FillBytes(make([]byte, dhKeyLen)), nil
}

func (k *dhKey) wipe() {
	if k == nil {
		return
	}
	k.private.SetInt64(0)
	for i := range k.public {
		k.public[i] = 0
	}
}

// newCiphers derives the RC4 pair. The outbound key is keyed on the peer's public key and the inbound key
// on our own, so each side's out cipher matches the other side's in cipher.
func newCiphers(secret, ownPublic, peerPublic []byte) (in, out *rc4.Cipher, err error) {
	outKey := hmacSHA256(secret, peerPublic)[:16]
	inKey := hmacSHA256(secret, ownPublic)[:16]
	if out, err = rc4.NewCipher(outKey); err != nil {
		return nil, nil, errors.Wrap(err, "handshake: rc4")
	}
	if in, err = rc4.NewCipher(inKey); err != nil {
		return nil, nil, errors.Wrap(err, "handshake: rc4")
	}
	skip := make([]byte, rc4Skip)
	in.XORKeyStream(skip, skip)
	out.XORKeyStream(skip, skip)
	return in, out, nil
}

func hmacSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}
