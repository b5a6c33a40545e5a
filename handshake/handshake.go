// Package handshake implements the RTMP handshake as a push-driven state machine.
//
// The caller hands received bytes to Feed as they arrive and writes whatever Feed returns to the peer.
// Feed never blocks and buffers partial input internally, so a handshake can progress one byte at a time.
// Three variants are supported: the plain echo handshake, the keyed digest handshake of Flash Player 9+,
// and RTMPE, which adds a Diffie-Hellman exchange and leaves an RC4 cipher pair for the chunk stream.
package handshake

import (
	"bytes"
	"crypto/cipher"
	"crypto/rc4"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/rand"
)

const (
	// VersionPlain is the C0/S0 byte of an unencrypted connection.
	VersionPlain byte = 3
	// VersionEncrypted is the C0/S0 byte requesting RTMPE.
	VersionEncrypted byte = 6

	PacketSize = 1536

	// Values placed in the version field of keyed C1/S1 packets.
	clientVersion uint32 = 0x80000702
	serverVersion uint32 = 0x0d0e0a0d
)

var (
	ErrHandshakeFailure = errors.New("handshake failure")

	ErrUnsupportedVersion = errors.Wrap(ErrHandshakeFailure, "unsupported RTMP version")
	ErrEncryptionRefused  = errors.Wrap(ErrHandshakeFailure, "encrypted handshake not allowed")
	ErrDigestMismatch     = errors.Wrap(ErrHandshakeFailure, "digest mismatch")
	ErrWrongC2Message     = errors.Wrap(ErrHandshakeFailure, "C2 does not echo S1")
	ErrWrongS2Message     = errors.Wrap(ErrHandshakeFailure, "S2 does not echo C1")
	ErrBadPublicKey       = errors.Wrap(ErrHandshakeFailure, "invalid DH public key")
	ErrNotStarted         = errors.New("handshake: Begin has not been called")
	ErrAlreadyStarted     = errors.New("handshake: Begin called twice")
)

type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAwaitC0C1
	PhaseAwaitS0S1
	PhaseAwaitC2
	PhaseAwaitS2
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{"idle", "await-c0c1", "await-s0s1", "await-c2", "await-s2", "done", "failed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Result is the outcome of one Feed call.
type Result uint8

const (
	Continue Result = iota
	Done
	Failed
)

type Option func(*Handshake)

// WithRandom replaces the entropy source. Tests use it to make the exchange deterministic.
func WithRandom(r io.Reader) Option {
	return func(h *Handshake) { h.random = r }
}

// WithClock replaces the source of the 4-byte handshake time fields.
func WithClock(clock func() uint32) Option {
	return func(h *Handshake) { h.clock = clock }
}

// WithDigest makes a client sign C1 and expect a keyed reply.
func WithDigest() Option {
	return func(h *Handshake) { h.keyed = true }
}

// WithEncryption makes a client request RTMPE. It implies WithDigest.
func WithEncryption() Option {
	return func(h *Handshake) {
		h.keyed = true
		h.encrypted = true
	}
}

// AllowEncryption controls whether a server accepts RTMPE requests. A Handshake built without this option
// accepts them; the rtmp Server always passes its allow_encrypted setting, which is off by default.
func AllowEncryption(allow bool) Option {
	return func(h *Handshake) { h.allowEncrypted = allow }
}

// Handshake holds the state of one connection attempt. It is not safe for concurrent use; a connection
// drives it from its decode path only.
type Handshake struct {
	role           Role
	phase          Phase
	keyed          bool
	encrypted      bool
	allowEncrypted bool
	scheme         Scheme
	random         io.Reader
	clock          func() uint32

	buf        []byte
	own        []byte // our C1 or S1
	ownDigest  []byte
	peerDigest []byte
	dh         *dhKey

	cipherIn  *rc4.Cipher
	cipherOut *rc4.Cipher
	err       error
}

func New(role Role, opts ...Option) *Handshake {
	h := &Handshake{
		role:           role,
		allowEncrypted: true,
		random:         rand.Reader,
		clock: func() uint32 {
			return uint32(time.Now().UnixNano() / int64(time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if role == RoleServer {
		// a server learns the variant from C0/C1
		h.keyed, h.encrypted = false, false
	}
	return h
}

func (h *Handshake) Role() Role   { return h.role }
func (h *Handshake) Phase() Phase { return h.phase }
func (h *Handshake) Err() error   { return h.err }

// Encrypted reports whether the handshake negotiated RTMPE.
func (h *Handshake) Encrypted() bool { return h.encrypted }

// Begin starts the handshake. A client gets C0+C1 to send; a server gets nothing and waits for C0+C1.
func (h *Handshake) Begin() ([]byte, error) {
	if h.phase != PhaseIdle {
		return nil, ErrAlreadyStarted
	}
	h.buf = make([]byte, 0, 1+PacketSize)
	if h.role == RoleServer {
		h.phase = PhaseAwaitC0C1
		return nil, nil
	}

	c0c1 := make([]byte, 1+PacketSize)
	c0c1[0] = VersionPlain
	if h.encrypted {
		c0c1[0] = VersionEncrypted
	}
	c1 := c0c1[1:]
	if err := h.fillPacket(c1); err != nil {
		return nil, h.fail(err)
	}
	if h.keyed {
		binary.BigEndian.PutUint32(c1[4:8], clientVersion)
		h.scheme = Scheme0
		if err := h.embedKey(c1); err != nil {
			return nil, h.fail(err)
		}
		h.ownDigest = signPacket(c1, h.scheme, clientPartialKey)
	}
	h.own = append([]byte(nil), c1...)
	h.phase = PhaseAwaitS0S1
	return c0c1, nil
}

// need is the number of bytes the current phase waits for.
func (h *Handshake) need() int {
	switch h.phase {
	case PhaseAwaitC0C1, PhaseAwaitS0S1:
		return 1 + PacketSize
	default:
		return PacketSize
	}
}

// Feed consumes bytes for the current phase and returns how many it used, the bytes to send to the peer,
// and the outcome. It consumes at most one phase's worth of input; bytes beyond that belong to the next
// phase or, after Done, to the chunk stream, and must be passed again.
func (h *Handshake) Feed(p []byte) (int, []byte, Result, error) {
	switch h.phase {
	case PhaseIdle:
		return 0, nil, Failed, ErrNotStarted
	case PhaseDone:
		return 0, nil, Done, nil
	case PhaseFailed:
		return 0, nil, Failed, h.err
	}

	n := h.need() - len(h.buf)
	if n > len(p) {
		n = len(p)
	}
	h.buf = append(h.buf, p[:n]...)
	if len(h.buf) < h.need() {
		return n, nil, Continue, nil
	}

	var out []byte
	var err error
	switch h.phase {
	case PhaseAwaitC0C1:
		out, err = h.readC0C1()
	case PhaseAwaitC2:
		err = h.readC2()
	case PhaseAwaitS0S1:
		out, err = h.readS0S1()
	case PhaseAwaitS2:
		err = h.readS2()
	}
	h.buf = h.buf[:0]
	if err != nil {
		return n, nil, Failed, h.fail(err)
	}
	if h.phase == PhaseDone {
		h.wipe()
		return n, out, Done, nil
	}
	return n, out, Continue, nil
}

// Ciphers hands over the RTMPE cipher pair once, after Done. Both are nil for unencrypted handshakes.
func (h *Handshake) Ciphers() (in, out cipher.Stream) {
	if h.phase != PhaseDone || h.cipherIn == nil {
		return nil, nil
	}
	in, out = h.cipherIn, h.cipherOut
	h.cipherIn, h.cipherOut = nil, nil
	return in, out
}

func (h *Handshake) fail(err error) error {
	h.phase = PhaseFailed
	h.err = err
	h.cipherIn, h.cipherOut = nil, nil
	h.wipe()
	return err
}

// wipe zeroes key material and buffers.
func (h *Handshake) wipe() {
	for _, b := range [][]byte{h.buf, h.own} {
		b = b[:cap(b)]
		for i := range b {
			b[i] = 0
		}
	}
	h.buf, h.own, h.ownDigest, h.peerDigest = nil, nil, nil, nil
	h.dh.wipe()
	h.dh = nil
}

// fillPacket writes the time field and random payload of a C1/S1 packet.
func (h *Handshake) fillPacket(p []byte) error {
	binary.BigEndian.PutUint32(p[0:4], h.clock())
	binary.BigEndian.PutUint32(p[4:8], 0)
	return rand.Fill(h.random, p[8:])
}

// embedKey generates our DH key and places it in p when encrypting.
func (h *Handshake) embedKey(p []byte) error {
	if !h.encrypted {
		return nil
	}
	k, err := newDHKey(h.random)
	if err != nil {
		return err
	}
	h.dh = k
	copy(p[h.scheme.keyOffset(p):], k.public)
	return nil
}

// installCiphers derives the RC4 pair from the peer's packet.
func (h *Handshake) installCiphers(peer []byte) error {
	off := h.scheme.keyOffset(peer)
	peerKey := peer[off : off+dhKeyLen]
	secret, err := h.dh.sharedSecret(peerKey)
	if err != nil {
		return err
	}
	defer func() {
		for i := range secret {
			secret[i] = 0
		}
	}()
	h.cipherIn, h.cipherOut, err = newCiphers(secret, h.dh.public, peerKey)
	return err
}

// echo builds a plain S2/C2: the peer's packet with our time in the second field.
func (h *Handshake) echo(peer []byte) []byte {
	p := append([]byte(nil), peer...)
	binary.BigEndian.PutUint32(p[4:8], h.clock())
	return p
}

// response builds a keyed S2/C2: random bytes signed with a key derived from the peer's digest.
func (h *Handshake) response(fullKey []byte) ([]byte, error) {
	p := make([]byte, PacketSize)
	if err := rand.Fill(h.random, p); err != nil {
		return nil, err
	}
	signResponse(p, fullKey, h.peerDigest)
	return p, nil
}

func (h *Handshake) readC0C1() ([]byte, error) {
	version := h.buf[0]
	c1 := h.buf[1:]
	switch version {
	case VersionPlain:
		if binary.BigEndian.Uint32(c1[4:8]) != 0 {
			// A version field suggests a keyed C1; clients that fill it without a digest fall back to plain.
			if s, d, ok := findDigest(c1, clientPartialKey); ok {
				h.keyed, h.scheme, h.peerDigest = true, s, append([]byte(nil), d...)
			}
		}
	case VersionEncrypted:
		if !h.allowEncrypted {
			return nil, ErrEncryptionRefused
		}
		s, d, ok := findDigest(c1, clientPartialKey)
		if !ok {
			return nil, errors.WithMessage(ErrDigestMismatch, "C1")
		}
		h.keyed, h.encrypted, h.scheme, h.peerDigest = true, true, s, append([]byte(nil), d...)
	default:
		return nil, errors.WithMessagef(ErrUnsupportedVersion, "C0 version %d", version)
	}

	out := make([]byte, 0, 1+2*PacketSize)
	out = append(out, version)
	s1 := make([]byte, PacketSize)
	if err := h.fillPacket(s1); err != nil {
		return nil, err
	}
	var s2 []byte
	if h.keyed {
		binary.BigEndian.PutUint32(s1[4:8], serverVersion)
		if err := h.embedKey(s1); err != nil {
			return nil, err
		}
		h.ownDigest = signPacket(s1, h.scheme, serverPartialKey)
		if h.encrypted {
			if err := h.installCiphers(c1); err != nil {
				return nil, err
			}
		}
		var err error
		if s2, err = h.response(serverFullKey); err != nil {
			return nil, err
		}
	} else {
		s2 = h.echo(c1)
	}
	h.own = s1
	out = append(out, s1...)
	out = append(out, s2...)
	h.phase = PhaseAwaitC2
	return out, nil
}

func (h *Handshake) readC2() error {
	c2 := h.buf
	if h.keyed {
		if !verifyResponse(c2, clientFullKey, h.ownDigest) {
			return errors.WithMessage(ErrDigestMismatch, "C2")
		}
	} else {
		if !bytes.Equal(c2[0:4], h.own[0:4]) {
			return errors.WithMessage(ErrWrongC2Message, "time field")
		}
		if !bytes.Equal(c2[8:], h.own[8:]) {
			return errors.WithMessage(ErrWrongC2Message, "random field")
		}
	}
	h.phase = PhaseDone
	return nil
}

func (h *Handshake) readS0S1() ([]byte, error) {
	version := h.buf[0]
	s1 := h.buf[1:]
	want := VersionPlain
	if h.encrypted {
		want = VersionEncrypted
	}
	if version != want {
		return nil, errors.WithMessagef(ErrUnsupportedVersion, "S0 version %d, expected %d", version, want)
	}

	if h.keyed {
		s, d, ok := findDigest(s1, serverPartialKey)
		switch {
		case ok && s == h.scheme:
			h.peerDigest = append([]byte(nil), d...)
		case h.encrypted:
			return nil, errors.WithMessage(ErrDigestMismatch, "S1")
		default:
			// the server answered with a plain handshake
			h.keyed = false
		}
	}

	var c2 []byte
	if h.keyed {
		if h.encrypted {
			if err := h.installCiphers(s1); err != nil {
				return nil, err
			}
		}
		var err error
		if c2, err = h.response(clientFullKey); err != nil {
			return nil, err
		}
	} else {
		c2 = h.echo(s1)
	}
	h.phase = PhaseAwaitS2
	return c2, nil
}

func (h *Handshake) readS2() error {
	s2 := h.buf
	if h.keyed {
		if !verifyResponse(s2, serverFullKey, h.ownDigest) {
			return errors.WithMessage(ErrDigestMismatch, "S2")
		}
	} else {
		if !bytes.Equal(s2[0:4], h.own[0:4]) || !bytes.Equal(s2[8:], h.own[8:]) {
			return ErrWrongS2Message
		}
	}
	h.phase = PhaseDone
	return nil
}
