// Package bits holds the byte-level helpers shared by the chunk and AMF codecs: 24-bit integers in both byte
// orders and the AMF3 U29 variable-length integer.
package bits

import "github.com/pkg/errors"

// MaxU29 is the largest value a U29 can carry (29 significant bits).
const MaxU29 = 0x1FFFFFFF

var (
	ErrShortBuffer = errors.New("bits: short buffer")
	ErrU29Range    = errors.New("bits: value does not fit in 29 bits")
)

// U24BE reads a big-endian 24-bit unsigned integer.
func U24BE(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutU24BE writes the low 24 bits of v in big-endian order.
func PutU24BE(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// U24LE reads a little-endian 24-bit unsigned integer.
func U24LE(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// PutU24LE writes the low 24 bits of v in little-endian order.
func PutU24LE(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// U29Len returns the number of bytes AppendU29 uses for v.
func U29Len(v uint32) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	case v < 0x200000:
		return 3
	default:
		return 4
	}
}

// AppendU29 appends v as an AMF3 U29. The first three bytes carry 7 bits each with the high bit flagging a
// following byte; a fourth byte, when present, carries a full 8 bits.
func AppendU29(dst []byte, v uint32) ([]byte, error) {
	if v > MaxU29 {
		return dst, errors.Wrapf(ErrU29Range, "%d", v)
	}
	switch {
	case v < 0x80:
		return append(dst, byte(v)), nil
	case v < 0x4000:
		return append(dst, byte(v>>7)|0x80, byte(v&0x7F)), nil
	case v < 0x200000:
		return append(dst, byte(v>>14)|0x80, byte(v>>7)|0x80, byte(v&0x7F)), nil
	default:
		return append(dst, byte(v>>22)|0x80, byte(v>>15)|0x80, byte(v>>8)|0x80, byte(v)), nil
	}
}

// ReadU29 decodes a U29 from the start of b and returns the value and the number of bytes it spans.
func ReadU29(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, ErrShortBuffer
		}
		c := b[i]
		if i == 3 {
			return v<<8 | uint32(c), 4, nil
		}
		v = v<<7 | uint32(c&0x7F)
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	// unreachable: the loop returns by the fourth byte
	return v, 4, nil
}

// SignExtend29 interprets the low 29 bits of v as a two's complement integer.
func SignExtend29(v uint32) int32 {
	if v&0x10000000 != 0 {
		return int32(v | 0xE0000000)
	}
	return int32(v)
}
