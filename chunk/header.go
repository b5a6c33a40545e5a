// Package chunk implements the RTMP chunk stream: basic and message headers, reassembly of chunks into
// messages, fragmentation of messages into chunks, and the protocol control messages carried on channel 2.
package chunk

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/internal/bits"
)

// Kind is the 2-bit chunk type of a basic header. It selects how much of the message header is sent.
type Kind uint8

const (
	// KindFull carries timestamp, length, type id and stream id (11 bytes).
	KindFull Kind = 0
	// KindSameSource omits the stream id (7 bytes).
	KindSameSource Kind = 1
	// KindTimerChange carries only the timestamp delta (3 bytes).
	KindTimerChange Kind = 2
	// KindContinuation carries no message header.
	KindContinuation Kind = 3
)

var kindNames = [...]string{"full", "same-source", "timer-change", "continuation"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// messageHeaderLen returns the message header size for k.
func messageHeaderLen(k Kind) int {
	switch k {
	case KindFull:
		return 11
	case KindSameSource:
		return 7
	case KindTimerChange:
		return 3
	default:
		return 0
	}
}

const (
	// Channel ids 0 and 1 are escape codes in the basic header and cannot be used.
	MinChannelID uint32 = 2
	MaxChannelID uint32 = 65599

	// A timestamp field holding this value is followed by a 4-byte extended timestamp.
	extendedTimestamp uint32 = 0xFFFFFF

	// Longest message the 24-bit length field can describe.
	MaxMessageLength uint32 = 0xFFFFFF
)

var (
	ErrProtocolViolation = errors.New("chunk: protocol violation")
	ErrInvalidMessage    = errors.New("chunk: invalid outbound message")
)

// Header is the full header state of one chunk. Timestamp is always absolute; TimestampDelta is the value
// a following delta-only header would add.
type Header struct {
	Kind              Kind
	ChannelID         uint32
	Timestamp         uint32
	TimestampDelta    uint32
	MessageLength     uint32
	MessageTypeID     uint8
	MessageStreamID   uint32
	ExtendedTimestamp bool
}

// Equal compares every field by value.
func (h Header) Equal(o Header) bool {
	return h == o
}

// BasicHeaderLen returns how many bytes the basic header of csid occupies.
func BasicHeaderLen(csid uint32) int {
	switch {
	case csid < 64:
		return 1
	case csid < 320:
		return 2
	default:
		return 3
	}
}

// AppendBasicHeader appends the basic header for kind and csid.
//
//	 0 1 2 3 4 5 6 7
//	+-+-+-+-+-+-+-+-+
//	|fmt|   cs id   |        ids 2-63
//	+-+-+-+-+-+-+-+-+
//	|fmt|    0      | cs id - 64    |        ids 64-319
//	|fmt|    1      | (cs id - 64) little-endian, 2 bytes |  ids 64-65599
func AppendBasicHeader(dst []byte, kind Kind, csid uint32) ([]byte, error) {
	if csid < MinChannelID || csid > MaxChannelID {
		return dst, errors.Wrapf(ErrInvalidMessage, "channel id %d out of range", csid)
	}
	top := byte(kind&0x03) << 6
	switch BasicHeaderLen(csid) {
	case 1:
		return append(dst, top|byte(csid)), nil
	case 2:
		return append(dst, top, byte(csid-64)), nil
	default:
		v := csid - 64
		return append(dst, top|1, byte(v), byte(v>>8)), nil
	}
}

// ParseBasicHeader reads a basic header. ok is false when b is too short.
func ParseBasicHeader(b []byte) (kind Kind, csid uint32, n int, ok bool) {
	if len(b) < 1 {
		return 0, 0, 0, false
	}
	kind = Kind(b[0] >> 6)
	switch low := uint32(b[0] & 0x3F); low {
	case 0:
		if len(b) < 2 {
			return 0, 0, 0, false
		}
		return kind, uint32(b[1]) + 64, 2, true
	case 1:
		if len(b) < 3 {
			return 0, 0, 0, false
		}
		return kind, uint32(binary.LittleEndian.Uint16(b[1:3])) + 64, 3, true
	default:
		return kind, low, 1, true
	}
}

// appendMessageHeader writes the message header for h.Kind, with field as the 24-bit timestamp value.
//
//	Full:        | timestamp (3) | length (3) | type (1) | stream id LE (4) |
//	SameSource:  | delta (3)     | length (3) | type (1) |
//	TimerChange: | delta (3)     |
func appendMessageHeader(dst []byte, h *Header, field uint32) []byte {
	if h.Kind == KindContinuation {
		return dst
	}
	var b [11]byte
	bits.PutU24BE(b[0:3], field)
	if h.Kind == KindTimerChange {
		return append(dst, b[:3]...)
	}
	bits.PutU24BE(b[3:6], h.MessageLength)
	b[6] = h.MessageTypeID
	if h.Kind == KindSameSource {
		return append(dst, b[:7]...)
	}
	binary.LittleEndian.PutUint32(b[7:11], h.MessageStreamID)
	return append(dst, b[:11]...)
}
