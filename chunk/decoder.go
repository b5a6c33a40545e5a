package chunk

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/internal/bits"
)

const (
	DefaultChunkSize uint32 = 128
	// MaxChunkSize bounds Set Chunk Size values. A chunk never needs to exceed the longest message.
	MaxChunkSize uint32 = 0xFFFFFF
	// DefaultMaxMessageLength caps inbound messages unless SetMaxMessageLength says otherwise.
	DefaultMaxMessageLength uint32 = 8 << 20

	// first allocation for a message buffer; larger messages grow as chunks arrive
	initialMessageBuffer = 64 << 10
)

// readChannel is the inbound state of one chunk stream.
type readChannel struct {
	header    Header
	hasHeader bool
	inFlight  bool
	chunkSize uint32 // chunk size in force when the in-flight message started
	payload   []byte
}

// Decoder reassembles messages from the inbound chunk stream. It is not safe for concurrent use; a
// connection serializes calls under its decode lock.
type Decoder struct {
	chunkSize        uint32
	maxMessageLength uint32
	channels         map[uint32]*readChannel
}

func NewDecoder() *Decoder {
	return &Decoder{
		chunkSize:        DefaultChunkSize,
		maxMessageLength: DefaultMaxMessageLength,
		channels:         make(map[uint32]*readChannel),
	}
}

func (d *Decoder) ChunkSize() uint32 {
	return d.chunkSize
}

// SetChunkSize applies a peer's Set Chunk Size. Messages already being reassembled keep the size they
// started with; the new size applies from the next message on each channel.
func (d *Decoder) SetChunkSize(size uint32) error {
	if err := validChunkSize(size); err != nil {
		return err
	}
	d.chunkSize = size
	return nil
}

func validChunkSize(size uint32) error {
	if size == 0 || size > MaxChunkSize {
		return errors.Wrapf(ErrProtocolViolation, "chunk size %d out of range", size)
	}
	return nil
}

// SetMaxMessageLength sets the hard cap on declared message lengths.
func (d *Decoder) SetMaxMessageLength(n uint32) {
	if n == 0 || n > MaxMessageLength {
		n = MaxMessageLength
	}
	d.maxMessageLength = n
}

// Abort discards the partially received message on csid.
func (d *Decoder) Abort(csid uint32) {
	if ch, ok := d.channels[csid]; ok {
		ch.inFlight = false
		ch.payload = nil
	}
}

// LastHeader returns the cached header of csid.
func (d *Decoder) LastHeader(csid uint32) (Header, bool) {
	ch, ok := d.channels[csid]
	if !ok || !ch.hasHeader {
		return Header{}, false
	}
	return ch.header, true
}

// Channels returns the number of chunk streams seen so far.
func (d *Decoder) Channels() int {
	return len(d.channels)
}

// DecodeChunk parses one chunk from the start of buf. When buf does not yet hold the whole chunk it
// returns n == 0 and leaves all state untouched, so the caller can retry with more bytes. msg is non-nil
// when the chunk completed a message.
func (d *Decoder) DecodeChunk(buf []byte) (n int, csid uint32, msg *Message, err error) {
	kind, csid, off, ok := ParseBasicHeader(buf)
	if !ok {
		return 0, 0, nil, nil
	}
	ch := d.channels[csid]
	inFlight := ch != nil && ch.inFlight
	if kind != KindFull && (ch == nil || !ch.hasHeader) {
		return 0, csid, nil, errors.Wrapf(ErrProtocolViolation, "%s chunk on channel %d without a previous header", kind, csid)
	}
	if kind != KindContinuation && inFlight {
		return 0, csid, nil, errors.Wrapf(ErrProtocolViolation, "%s chunk on channel %d interrupts a message", kind, csid)
	}

	hl := messageHeaderLen(kind)
	if len(buf) < off+hl {
		return 0, csid, nil, nil
	}
	mh := buf[off : off+hl]
	off += hl

	var h Header
	if ch != nil {
		h = ch.header
	}
	h.Kind = kind
	h.ChannelID = csid

	var field uint32
	switch kind {
	case KindFull:
		field = bits.U24BE(mh[0:3])
		h.MessageLength = bits.U24BE(mh[3:6])
		h.MessageTypeID = mh[6]
		h.MessageStreamID = binary.LittleEndian.Uint32(mh[7:11])
	case KindSameSource:
		field = bits.U24BE(mh[0:3])
		h.MessageLength = bits.U24BE(mh[3:6])
		h.MessageTypeID = mh[6]
	case KindTimerChange:
		field = bits.U24BE(mh[0:3])
	}
	if kind != KindContinuation {
		h.ExtendedTimestamp = field == extendedTimestamp
	}
	if h.ExtendedTimestamp {
		if len(buf) < off+4 {
			return 0, csid, nil, nil
		}
		ext := binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		if kind != KindContinuation || !inFlight {
			field = ext
		}
	} else if kind == KindContinuation {
		field = h.TimestampDelta
	}

	switch {
	case kind == KindFull:
		h.Timestamp = field
		h.TimestampDelta = field
	case kind == KindContinuation && inFlight:
		// same message, header unchanged
	default:
		h.TimestampDelta = field
		h.Timestamp += field
	}

	chunkSize := d.chunkSize
	var have uint32
	if inFlight {
		chunkSize = ch.chunkSize
		have = uint32(len(ch.payload))
	} else if h.MessageLength > d.maxMessageLength {
		return 0, csid, nil, errors.Wrapf(ErrProtocolViolation, "message length %d on channel %d exceeds %d", h.MessageLength, csid, d.maxMessageLength)
	}
	take := h.MessageLength - have
	if take > chunkSize {
		take = chunkSize
	}
	if uint64(len(buf)) < uint64(off)+uint64(take) {
		return 0, csid, nil, nil
	}

	// the chunk is complete; commit
	if ch == nil {
		ch = &readChannel{}
		d.channels[csid] = ch
	}
	ch.header = h
	ch.hasHeader = true
	if !inFlight {
		ch.inFlight = true
		ch.chunkSize = chunkSize
		c := h.MessageLength
		if c > initialMessageBuffer {
			c = initialMessageBuffer
		}
		ch.payload = make([]byte, 0, c)
	}
	ch.payload = append(ch.payload, buf[off:off+int(take)]...)
	off += int(take)

	if uint32(len(ch.payload)) == h.MessageLength {
		msg = &Message{
			ChannelID: csid,
			TypeID:    h.MessageTypeID,
			StreamID:  h.MessageStreamID,
			Timestamp: h.Timestamp,
			Payload:   ch.payload,
		}
		ch.payload = nil
		ch.inFlight = false
	}
	return off, csid, msg, nil
}
