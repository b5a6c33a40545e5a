package chunk

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encoder splits messages into chunks, choosing for each message the smallest header that lets the peer
// rebuild it from the previous header on the same channel. It is not safe for concurrent use; a
// connection serializes calls under its encode lock.
type Encoder struct {
	chunkSize uint32
	channels  map[uint32]*Header
}

func NewEncoder() *Encoder {
	return &Encoder{
		chunkSize: DefaultChunkSize,
		channels:  make(map[uint32]*Header),
	}
}

func (e *Encoder) ChunkSize() uint32 {
	return e.chunkSize
}

// SetChunkSize changes the size used from the next message on. The caller must have announced it to the
// peer with a Set Chunk Size message first.
func (e *Encoder) SetChunkSize(size uint32) error {
	if err := validChunkSize(size); err != nil {
		return errors.Wrapf(ErrInvalidMessage, "chunk size %d out of range", size)
	}
	e.chunkSize = size
	return nil
}

// LastHeader returns the header last written on csid.
func (e *Encoder) LastHeader(csid uint32) (Header, bool) {
	h, ok := e.channels[csid]
	if !ok {
		return Header{}, false
	}
	return *h, true
}

// nextHeader picks the header kind for m relative to prev.
func nextHeader(prev *Header, m *Message) Header {
	h := Header{
		Kind:            KindFull,
		ChannelID:       m.ChannelID,
		Timestamp:       m.Timestamp,
		TimestampDelta:  m.Timestamp,
		MessageLength:   uint32(len(m.Payload)),
		MessageTypeID:   m.TypeID,
		MessageStreamID: m.StreamID,
	}
	if prev == nil || prev.MessageStreamID != m.StreamID || prev.MessageTypeID != m.TypeID || m.Timestamp < prev.Timestamp {
		return h
	}
	h.TimestampDelta = m.Timestamp - prev.Timestamp
	switch {
	case prev.MessageLength != h.MessageLength:
		h.Kind = KindSameSource
	case h.TimestampDelta == prev.TimestampDelta && prev.Kind != KindFull:
		// a delta-only header came before, so the peer already holds this delta
		h.Kind = KindContinuation
	default:
		h.Kind = KindTimerChange
	}
	return h
}

// Check reports whether Encode would reject m. It does not touch channel state.
func (e *Encoder) Check(m *Message) error {
	if uint64(len(m.Payload)) > uint64(MaxMessageLength) {
		return errors.Wrapf(ErrInvalidMessage, "payload of %d bytes exceeds %d", len(m.Payload), MaxMessageLength)
	}
	if m.ChannelID < MinChannelID || m.ChannelID > MaxChannelID {
		return errors.Wrapf(ErrInvalidMessage, "channel id %d out of range", m.ChannelID)
	}
	return nil
}

// Encode appends the chunks of m to dst. A rejected message leaves dst and the channel state unchanged.
func (e *Encoder) Encode(dst []byte, m *Message) ([]byte, error) {
	if err := e.Check(m); err != nil {
		return dst, err
	}

	h := nextHeader(e.channels[m.ChannelID], m)
	field := h.TimestampDelta
	if h.Kind == KindFull {
		field = h.Timestamp
	}
	h.ExtendedTimestamp = field >= extendedTimestamp

	var ext [4]byte
	binary.BigEndian.PutUint32(ext[:], field)
	header24 := field
	if h.ExtendedTimestamp {
		header24 = extendedTimestamp
	}

	dst, _ = AppendBasicHeader(dst, h.Kind, h.ChannelID)
	dst = appendMessageHeader(dst, &h, header24)
	if h.ExtendedTimestamp {
		dst = append(dst, ext[:]...)
	}

	payload := m.Payload
	for first := true; first || len(payload) > 0; first = false {
		if !first {
			dst, _ = AppendBasicHeader(dst, KindContinuation, h.ChannelID)
			if h.ExtendedTimestamp {
				dst = append(dst, ext[:]...)
			}
		}
		n := uint32(len(payload))
		if n > e.chunkSize {
			n = e.chunkSize
		}
		dst = append(dst, payload[:n]...)
		payload = payload[n:]
	}

	e.channels[h.ChannelID] = &h
	return dst, nil
}
