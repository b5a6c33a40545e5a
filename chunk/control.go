package chunk

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Protocol control messages travel on channel 2 with message stream id 0.
const ControlChannel uint32 = 2

// LimitType is the limit field of Set Peer Bandwidth.
type LimitType uint8

const (
	LimitHard    LimitType = 0
	LimitSoft    LimitType = 1
	LimitDynamic LimitType = 2
)

// User control event types.
const (
	EventStreamBegin      uint16 = 0
	EventStreamEOF        uint16 = 1
	EventStreamDry        uint16 = 2
	EventSetBufferLength  uint16 = 3
	EventStreamIsRecorded uint16 = 4
	EventPingRequest      uint16 = 6
	EventPingResponse     uint16 = 7
)

func controlMessage(typeID uint8, payload []byte) *Message {
	return &Message{ChannelID: ControlChannel, TypeID: typeID, Payload: payload}
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// NewSetChunkSize builds a Set Chunk Size message. The high bit of the size must be zero.
func NewSetChunkSize(size uint32) *Message {
	return controlMessage(TypeSetChunkSize, u32(size&0x7FFFFFFF))
}

func NewAbort(csid uint32) *Message {
	return controlMessage(TypeAbort, u32(csid))
}

// NewAck acknowledges sequenceNumber bytes received so far.
func NewAck(sequenceNumber uint32) *Message {
	return controlMessage(TypeAck, u32(sequenceNumber))
}

func NewWindowAckSize(size uint32) *Message {
	return controlMessage(TypeWindowAckSize, u32(size))
}

func NewSetPeerBandwidth(size uint32, limit LimitType) *Message {
	return controlMessage(TypeSetPeerBandwidth, append(u32(size), byte(limit)))
}

// Control is a parsed protocol control message. Value holds the chunk size, channel id, sequence number or
// window size depending on Type.
type Control struct {
	Type  uint8
	Value uint32
	Limit LimitType
}

// ParseControl decodes one of the five protocol control messages.
func ParseControl(m *Message) (Control, error) {
	need := 4
	if m.TypeID == TypeSetPeerBandwidth {
		need = 5
	}
	if !IsControl(m.TypeID) {
		return Control{}, errors.Wrapf(ErrProtocolViolation, "type %d is not a control message", m.TypeID)
	}
	if len(m.Payload) < need {
		return Control{}, errors.Wrapf(ErrProtocolViolation, "control message type %d with %d byte payload", m.TypeID, len(m.Payload))
	}
	c := Control{Type: m.TypeID, Value: binary.BigEndian.Uint32(m.Payload[:4])}
	switch m.TypeID {
	case TypeSetChunkSize:
		c.Value &= 0x7FFFFFFF
	case TypeSetPeerBandwidth:
		c.Limit = LimitType(m.Payload[4])
	}
	return c, nil
}

// UserControl is a user control event. StreamID is set for stream events, BufferLength for
// SetBufferLength, and Timestamp for ping events.
type UserControl struct {
	Event        uint16
	StreamID     uint32
	BufferLength uint32
	Timestamp    uint32
}

// NewUserControl builds the message carrying ev.
func NewUserControl(ev UserControl) *Message {
	b := make([]byte, 6, 10)
	binary.BigEndian.PutUint16(b[0:2], ev.Event)
	switch ev.Event {
	case EventPingRequest, EventPingResponse:
		binary.BigEndian.PutUint32(b[2:6], ev.Timestamp)
	default:
		binary.BigEndian.PutUint32(b[2:6], ev.StreamID)
	}
	if ev.Event == EventSetBufferLength {
		b = append(b, u32(ev.BufferLength)...)
	}
	return controlMessage(TypeUserControl, b)
}

// ParseUserControl decodes a user control message payload.
func ParseUserControl(payload []byte) (UserControl, error) {
	if len(payload) < 6 {
		return UserControl{}, errors.Wrapf(ErrProtocolViolation, "user control payload of %d bytes", len(payload))
	}
	ev := UserControl{Event: binary.BigEndian.Uint16(payload[0:2])}
	v := binary.BigEndian.Uint32(payload[2:6])
	switch ev.Event {
	case EventPingRequest, EventPingResponse:
		ev.Timestamp = v
	case EventSetBufferLength:
		if len(payload) < 10 {
			return UserControl{}, errors.Wrapf(ErrProtocolViolation, "set buffer length payload of %d bytes", len(payload))
		}
		ev.StreamID = v
		ev.BufferLength = binary.BigEndian.Uint32(payload[6:10])
	default:
		ev.StreamID = v
	}
	return ev, nil
}
