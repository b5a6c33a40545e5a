package chunk

// Message type ids.
const (
	TypeSetChunkSize     uint8 = 1
	TypeAbort            uint8 = 2
	TypeAck              uint8 = 3
	TypeUserControl      uint8 = 4
	TypeWindowAckSize    uint8 = 5
	TypeSetPeerBandwidth uint8 = 6

	TypeAudio uint8 = 8
	TypeVideo uint8 = 9

	TypeDataAMF3         uint8 = 15
	TypeSharedObjectAMF3 uint8 = 16
	TypeCommandAMF3      uint8 = 17
	TypeDataAMF0         uint8 = 18
	TypeSharedObjectAMF0 uint8 = 19
	TypeCommandAMF0      uint8 = 20
	TypeAggregate        uint8 = 22
)

// IsControl reports whether typeID is one of the protocol control messages applied by the chunk layer.
func IsControl(typeID uint8) bool {
	switch typeID {
	case TypeSetChunkSize, TypeAbort, TypeAck, TypeWindowAckSize, TypeSetPeerBandwidth:
		return true
	}
	return false
}

// Message is a complete logical RTMP message. Timestamp is absolute.
type Message struct {
	ChannelID uint32
	TypeID    uint8
	StreamID  uint32
	Timestamp uint32
	Payload   []byte
}
