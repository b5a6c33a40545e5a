package media

import "github.com/pkg/errors"

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// video info/command frame
	CommandFrame FrameType = 5
)

type VideoCodec uint8

const (
	SorensonH263    VideoCodec = 2
	ScreenVideo     VideoCodec = 3
	VP6             VideoCodec = 4
	VP6AlphaChannel VideoCodec = 5
	ScreenVideoV2   VideoCodec = 6
	H264            VideoCodec = 7
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// VideoHeader is the decoded tag header of a video payload. AVCPacketType and CompositionTime are only
// set for H264.
type VideoHeader struct {
	FrameType       FrameType
	Codec           VideoCodec
	AVCPacketType   AVCPacketType
	CompositionTime int32
}

// ParseVideoHeader decodes the tag header of a video message payload.
func ParseVideoHeader(payload []byte) (VideoHeader, error) {
	if len(payload) < 1 {
		return VideoHeader{}, errors.Wrap(ErrShortPayload, "video tag header")
	}
	h := VideoHeader{
		FrameType: FrameType(payload[0] >> 4 & 0x0F),
		Codec:     VideoCodec(payload[0] & 0x0F),
	}
	if h.Codec == H264 {
		if len(payload) < 5 {
			return VideoHeader{}, errors.Wrap(ErrShortPayload, "avc packet header")
		}
		h.AVCPacketType = AVCPacketType(payload[1])
		// signed 24-bit composition time offset
		ct := int32(payload[2])<<16 | int32(payload[3])<<8 | int32(payload[4])
		h.CompositionTime = ct << 8 >> 8
	}
	return h, nil
}

// IsAVCSequenceHeader reports whether payload carries an AVCDecoderConfigurationRecord.
func IsAVCSequenceHeader(payload []byte) bool {
	h, err := ParseVideoHeader(payload)
	return err == nil && h.Codec == H264 && h.AVCPacketType == AVCSequenceHeader
}

// IsKeyFrame reports whether payload starts a key frame.
func IsKeyFrame(payload []byte) bool {
	h, err := ParseVideoHeader(payload)
	return err == nil && (h.FrameType == KeyFrame || h.FrameType == GeneratedKeyFrame)
}
