// Package media inspects the one or two byte FLV tag headers at the start of RTMP audio and video
// payloads. Codec payloads themselves are passed through untouched.
//
// Field values follow the FLV file format specification, version 10.1.
package media

import "github.com/pkg/errors"

var ErrShortPayload = errors.New("media: payload too short")

type SoundFormat uint8

const (
	LinearPCMPlatformEndian SoundFormat = 0
	ADPCM                   SoundFormat = 1
	MP3                     SoundFormat = 2
	LinearPCMLittleEndian   SoundFormat = 3
	Nellymoser16KHzMono     SoundFormat = 4
	Nellymoser8KHzMono      SoundFormat = 5
	Nellymoser              SoundFormat = 6
	G711ALaw                SoundFormat = 7
	G711MuLaw               SoundFormat = 8
	AAC                     SoundFormat = 10
	Speex                   SoundFormat = 11
	MP38KHz                 SoundFormat = 14
	DeviceSpecificSound     SoundFormat = 15
)

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

// Hz returns the nominal rate in hertz.
func (r SampleRate) Hz() int {
	switch r {
	case Rate5p5KHz:
		return 5512
	case Rate11KHz:
		return 11025
	case Rate22KHz:
		return 22050
	default:
		return 44100
	}
}

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channels uint8

const (
	Mono   Channels = 0
	Stereo Channels = 1
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// AudioHeader is the decoded first byte of an audio payload, plus the AAC packet type when Format is AAC.
type AudioHeader struct {
	Format        SoundFormat
	Rate          SampleRate
	Size          SampleSize
	Channels      Channels
	AACPacketType AACPacketType
}

// ParseAudioHeader decodes the tag header of an audio message payload.
func ParseAudioHeader(payload []byte) (AudioHeader, error) {
	if len(payload) < 1 {
		return AudioHeader{}, errors.Wrap(ErrShortPayload, "audio tag header")
	}
	b := payload[0]
	h := AudioHeader{
		Format:   SoundFormat(b >> 4 & 0x0F),
		Rate:     SampleRate(b >> 2 & 0x03),
		Size:     SampleSize(b >> 1 & 0x01),
		Channels: Channels(b & 0x01),
	}
	if h.Format == AAC {
		if len(payload) < 2 {
			return AudioHeader{}, errors.Wrap(ErrShortPayload, "aac packet type")
		}
		h.AACPacketType = AACPacketType(payload[1])
	}
	return h, nil
}

// IsAACSequenceHeader reports whether payload carries an AudioSpecificConfig.
func IsAACSequenceHeader(payload []byte) bool {
	h, err := ParseAudioHeader(payload)
	return err == nil && h.Format == AAC && h.AACPacketType == AACSequenceHeader
}
