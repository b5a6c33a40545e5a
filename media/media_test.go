package media

import (
	"testing"

	"github.com/pkg/errors"
)

func TestParseAudioHeader(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    AudioHeader
		seqHead bool
	}{
		{"aacSequenceHeader", []byte{0xAF, 0x00, 0x12, 0x10}, AudioHeader{AAC, Rate44KHz, Size16Bit, Stereo, AACSequenceHeader}, true},
		{"aacRaw", []byte{0xAF, 0x01, 0x21}, AudioHeader{AAC, Rate44KHz, Size16Bit, Stereo, AACRaw}, false},
		{"mp3Mono", []byte{0x2A, 0xFF}, AudioHeader{Format: MP3, Rate: Rate22KHz, Size: Size16Bit, Channels: Mono}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAudioHeader(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if IsAACSequenceHeader(tt.in) != tt.seqHead {
				t.Errorf("IsAACSequenceHeader = %v", !tt.seqHead)
			}
		})
	}
	if _, err := ParseAudioHeader([]byte{0xAF}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("got %v", err)
	}
	if Rate11KHz.Hz() != 11025 {
		t.Errorf("Hz = %d", Rate11KHz.Hz())
	}
}

func TestParseVideoHeader(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		want     VideoHeader
		seqHead  bool
		keyFrame bool
	}{
		{"avcSequenceHeader", []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01}, VideoHeader{KeyFrame, H264, AVCSequenceHeader, 0}, true, true},
		{"avcInterFrame", []byte{0x27, 0x01, 0x00, 0x00, 0x50, 0xAA}, VideoHeader{InterFrame, H264, AVCNALU, 80}, false, false},
		{"negativeCompositionTime", []byte{0x27, 0x01, 0xFF, 0xFF, 0xFE}, VideoHeader{InterFrame, H264, AVCNALU, -2}, false, false},
		{"vp6KeyFrame", []byte{0x14, 0x00}, VideoHeader{FrameType: KeyFrame, Codec: VP6}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVideoHeader(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if IsAVCSequenceHeader(tt.in) != tt.seqHead || IsKeyFrame(tt.in) != tt.keyFrame {
				t.Errorf("sequence header %v, key frame %v", IsAVCSequenceHeader(tt.in), IsKeyFrame(tt.in))
			}
		})
	}
	if _, err := ParseVideoHeader(nil); !errors.Is(err, ErrShortPayload) {
		t.Errorf("got %v", err)
	}
}
