package bits

import (
	"bytes"
	"testing"
)

func TestU24(t *testing.T) {
	b := make([]byte, 3)
	PutU24BE(b, 0xABCDEF)
	if !bytes.Equal(b, []byte{0xAB, 0xCD, 0xEF}) {
		t.Errorf("PutU24BE: got % x", b)
	}
	if v := U24BE(b); v != 0xABCDEF {
		t.Errorf("U24BE: got %#x", v)
	}
	PutU24LE(b, 0xABCDEF)
	if !bytes.Equal(b, []byte{0xEF, 0xCD, 0xAB}) {
		t.Errorf("PutU24LE: got % x", b)
	}
	if v := U24LE(b); v != 0xABCDEF {
		t.Errorf("U24LE: got %#x", v)
	}
}

func TestU29(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		out  []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"oneByteMax", 0x7F, []byte{0x7F}},
		{"twoBytes", 0x80, []byte{0x81, 0x00}},
		{"twoBytesMax", 0x3FFF, []byte{0xFF, 0x7F}},
		{"threeBytes", 0x4000, []byte{0x81, 0x80, 0x00}},
		{"threeBytesMax", 0x1FFFFF, []byte{0xFF, 0xFF, 0x7F}},
		{"fourBytes", 0x200000, []byte{0x80, 0xC0, 0x80, 0x00}},
		{"max", MaxU29, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AppendU29(nil, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.out) {
				t.Errorf("AppendU29(%#x) = % x, want % x", tt.in, got, tt.out)
			}
			if U29Len(tt.in) != len(tt.out) {
				t.Errorf("U29Len(%#x) = %d, want %d", tt.in, U29Len(tt.in), len(tt.out))
			}
			v, n, err := ReadU29(tt.out)
			if err != nil {
				t.Fatal(err)
			}
			if v != tt.in || n != len(tt.out) {
				t.Errorf("ReadU29 = (%#x, %d), want (%#x, %d)", v, n, tt.in, len(tt.out))
			}
		})
	}
}

func TestU29Errors(t *testing.T) {
	if _, err := AppendU29(nil, MaxU29+1); err == nil {
		t.Error("expected range error")
	}
	if _, _, err := ReadU29([]byte{0x81, 0x80}); err != ErrShortBuffer {
		t.Errorf("got %v, want %v", err, ErrShortBuffer)
	}
}

func TestSignExtend29(t *testing.T) {
	if v := SignExtend29(0x1FFFFFFF); v != -1 {
		t.Errorf("got %d, want -1", v)
	}
	if v := SignExtend29(0x10000000); v != -(1 << 28) {
		t.Errorf("got %d, want %d", v, -(1 << 28))
	}
	if v := SignExtend29(0x0FFFFFFF); v != (1<<28)-1 {
		t.Errorf("got %d", v)
	}
}
