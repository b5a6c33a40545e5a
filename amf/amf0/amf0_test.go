package amf0

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
)

func TestEncodeBytes(t *testing.T) {
	tests := []struct {
		name string
		in   amf.Value
		out  []byte
	}{
		{"connect", amf.String("connect"), []byte{0x02, 0x00, 0x07, 0x63, 0x6F, 0x6E, 0x6E, 0x65, 0x63, 0x74}},
		{"number", amf.Number(1), []byte{0x00, 0x3F, 0xF0, 0, 0, 0, 0, 0, 0}},
		{"integerAsNumber", amf.Integer(1), []byte{0x00, 0x3F, 0xF0, 0, 0, 0, 0, 0, 0}},
		{"true", amf.Boolean(true), []byte{0x01, 0x01}},
		{"null", amf.Null{}, []byte{0x05}},
		{"nilIsNull", nil, []byte{0x05}},
		{"undefined", amf.Undefined{}, []byte{0x06}},
		{"object", amf.NewObject(amf.Property{Name: "a", Value: amf.Boolean(false)}),
			[]byte{0x03, 0x00, 0x01, 'a', 0x01, 0x00, 0x00, 0x00, 0x09}},
		{"strictArray", &amf.StrictArray{Elements: []amf.Value{amf.Null{}}}, []byte{0x0A, 0, 0, 0, 1, 0x05}},
		{"byteArraySwitchesToAMF3", amf.ByteArray{7}, []byte{0x11, 0x0C, 0x03, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.out) {
				t.Errorf("got % x, want % x", got, tt.out)
			}
		})
	}
}

func TestLongString(t *testing.T) {
	s := strings.Repeat("x", 0x10000)
	b, err := Encode(amf.String(s))
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != MarkerLongString {
		t.Fatalf("got marker 0x%02x, want long string", b[0])
	}
	v, n, err := Decode(b, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if n != len(b) || string(v.(amf.String)) != s {
		t.Error("long string did not round trip")
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   amf.Value
	}{
		{"number", amf.Number(-12.5)},
		{"string", amf.String("rtmp://example/app")},
		{"date", amf.Date{Millis: 1234567, TimeZone: -60}},
		{"xml", amf.XMLDocument("<x/>")},
		{"object", amf.NewObject(
			amf.Property{Name: "app", Value: amf.String("live")},
			amf.Property{Name: "fpad", Value: amf.Boolean(false)},
			amf.Property{Name: "capabilities", Value: amf.Number(239)},
			amf.Property{Name: "nested", Value: amf.NewObject(amf.Property{Name: "n", Value: amf.Null{}})},
		)},
		{"typedObject", &amf.Object{ClassName: "com.Example", Properties: []amf.Property{{Name: "id", Value: amf.Number(1)}}}},
		{"ecmaArray", &amf.ECMAArray{Properties: []amf.Property{{Name: "duration", Value: amf.Number(0)}, {Name: "3", Value: amf.Undefined{}}}}},
		{"strictArray", &amf.StrictArray{Elements: []amf.Value{amf.Number(1), amf.String("two")}}},
		{"emptyObject", amf.NewObject()},
		{"byteArray", amf.ByteArray{1, 2, 3}},
		{"ecmaArrayDense", &amf.ECMAArray{Dense: []amf.Value{amf.Number(1), amf.String("b")}, Properties: []amf.Property{{Name: "k", Value: amf.String("v")}}}},
		{"ecmaArrayDenseOnly", &amf.ECMAArray{Dense: []amf.Value{amf.Boolean(true)}}},
	}
	opts := amf.DecodeOptions{Policy: amf.NewAllowList("com.Example")}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			got, n, err := Decode(b, opts)
			if err != nil {
				t.Fatal(err)
			}
			if n != len(b) {
				t.Errorf("consumed %d of %d bytes", n, len(b))
			}
			if !reflect.DeepEqual(got, tt.in) {
				t.Errorf("round trip mismatch\ngot:  %s\nwant: %s", spew.Sdump(got), spew.Sdump(tt.in))
			}
		})
	}
}

func TestCycle(t *testing.T) {
	obj := amf.NewObject()
	obj.Set("self", obj)
	b, err := Encode(obj)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x03, 0x00, 0x04, 's', 'e', 'l', 'f', 0x07, 0x00, 0x00, 0x00, 0x00, 0x09}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x, want % x", b, want)
	}
	got, _, err := Decode(b, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	self, _ := got.(*amf.Object).Get("self")
	if self != got {
		t.Error("decoded self reference does not point back to the object")
	}
}

func TestEncodeAllSharesReferences(t *testing.T) {
	obj := amf.NewObject()
	b, err := EncodeAll(amf.String("x"), obj, obj)
	if err != nil {
		t.Fatal(err)
	}
	vs, err := DecodeAll(b, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 3 || vs[1] != vs[2] {
		t.Errorf("got %s", spew.Sdump(vs))
	}
}

func TestDecodeTolerance(t *testing.T) {
	// ECMA array claiming 5 entries but holding one
	in := []byte{0x08, 0, 0, 0, 5, 0x00, 0x01, 'k', 0x05, 0x00, 0x00, 0x09}
	v, n, err := Decode(in, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if n != len(in) {
		t.Errorf("consumed %d of %d", n, len(in))
	}
	if _, ok := v.(*amf.ECMAArray).Get("k"); !ok {
		t.Error("missing key k")
	}
	if v, _, _ := Decode([]byte{MarkerUnsupported}, amf.DecodeOptions{}); v != (amf.Undefined{}) {
		t.Errorf("unsupported marker decoded as %v", v)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		err  error
	}{
		{"empty", nil, amf.ErrDecode},
		{"truncatedNumber", []byte{0x00, 0x01}, amf.ErrDecode},
		{"truncatedString", []byte{0x02, 0x00, 0x05, 'a'}, amf.ErrDecode},
		{"oversizedLongString", []byte{0x0C, 0xFF, 0xFF, 0xFF, 0xFF, 'a'}, amf.ErrDecode},
		{"hugeStrictArray", []byte{0x0A, 0xFF, 0xFF, 0xFF, 0xFF}, amf.ErrDecode},
		{"unterminatedObject", []byte{0x03, 0x00, 0x01, 'a', 0x05}, amf.ErrDecode},
		{"danglingReference", []byte{0x07, 0x00, 0x01}, amf.ErrDecode},
		{"strayObjectEnd", []byte{0x09}, amf.ErrDecode},
		{"movieClip", []byte{0x04}, amf.ErrDecode},
		{"typedObjectRejected", []byte{0x10, 0x00, 0x03, 'E', 'v', 'l', 0x00, 0x00, 0x09}, amf.ErrClassNotAllowed},
		{"avmplusGarbage", []byte{0x11, 0x20}, amf.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.in, amf.DecodeOptions{})
			if !errors.Is(err, tt.err) {
				t.Errorf("got %v, want %v", err, tt.err)
			}
		})
	}
}
