package amf3

import (
	"bytes"
	"reflect"
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
		{"null", amf.Null{}, []byte{0x01}},
		{"undefined", amf.Undefined{}, []byte{0x00}},
		{"true", amf.Boolean(true), []byte{0x03}},
		{"false", amf.Boolean(false), []byte{0x02}},
		{"smallInteger", amf.Integer(5), []byte{0x04, 0x05}},
		{"negativeInteger", amf.Integer(-1), []byte{0x04, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"integerPromoted", amf.Integer(MaxInt + 1), []byte{0x05, 0x41, 0xB0, 0, 0, 0, 0, 0, 0}},
		{"string", amf.String("hi"), []byte{0x06, 0x05, 'h', 'i'}},
		{"emptyString", amf.String(""), []byte{0x06, 0x01}},
		{"stringReference", &amf.StrictArray{Elements: []amf.Value{amf.String("a"), amf.String("a")}},
			[]byte{0x09, 0x05, 0x01, 0x06, 0x03, 'a', 0x06, 0x00}},
		{"byteArray", amf.ByteArray{1, 2}, []byte{0x0C, 0x05, 1, 2}},
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

func TestRoundTrip(t *testing.T) {
	shared := &amf.Object{Dynamic: true, Properties: []amf.Property{{Name: "k", Value: amf.String("v")}}}
	tests := []struct {
		name string
		in   amf.Value
	}{
		{"number", amf.Number(3.25)},
		{"integerMin", amf.Integer(MinInt)},
		{"integerMax", amf.Integer(MaxInt)},
		{"string", amf.String("connect")},
		{"date", amf.Date{Millis: 1600000000000}},
		{"xml", amf.XMLDocument("<a/>")},
		{"byteArray", amf.ByteArray{0xDE, 0xAD}},
		{"strictArray", &amf.StrictArray{Elements: []amf.Value{amf.Integer(1), amf.Null{}, amf.String("x")}}},
		{"mixedArray", &amf.ECMAArray{
			Dense:      []amf.Value{amf.Integer(7)},
			Properties: []amf.Property{{Name: "name", Value: amf.String("n")}},
		}},
		{"sealedTypedObject", &amf.Object{ClassName: "flex.Point", Properties: []amf.Property{
			{Name: "x", Value: amf.Number(1)}, {Name: "y", Value: amf.Number(2)},
		}}},
		{"dynamicObject", &amf.Object{Dynamic: true, Sealed: 1, ClassName: "flex.Point", Properties: []amf.Property{
			{Name: "x", Value: amf.Number(1)}, {Name: "extra", Value: amf.Boolean(true)},
		}}},
		{"sharedSubtree", &amf.StrictArray{Elements: []amf.Value{shared, shared, amf.Date{Millis: 5}, shared}}},
		{"traitsReuse", &amf.StrictArray{Elements: []amf.Value{
			&amf.Object{ClassName: "flex.Point", Properties: []amf.Property{{Name: "x", Value: amf.Integer(1)}}},
			&amf.Object{ClassName: "flex.Point", Properties: []amf.Property{{Name: "x", Value: amf.Integer(2)}}},
		}}},
	}
	opts := amf.DecodeOptions{Policy: amf.NewAllowList("flex.Point")}
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

func TestSharedSubtreeKeepsIdentity(t *testing.T) {
	shared := &amf.Object{Dynamic: true}
	b, err := Encode(&amf.StrictArray{Elements: []amf.Value{shared, shared}})
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := Decode(b, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	els := got.(*amf.StrictArray).Elements
	if els[0] != els[1] {
		t.Error("shared object decoded into two instances")
	}
}

func TestCycle(t *testing.T) {
	obj := &amf.Object{Dynamic: true}
	obj.Set("self", obj)
	b, err := Encode(obj)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x0A, 0x0B, 0x01, 0x09, 's', 'e', 'l', 'f', 0x0A, 0x00, 0x01}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x, want % x", b, want)
	}
	got, _, err := Decode(b, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	o := got.(*amf.Object)
	self, _ := o.Get("self")
	if self != amf.Value(o) {
		t.Error("decoded self reference does not point back to the object")
	}

	arr := &amf.ECMAArray{}
	arr.Set("me", arr)
	b, err = Encode(arr)
	if err != nil {
		t.Fatal(err)
	}
	gotArr, _, err := Decode(b, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	me, _ := gotArr.(*amf.ECMAArray).Get("me")
	if me != gotArr {
		t.Error("decoded array does not contain itself")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		err  error
	}{
		{"empty", nil, amf.ErrDecode},
		{"unknownMarker", []byte{0x20}, amf.ErrDecode},
		{"oversizedString", []byte{0x06, 0xFF, 0xFF, 0xFF, 0xFF}, amf.ErrDecode},
		{"truncatedDouble", []byte{0x05, 0x00}, amf.ErrDecode},
		{"danglingStringRef", []byte{0x06, 0x02}, amf.ErrDecode},
		{"danglingObjectRef", []byte{0x0A, 0x02}, amf.ErrDecode},
		{"danglingTraitsRef", []byte{0x0A, 0x01}, amf.ErrDecode},
		{"hugeDenseCount", []byte{0x09, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, amf.ErrDecode},
		{"vector", []byte{0x0D, 0x01}, amf.ErrDecode},
		{"disallowedClass", []byte{0x0A, 0x03, 0x07, 'E', 'v', 'l'}, amf.ErrClassNotAllowed},
		{"externalizable", []byte{0x0A, 0x07, 0x01}, amf.ErrDecode},
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

func TestDepthLimit(t *testing.T) {
	var b []byte
	for i := 0; i < 10; i++ {
		b = append(b, MarkerArray, 0x03, 0x01)
	}
	b = append(b, MarkerNull)
	if _, _, err := Decode(b, amf.DecodeOptions{MaxDepth: 5}); !errors.Is(err, amf.ErrDecode) {
		t.Errorf("got %v, want depth error", err)
	}
	if _, _, err := Decode(b, amf.DecodeOptions{}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode(amf.Reference(0)); !errors.Is(err, amf.ErrEncode) {
		t.Errorf("got %v, want ErrEncode", err)
	}
	bad := &amf.Object{Dynamic: true, Properties: []amf.Property{{Name: "", Value: amf.Null{}}}}
	if _, err := Encode(bad); !errors.Is(err, amf.ErrEncode) {
		t.Errorf("got %v, want ErrEncode", err)
	}
}
