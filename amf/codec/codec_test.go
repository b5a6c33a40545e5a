package codec

import (
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
)

func TestRoundTripBothVersions(t *testing.T) {
	values := []amf.Value{
		amf.String("onStatus"),
		amf.Number(0),
		amf.Null{},
		&amf.Object{Dynamic: true, Properties: []amf.Property{
			{Name: "level", Value: amf.String("status")},
			{Name: "code", Value: amf.String("NetStream.Play.Start")},
		}},
	}
	for _, version := range []amf.Version{amf.Version0, amf.Version3} {
		b, err := EncodeAll(version, values...)
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		got, err := DecodeAll(b, version, amf.DecodeOptions{})
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		if version == amf.Version0 {
			// AMF0 has no traits; the dynamic flag does not survive
			got[3].(*amf.Object).Dynamic = true
		}
		if !reflect.DeepEqual(got, values) {
			t.Errorf("version %d mismatch\n%s", version, spew.Sdump(got))
		}

		single, err := Encode(values[0], version)
		if err != nil {
			t.Fatal(err)
		}
		v, n, err := Decode(single, version, amf.DecodeOptions{})
		if err != nil || n != len(single) || v != values[0] {
			t.Errorf("version %d: got (%v, %d, %v)", version, v, n, err)
		}
	}
}

func TestUnsupportedVersion(t *testing.T) {
	if _, err := Encode(amf.Null{}, 2); !errors.Is(err, amf.ErrUnsupportedVersion) {
		t.Errorf("got %v", err)
	}
	if _, _, err := Decode(nil, 2, amf.DecodeOptions{}); !errors.Is(err, amf.ErrUnsupportedVersion) {
		t.Errorf("got %v", err)
	}
}
