// Package codec dispatches AMF encoding and decoding on the wire version.
package codec

import (
	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/amf/amf0"
	"github.com/streamcore/rtmp/amf/amf3"
)

// Encode serializes v with fresh reference tables.
func Encode(v amf.Value, version amf.Version) ([]byte, error) {
	switch version {
	case amf.Version0:
		return amf0.Encode(v)
	case amf.Version3:
		return amf3.Encode(v)
	default:
		return nil, errors.Wrapf(amf.ErrUnsupportedVersion, "%d", version)
	}
}

// Decode reads one value and reports the number of bytes it spans.
func Decode(b []byte, version amf.Version, opts amf.DecodeOptions) (amf.Value, int, error) {
	switch version {
	case amf.Version0:
		return amf0.Decode(b, opts)
	case amf.Version3:
		return amf3.Decode(b, opts)
	default:
		return nil, 0, errors.Wrapf(amf.ErrUnsupportedVersion, "%d", version)
	}
}

// EncodeAll serializes a sequence of values sharing one set of reference tables.
func EncodeAll(version amf.Version, vs ...amf.Value) ([]byte, error) {
	switch version {
	case amf.Version0:
		return amf0.EncodeAll(vs...)
	case amf.Version3:
		e := amf3.NewEncoder()
		for _, v := range vs {
			if err := e.Encode(v); err != nil {
				return nil, err
			}
		}
		return e.Bytes(), nil
	default:
		return nil, errors.Wrapf(amf.ErrUnsupportedVersion, "%d", version)
	}
}

// DecodeAll reads values until b is exhausted.
func DecodeAll(b []byte, version amf.Version, opts amf.DecodeOptions) ([]amf.Value, error) {
	switch version {
	case amf.Version0:
		return amf0.DecodeAll(b, opts)
	case amf.Version3:
		d := amf3.NewDecoder(b, opts)
		var vs []amf.Value
		for d.More() {
			v, err := d.Decode()
			if err != nil {
				return vs, err
			}
			vs = append(vs, v)
		}
		return vs, nil
	default:
		return nil, errors.Wrapf(amf.ErrUnsupportedVersion, "%d", version)
	}
}
