package amf3

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/internal/bits"
)

// Encoder writes AMF3 values into an internal buffer. Reference tables live as long as the Encoder, so
// values written by successive calls to Encode share them.
type Encoder struct {
	buf         []byte
	strings     map[string]int
	objects     map[amf.Value]int
	objectCount int
	traits      map[string]int
}

func NewEncoder() *Encoder {
	return &Encoder{
		strings: make(map[string]int),
		objects: make(map[amf.Value]int),
		traits:  make(map[string]int),
	}
}

// Encode returns the AMF3 form of v using fresh reference tables.
func Encode(v amf.Value) ([]byte, error) {
	e := NewEncoder()
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Bytes returns everything encoded so far.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Encode(v amf.Value) error {
	switch x := v.(type) {
	case nil, amf.Null:
		e.buf = append(e.buf, MarkerNull)
	case amf.Undefined:
		e.buf = append(e.buf, MarkerUndefined)
	case amf.Boolean:
		if x {
			e.buf = append(e.buf, MarkerTrue)
		} else {
			e.buf = append(e.buf, MarkerFalse)
		}
	case amf.Integer:
		if x < MinInt || x > MaxInt {
			e.writeDouble(float64(x))
			return nil
		}
		e.buf = append(e.buf, MarkerInteger)
		return e.writeU29(uint32(x) & bits.MaxU29)
	case amf.Number:
		e.writeDouble(float64(x))
	case amf.String:
		e.buf = append(e.buf, MarkerString)
		return e.writeString(string(x))
	case amf.XMLDocument:
		e.buf = append(e.buf, MarkerXMLDocument)
		e.objectCount++
		return e.writeBytes([]byte(x))
	case amf.Date:
		e.buf = append(e.buf, MarkerDate, 0x01)
		e.objectCount++
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(x.Millis))
	case amf.ByteArray:
		e.buf = append(e.buf, MarkerByteArray)
		e.objectCount++
		return e.writeBytes(x)
	case amf.Reference:
		if int(x) >= e.objectCount {
			return amf.EncodeErrorf("reference %d outside object table of %d", x, e.objectCount)
		}
		e.buf = append(e.buf, MarkerObject)
		return e.writeU29(uint32(x) << 1)
	case *amf.StrictArray:
		return e.writeArray(x, x.Elements, nil)
	case *amf.ECMAArray:
		return e.writeArray(x, x.Dense, x.Properties)
	case *amf.Object:
		return e.writeObject(x)
	default:
		return amf.EncodeErrorf("unsupported value %T", v)
	}
	return nil
}

func (e *Encoder) writeU29(v uint32) error {
	b, err := bits.AppendU29(e.buf, v)
	if err != nil {
		return amf.EncodeErrorf("%v", err)
	}
	e.buf = b
	return nil
}

func (e *Encoder) writeDouble(f float64) {
	e.buf = append(e.buf, MarkerDouble)
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(f))
}

// writeString writes a string body, referencing an earlier occurrence when possible. The empty string is
// never added to the table.
func (e *Encoder) writeString(s string) error {
	if s == "" {
		e.buf = append(e.buf, 0x01)
		return nil
	}
	if idx, ok := e.strings[s]; ok {
		return e.writeU29(uint32(idx) << 1)
	}
	if len(s) > maxLength {
		return amf.EncodeErrorf("string of %d bytes is too long", len(s))
	}
	e.strings[s] = len(e.strings)
	if err := e.writeU29(uint32(len(s))<<1 | 1); err != nil {
		return err
	}
	e.buf = append(e.buf, s...)
	return nil
}

func (e *Encoder) writeBytes(b []byte) error {
	if len(b) > maxLength {
		return amf.EncodeErrorf("%d bytes is too long", len(b))
	}
	if err := e.writeU29(uint32(len(b))<<1 | 1); err != nil {
		return err
	}
	e.buf = append(e.buf, b...)
	return nil
}

// reference writes a back-reference when v has been written before and reports whether it did.
// Otherwise v is assigned the next object index.
func (e *Encoder) reference(v amf.Value) (bool, error) {
	if idx, ok := e.objects[v]; ok {
		return true, e.writeU29(uint32(idx) << 1)
	}
	e.objects[v] = e.objectCount
	e.objectCount++
	return false, nil
}

func (e *Encoder) writeArray(v amf.Value, dense []amf.Value, assoc []amf.Property) error {
	e.buf = append(e.buf, MarkerArray)
	if done, err := e.reference(v); done || err != nil {
		return err
	}
	if len(dense) > maxLength {
		return amf.EncodeErrorf("array of %d elements is too long", len(dense))
	}
	if err := e.writeU29(uint32(len(dense))<<1 | 1); err != nil {
		return err
	}
	for _, p := range assoc {
		if p.Name == "" {
			return amf.EncodeErrorf("associative array key must not be empty")
		}
		if err := e.writeString(p.Name); err != nil {
			return err
		}
		if err := e.Encode(p.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, 0x01)
	for _, el := range dense {
		if err := e.Encode(el); err != nil {
			return err
		}
	}
	return nil
}

func traitsKey(o *amf.Object, sealed int) string {
	var sb strings.Builder
	sb.WriteString(o.ClassName)
	if o.Dynamic {
		sb.WriteString("\x00d")
	} else {
		sb.WriteString("\x00s")
	}
	for _, p := range o.Properties[:sealed] {
		sb.WriteByte(0)
		sb.WriteString(p.Name)
	}
	return sb.String()
}

func (e *Encoder) writeObject(o *amf.Object) error {
	e.buf = append(e.buf, MarkerObject)
	if done, err := e.reference(o); done || err != nil {
		return err
	}

	sealed := o.SealedCount()
	key := traitsKey(o, sealed)
	if idx, ok := e.traits[key]; ok {
		// traits reference: xx01
		if err := e.writeU29(uint32(idx)<<2 | flagInline); err != nil {
			return err
		}
	} else {
		if sealed > bits.MaxU29>>4 {
			return amf.EncodeErrorf("object with %d sealed members", sealed)
		}
		e.traits[key] = len(e.traits)
		header := uint32(sealed)<<4 | flagInlineTraits | flagInline
		if o.Dynamic {
			header |= flagDynamic
		}
		if err := e.writeU29(header); err != nil {
			return err
		}
		if err := e.writeString(o.ClassName); err != nil {
			return err
		}
		for _, p := range o.Properties[:sealed] {
			if err := e.writeString(p.Name); err != nil {
				return err
			}
		}
	}

	for _, p := range o.Properties[:sealed] {
		if err := e.Encode(p.Value); err != nil {
			return err
		}
	}
	if !o.Dynamic {
		return nil
	}
	for _, p := range o.Properties[sealed:] {
		if p.Name == "" {
			return amf.EncodeErrorf("dynamic member name must not be empty")
		}
		if err := e.writeString(p.Name); err != nil {
			return err
		}
		if err := e.Encode(p.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, 0x01)
	return nil
}
