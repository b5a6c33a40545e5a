package amf0

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/amf/amf3"
)

// Encoder appends AMF0 values to a buffer. Its reference table spans every value written through it.
type Encoder struct {
	buf     []byte
	objects map[amf.Value]int
	count   int
}

func NewEncoder() *Encoder {
	return &Encoder{objects: make(map[amf.Value]int)}
}

// Encode returns the AMF0 form of v.
func Encode(v amf.Value) ([]byte, error) {
	e := NewEncoder()
	if err := e.Encode(v); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// EncodeAll writes vs back to back sharing one reference table, the layout of a command message body.
func EncodeAll(vs ...amf.Value) ([]byte, error) {
	e := NewEncoder()
	for _, v := range vs {
		if err := e.Encode(v); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

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
		b := byte(0)
		if x {
			b = 1
		}
		e.buf = append(e.buf, MarkerBoolean, b)
	case amf.Number:
		e.writeNumber(float64(x))
	case amf.Integer:
		e.writeNumber(float64(x))
	case amf.String:
		return e.writeString(string(x))
	case amf.Date:
		e.buf = append(e.buf, MarkerDate)
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(x.Millis))
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(x.TimeZone))
	case amf.XMLDocument:
		if uint64(len(x)) > math.MaxUint32 {
			return amf.EncodeErrorf("xml document of %d bytes is too long", len(x))
		}
		e.buf = append(e.buf, MarkerXMLDocument)
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(x)))
		e.buf = append(e.buf, x...)
	case amf.ByteArray:
		// AMF0 has no byte array; switch to AMF3 for this value.
		b, err := amf3.Encode(x)
		if err != nil {
			return err
		}
		e.buf = append(e.buf, MarkerAvmPlus)
		e.buf = append(e.buf, b...)
	case amf.Reference:
		if int(x) >= e.count {
			return amf.EncodeErrorf("reference %d outside object table of %d", x, e.count)
		}
		e.buf = append(e.buf, MarkerReference)
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(x))
	case *amf.Object:
		return e.writeObject(x)
	case *amf.ECMAArray:
		return e.writeECMAArray(x)
	case *amf.StrictArray:
		return e.writeStrictArray(x)
	default:
		return amf.EncodeErrorf("unsupported value %T", v)
	}
	return nil
}

func (e *Encoder) writeNumber(f float64) {
	e.buf = append(e.buf, MarkerNumber)
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(f))
}

func (e *Encoder) writeString(s string) error {
	if len(s) <= maxShortString {
		e.buf = append(e.buf, MarkerString)
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
		e.buf = append(e.buf, s...)
		return nil
	}
	if uint64(len(s)) > math.MaxUint32 {
		return amf.EncodeErrorf("string of %d bytes is too long", len(s))
	}
	e.buf = append(e.buf, MarkerLongString)
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

// writeKey writes a property name: a short string without its marker.
func (e *Encoder) writeKey(k string) error {
	if len(k) > maxShortString {
		return amf.EncodeErrorf("property name of %d bytes is too long", len(k))
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(k)))
	e.buf = append(e.buf, k...)
	return nil
}

// reference writes a reference marker for a complex value seen before and reports whether it did. New
// values get the next index.
func (e *Encoder) reference(v amf.Value) (bool, error) {
	if idx, ok := e.objects[v]; ok {
		if idx > math.MaxUint16 {
			return false, amf.EncodeErrorf("reference %d does not fit 16 bits", idx)
		}
		e.buf = append(e.buf, MarkerReference)
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(idx))
		return true, nil
	}
	e.objects[v] = e.count
	e.count++
	return false, nil
}

func (e *Encoder) writeProperties(props []amf.Property) error {
	for _, p := range props {
		if err := e.writeKey(p.Name); err != nil {
			return err
		}
		if err := e.Encode(p.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, 0x00, 0x00, MarkerObjectEnd)
	return nil
}

func (e *Encoder) writeObject(o *amf.Object) error {
	if done, err := e.reference(o); done || err != nil {
		return err
	}
	if o.ClassName == "" {
		e.buf = append(e.buf, MarkerObject)
	} else {
		e.buf = append(e.buf, MarkerTypedObject)
		if err := e.writeKey(o.ClassName); err != nil {
			return err
		}
	}
	return e.writeProperties(o.Properties)
}

func (e *Encoder) writeECMAArray(a *amf.ECMAArray) error {
	if done, err := e.reference(a); done || err != nil {
		return err
	}
	e.buf = append(e.buf, MarkerECMAArray)
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(a.Dense)+len(a.Properties)))
	for i, v := range a.Dense {
		if err := e.writeKey(strconv.Itoa(i)); err != nil {
			return err
		}
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return e.writeProperties(a.Properties)
}

func (e *Encoder) writeStrictArray(a *amf.StrictArray) error {
	if done, err := e.reference(a); done || err != nil {
		return err
	}
	if uint64(len(a.Elements)) > math.MaxUint32 {
		return amf.EncodeErrorf("array of %d elements is too long", len(a.Elements))
	}
	e.buf = append(e.buf, MarkerStrictArray)
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(a.Elements)))
	for _, v := range a.Elements {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return nil
}
