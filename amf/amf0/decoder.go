package amf0

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/amf/amf3"
)

// Decoder reads AMF0 values from a byte slice.
type Decoder struct {
	b       []byte
	off     int
	opts    amf.DecodeOptions
	depth   int
	objects []amf.Value
}

func NewDecoder(b []byte, opts amf.DecodeOptions) *Decoder {
	return &Decoder{b: b, opts: opts}
}

// Decode reads one value from b and reports how many bytes it used.
func Decode(b []byte, opts amf.DecodeOptions) (amf.Value, int, error) {
	d := NewDecoder(b, opts)
	v, err := d.Decode()
	return v, d.off, err
}

// DecodeAll reads values until b is exhausted.
func DecodeAll(b []byte, opts amf.DecodeOptions) ([]amf.Value, error) {
	d := NewDecoder(b, opts)
	var vs []amf.Value
	for d.More() {
		v, err := d.Decode()
		if err != nil {
			return vs, err
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func (d *Decoder) Offset() int {
	return d.off
}

func (d *Decoder) More() bool {
	return d.off < len(d.b)
}

func (d *Decoder) remaining() int {
	return len(d.b) - d.off
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, amf.DecodeErrorf(d.off, "length %d exceeds the %d bytes left", n, d.remaining())
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p, nil
}

func (d *Decoder) readU16() (uint16, error) {
	p, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (d *Decoder) readU32() (uint32, error) {
	p, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (d *Decoder) readDouble() (float64, error) {
	p, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

func (d *Decoder) readShortString() (string, error) {
	n, err := d.readU16()
	if err != nil {
		return "", err
	}
	p, err := d.readN(int(n))
	return string(p), err
}

func (d *Decoder) readLongString() (string, error) {
	n, err := d.readU32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(d.remaining()) {
		return "", amf.DecodeErrorf(d.off, "length %d exceeds the %d bytes left", n, d.remaining())
	}
	p, err := d.readN(int(n))
	return string(p), err
}

func (d *Decoder) Decode() (amf.Value, error) {
	start := d.off
	p, err := d.readN(1)
	if err != nil {
		return nil, err
	}
	switch marker := p[0]; marker {
	case MarkerNumber:
		f, err := d.readDouble()
		if err != nil {
			return nil, err
		}
		return amf.Number(f), nil
	case MarkerBoolean:
		b, err := d.readN(1)
		if err != nil {
			return nil, err
		}
		return amf.Boolean(b[0] != 0), nil
	case MarkerString:
		s, err := d.readShortString()
		if err != nil {
			return nil, err
		}
		return amf.String(s), nil
	case MarkerLongString:
		s, err := d.readLongString()
		if err != nil {
			return nil, err
		}
		return amf.String(s), nil
	case MarkerXMLDocument:
		s, err := d.readLongString()
		if err != nil {
			return nil, err
		}
		return amf.XMLDocument(s), nil
	case MarkerNull:
		return amf.Null{}, nil
	case MarkerUndefined, MarkerUnsupported:
		return amf.Undefined{}, nil
	case MarkerDate:
		ms, err := d.readDouble()
		if err != nil {
			return nil, err
		}
		tz, err := d.readU16()
		if err != nil {
			return nil, err
		}
		return amf.Date{Millis: ms, TimeZone: int16(tz)}, nil
	case MarkerReference:
		idx, err := d.readU16()
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(d.objects) {
			return nil, amf.DecodeErrorf(start, "reference %d outside table of %d", idx, len(d.objects))
		}
		return d.objects[idx], nil
	case MarkerObject:
		return d.readObject("")
	case MarkerTypedObject:
		name, err := d.readShortString()
		if err != nil {
			return nil, err
		}
		// policy runs before the instance exists
		if !d.opts.AllowClass(name) {
			return nil, amf.ClassRejected(name, start)
		}
		return d.readObject(name)
	case MarkerECMAArray:
		return d.readECMAArray()
	case MarkerStrictArray:
		return d.readStrictArray()
	case MarkerAvmPlus:
		sub := amf3.NewDecoder(d.b[d.off:], d.opts)
		v, err := sub.Decode()
		if err != nil {
			return nil, err
		}
		d.off += sub.Offset()
		return v, nil
	case MarkerObjectEnd:
		return nil, amf.DecodeErrorf(start, "object end marker outside an object")
	default:
		return nil, amf.DecodeErrorf(start, "unsupported marker 0x%02x", marker)
	}
}

func (d *Decoder) enter() error {
	d.depth++
	if d.depth > d.opts.Depth() {
		return amf.DecodeErrorf(d.off, "nesting deeper than %d", d.opts.Depth())
	}
	return nil
}

// readProperties reads name/value pairs up to and including the 00 00 09 terminator.
func (d *Decoder) readProperties(props *[]amf.Property) error {
	for {
		if d.remaining() >= 3 && d.b[d.off] == 0 && d.b[d.off+1] == 0 && d.b[d.off+2] == MarkerObjectEnd {
			d.off += 3
			return nil
		}
		name, err := d.readShortString()
		if err != nil {
			return err
		}
		v, err := d.Decode()
		if err != nil {
			return err
		}
		*props = append(*props, amf.Property{Name: name, Value: v})
	}
}

func (d *Decoder) readObject(className string) (amf.Value, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	obj := &amf.Object{ClassName: className}
	d.objects = append(d.objects, obj)
	if err := d.readProperties(&obj.Properties); err != nil {
		return nil, err
	}
	return obj, nil
}

// readECMAArray ignores the associative count, which encoders commonly get wrong, and reads up to the
// terminator instead.
func (d *Decoder) readECMAArray() (amf.Value, error) {
	if _, err := d.readU32(); err != nil {
		return nil, err
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	arr := &amf.ECMAArray{}
	d.objects = append(d.objects, arr)
	if err := d.readProperties(&arr.Properties); err != nil {
		return nil, err
	}
	splitDense(arr)
	return arr, nil
}

// splitDense moves the leading keys "0", "1", ... into Dense, the form the encoder writes Dense from.
func splitDense(arr *amf.ECMAArray) {
	k := 0
	for k < len(arr.Properties) && arr.Properties[k].Name == strconv.Itoa(k) {
		k++
	}
	if k == 0 {
		return
	}
	arr.Dense = make([]amf.Value, k)
	for i := range arr.Dense {
		arr.Dense[i] = arr.Properties[i].Value
	}
	arr.Properties = append([]amf.Property(nil), arr.Properties[k:]...)
	if len(arr.Properties) == 0 {
		arr.Properties = nil
	}
}

func (d *Decoder) readStrictArray() (amf.Value, error) {
	start := d.off
	n, err := d.readU32()
	if err != nil {
		return nil, err
	}
	// every element takes at least one byte
	if uint64(n) > uint64(d.remaining()) {
		return nil, amf.DecodeErrorf(start, "array count %d exceeds the %d bytes left", n, d.remaining())
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	arr := &amf.StrictArray{}
	if n > 0 {
		arr.Elements = make([]amf.Value, 0, n)
	}
	d.objects = append(d.objects, arr)
	for i := uint32(0); i < n; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, v)
	}
	return arr, nil
}
