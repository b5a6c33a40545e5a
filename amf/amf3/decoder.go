package amf3

import (
	"encoding/binary"
	"math"

	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/internal/bits"
)

type traits struct {
	className string
	dynamic   bool
	sealed    []string
}

// Decoder reads AMF3 values from a byte slice. Like the Encoder, its reference tables span every value
// read through it.
type Decoder struct {
	b       []byte
	off     int
	opts    amf.DecodeOptions
	depth   int
	strings []string
	objects []amf.Value
	traits  []*traits
}

func NewDecoder(b []byte, opts amf.DecodeOptions) *Decoder {
	return &Decoder{b: b, opts: opts}
}

// Decode reads one value from b with fresh reference tables and reports how many bytes it used.
func Decode(b []byte, opts amf.DecodeOptions) (amf.Value, int, error) {
	d := NewDecoder(b, opts)
	v, err := d.Decode()
	if err != nil {
		return nil, d.off, err
	}
	return v, d.off, nil
}

// Offset is the number of bytes consumed so far.
func (d *Decoder) Offset() int {
	return d.off
}

// More reports whether unread bytes remain.
func (d *Decoder) More() bool {
	return d.off < len(d.b)
}

func (d *Decoder) remaining() int {
	return len(d.b) - d.off
}

func (d *Decoder) readByte() (byte, error) {
	if d.off >= len(d.b) {
		return 0, amf.DecodeErrorf(d.off, "unexpected end of input")
	}
	c := d.b[d.off]
	d.off++
	return c, nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, amf.DecodeErrorf(d.off, "length %d exceeds the %d bytes left", n, d.remaining())
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p, nil
}

func (d *Decoder) readU29() (uint32, error) {
	v, n, err := bits.ReadU29(d.b[d.off:])
	if err != nil {
		return 0, amf.DecodeErrorf(d.off, "truncated U29")
	}
	d.off += n
	return v, nil
}

func (d *Decoder) readDouble() (float64, error) {
	p, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

func (d *Decoder) readString() (string, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return "", err
	}
	if u&1 == 0 {
		idx := int(u >> 1)
		if idx >= len(d.strings) {
			return "", amf.DecodeErrorf(start, "string reference %d outside table of %d", idx, len(d.strings))
		}
		return d.strings[idx], nil
	}
	p, err := d.readN(int(u >> 1))
	if err != nil {
		return "", err
	}
	s := string(p)
	if s != "" {
		d.strings = append(d.strings, s)
	}
	return s, nil
}

func (d *Decoder) objectRef(start int, u uint32) (amf.Value, error) {
	idx := int(u >> 1)
	if idx >= len(d.objects) {
		return nil, amf.DecodeErrorf(start, "object reference %d outside table of %d", idx, len(d.objects))
	}
	return d.objects[idx], nil
}

// readInlineBytes reads the body shared by XML and ByteArray values: a reference or a length-prefixed run.
func (d *Decoder) readInlineBytes() ([]byte, amf.Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, nil, err
	}
	if u&1 == 0 {
		v, err := d.objectRef(start, u)
		return nil, v, err
	}
	p, err := d.readN(int(u >> 1))
	if err != nil {
		return nil, nil, err
	}
	return p, nil, nil
}

func (d *Decoder) Decode() (amf.Value, error) {
	start := d.off
	marker, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch marker {
	case MarkerUndefined:
		return amf.Undefined{}, nil
	case MarkerNull:
		return amf.Null{}, nil
	case MarkerFalse:
		return amf.Boolean(false), nil
	case MarkerTrue:
		return amf.Boolean(true), nil
	case MarkerInteger:
		u, err := d.readU29()
		if err != nil {
			return nil, err
		}
		return amf.Integer(bits.SignExtend29(u)), nil
	case MarkerDouble:
		f, err := d.readDouble()
		if err != nil {
			return nil, err
		}
		return amf.Number(f), nil
	case MarkerString:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		return amf.String(s), nil
	case MarkerXMLDocument, MarkerXML:
		p, ref, err := d.readInlineBytes()
		if err != nil || ref != nil {
			return ref, err
		}
		v := amf.XMLDocument(p)
		d.objects = append(d.objects, v)
		return v, nil
	case MarkerByteArray:
		p, ref, err := d.readInlineBytes()
		if err != nil || ref != nil {
			return ref, err
		}
		v := amf.ByteArray(append([]byte(nil), p...))
		d.objects = append(d.objects, v)
		return v, nil
	case MarkerDate:
		u, err := d.readU29()
		if err != nil {
			return nil, err
		}
		if u&1 == 0 {
			return d.objectRef(start+1, u)
		}
		ms, err := d.readDouble()
		if err != nil {
			return nil, err
		}
		v := amf.Date{Millis: ms}
		d.objects = append(d.objects, v)
		return v, nil
	case MarkerArray:
		return d.readArray()
	case MarkerObject:
		return d.readObject()
	case MarkerVectorInt, MarkerVectorUint, MarkerVectorDouble, MarkerVectorObject, MarkerDictionary:
		return nil, amf.DecodeErrorf(start, "unsupported marker 0x%02x", marker)
	default:
		return nil, amf.DecodeErrorf(start, "unknown marker 0x%02x", marker)
	}
}

func (d *Decoder) enter() error {
	d.depth++
	if d.depth > d.opts.Depth() {
		return amf.DecodeErrorf(d.off, "nesting deeper than %d", d.opts.Depth())
	}
	return nil
}

func (d *Decoder) leave() {
	d.depth--
}

func (d *Decoder) readArray() (amf.Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&1 == 0 {
		return d.objectRef(start, u)
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	// every element takes at least one byte
	count := int(u >> 1)
	if count > d.remaining() {
		return nil, amf.DecodeErrorf(start, "dense count %d exceeds the %d bytes left", count, d.remaining())
	}

	// An empty associative part starts with the empty string 0x01; the array is strict in that case.
	if d.off < len(d.b) && d.b[d.off] == 0x01 {
		d.off++
		arr := &amf.StrictArray{}
		if count > 0 {
			arr.Elements = make([]amf.Value, 0, count)
		}
		d.objects = append(d.objects, arr)
		for i := 0; i < count; i++ {
			v, err := d.Decode()
			if err != nil {
				return nil, err
			}
			arr.Elements = append(arr.Elements, v)
		}
		return arr, nil
	}

	arr := &amf.ECMAArray{}
	d.objects = append(d.objects, arr)
	for {
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		arr.Properties = append(arr.Properties, amf.Property{Name: key, Value: v})
	}
	if count > 0 {
		arr.Dense = make([]amf.Value, 0, count)
	}
	for i := 0; i < count; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		arr.Dense = append(arr.Dense, v)
	}
	return arr, nil
}

func (d *Decoder) readTraits(start int, u uint32) (*traits, error) {
	if u&flagInlineTraits == 0 {
		idx := int(u >> 2)
		if idx >= len(d.traits) {
			return nil, amf.DecodeErrorf(start, "traits reference %d outside table of %d", idx, len(d.traits))
		}
		return d.traits[idx], nil
	}

	className, err := d.readString()
	if err != nil {
		return nil, err
	}
	if !d.opts.AllowClass(className) {
		return nil, amf.ClassRejected(className, start)
	}
	if u&flagExternalizable != 0 {
		return nil, amf.DecodeErrorf(start, "externalizable class %q is not supported", className)
	}
	count := int(u >> 4)
	if count > d.remaining() {
		return nil, amf.DecodeErrorf(start, "sealed count %d exceeds the %d bytes left", count, d.remaining())
	}
	t := &traits{className: className, dynamic: u&flagDynamic != 0, sealed: make([]string, 0, count)}
	for i := 0; i < count; i++ {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		t.sealed = append(t.sealed, name)
	}
	d.traits = append(d.traits, t)
	return t, nil
}

func (d *Decoder) readObject() (amf.Value, error) {
	start := d.off
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&flagInline == 0 {
		return d.objectRef(start, u)
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	t, err := d.readTraits(start, u)
	if err != nil {
		return nil, err
	}
	// a traits reference still names a class; keep the policy authoritative
	if !d.opts.AllowClass(t.className) {
		return nil, amf.ClassRejected(t.className, start)
	}

	obj := &amf.Object{ClassName: t.className, Dynamic: t.dynamic}
	if t.dynamic {
		obj.Sealed = len(t.sealed)
	}
	if len(t.sealed) > 0 {
		obj.Properties = make([]amf.Property, 0, len(t.sealed))
	}
	d.objects = append(d.objects, obj)

	for _, name := range t.sealed {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		obj.Properties = append(obj.Properties, amf.Property{Name: name, Value: v})
	}
	if !t.dynamic {
		return obj, nil
	}
	for {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		if name == "" {
			return obj, nil
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		obj.Properties = append(obj.Properties, amf.Property{Name: name, Value: v})
	}
}
