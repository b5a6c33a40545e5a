// Package amf defines the Action Message Format value model shared by the AMF0 and AMF3 codecs.
//
// Values form a closed set: Null, Undefined, Boolean, Number, Integer, String, Date, XMLDocument,
// *StrictArray, *ECMAArray, *Object, ByteArray and Reference. Arrays and objects are pointers so that
// shared or cyclic graphs keep their identity through an encode/decode round trip.
package amf

// Version selects the wire encoding.
type Version uint8

const (
	Version0 Version = 0
	Version3 Version = 3
)

// Type identifies the concrete kind of a Value.
type Type uint8

const (
	TypeNull Type = iota
	TypeUndefined
	TypeBoolean
	TypeNumber
	TypeInteger
	TypeString
	TypeDate
	TypeXMLDocument
	TypeStrictArray
	TypeECMAArray
	TypeObject
	TypeByteArray
	TypeReference
)

var typeNames = [...]string{
	TypeNull:        "null",
	TypeUndefined:   "undefined",
	TypeBoolean:     "boolean",
	TypeNumber:      "number",
	TypeInteger:     "integer",
	TypeString:      "string",
	TypeDate:        "date",
	TypeXMLDocument: "xml-document",
	TypeStrictArray: "strict-array",
	TypeECMAArray:   "ecma-array",
	TypeObject:      "object",
	TypeByteArray:   "byte-array",
	TypeReference:   "reference",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Value is implemented only by the types of this package.
type Value interface {
	Type() Type
	isValue()
}

type (
	Null      struct{}
	Undefined struct{}
	Boolean   bool
	// Number is always an IEEE-754 double on the wire.
	Number float64
	// Integer is the AMF3 29-bit signed integer. Values outside its range are written as Number.
	Integer int32
	String  string
	// XMLDocument carries the document text unparsed.
	XMLDocument string
	ByteArray   []byte
	// Reference is an explicit index into the object reference table of the current encode/decode call.
	// Decoders resolve references to the referenced value, so decoded trees never contain one.
	Reference uint16
)

// Date is milliseconds since the Unix epoch plus the (deprecated) timezone offset in minutes.
type Date struct {
	Millis   float64
	TimeZone int16
}

// StrictArray is a dense, ordered sequence of values.
type StrictArray struct {
	Elements []Value
}

// ECMAArray is an associative array. Dense holds the ordinal part of an AMF3 array; AMF0 encodes it as
// numeric string keys ahead of Properties.
type ECMAArray struct {
	Dense      []Value
	Properties []Property
}

// Property is one named field of an Object or ECMAArray.
type Property struct {
	Name  string
	Value Value
}

func (Null) Type() Type         { return TypeNull }
func (Undefined) Type() Type    { return TypeUndefined }
func (Boolean) Type() Type      { return TypeBoolean }
func (Number) Type() Type       { return TypeNumber }
func (Integer) Type() Type      { return TypeInteger }
func (String) Type() Type       { return TypeString }
func (Date) Type() Type         { return TypeDate }
func (XMLDocument) Type() Type  { return TypeXMLDocument }
func (*StrictArray) Type() Type { return TypeStrictArray }
func (*ECMAArray) Type() Type   { return TypeECMAArray }
func (*Object) Type() Type      { return TypeObject }
func (ByteArray) Type() Type    { return TypeByteArray }
func (Reference) Type() Type    { return TypeReference }

func (Null) isValue()         {}
func (Undefined) isValue()    {}
func (Boolean) isValue()      {}
func (Number) isValue()       {}
func (Integer) isValue()      {}
func (String) isValue()       {}
func (Date) isValue()         {}
func (XMLDocument) isValue()  {}
func (*StrictArray) isValue() {}
func (*ECMAArray) isValue()   {}
func (*Object) isValue()      {}
func (ByteArray) isValue()    {}
func (Reference) isValue()    {}

// Get returns the value stored under name.
func (a *ECMAArray) Get(name string) (Value, bool) {
	return lookup(a.Properties, name)
}

// Set replaces the value stored under name or appends a new property.
func (a *ECMAArray) Set(name string, v Value) {
	a.Properties = store(a.Properties, name, v)
}

func lookup(props []Property, name string) (Value, bool) {
	for _, p := range props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func store(props []Property, name string, v Value) []Property {
	for i := range props {
		if props[i].Name == name {
			props[i].Value = v
			return props
		}
	}
	return append(props, Property{Name: name, Value: v})
}
