// Package amf3 implements the AMF3 encoding: U29 integers and separate reference tables for strings,
// traits and complex values.
package amf3

const (
	MarkerUndefined    byte = 0x00
	MarkerNull         byte = 0x01
	MarkerFalse        byte = 0x02
	MarkerTrue         byte = 0x03
	MarkerInteger      byte = 0x04
	MarkerDouble       byte = 0x05
	MarkerString       byte = 0x06
	MarkerXMLDocument  byte = 0x07
	MarkerDate         byte = 0x08
	MarkerArray        byte = 0x09
	MarkerObject       byte = 0x0A
	MarkerXML          byte = 0x0B
	MarkerByteArray    byte = 0x0C
	MarkerVectorInt    byte = 0x0D
	MarkerVectorUint   byte = 0x0E
	MarkerVectorDouble byte = 0x0F
	MarkerVectorObject byte = 0x10
	MarkerDictionary   byte = 0x11
)

// Range of the AMF3 integer type. Integers outside it are encoded as doubles.
const (
	MaxInt = 1<<28 - 1
	MinInt = -1 << 28
)

// Longest string or byte array whose length fits the U29 length header.
const maxLength = 1<<28 - 1

// Trait flags in the low bits of an inline object header.
const (
	flagInline         = 0x01
	flagInlineTraits   = 0x02
	flagExternalizable = 0x04
	flagDynamic        = 0x08
)
