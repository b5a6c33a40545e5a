// Package amf0 implements the AMF0 encoding. Objects, typed objects and arrays share one flat reference
// table; marker 0x11 switches a single value to AMF3.
package amf0

const (
	MarkerNumber      byte = 0x00
	MarkerBoolean     byte = 0x01
	MarkerString      byte = 0x02
	MarkerObject      byte = 0x03
	MarkerMovieClip   byte = 0x04 // reserved, not supported
	MarkerNull        byte = 0x05
	MarkerUndefined   byte = 0x06
	MarkerReference   byte = 0x07
	MarkerECMAArray   byte = 0x08
	MarkerObjectEnd   byte = 0x09
	MarkerStrictArray byte = 0x0A
	MarkerDate        byte = 0x0B
	MarkerLongString  byte = 0x0C
	MarkerUnsupported byte = 0x0D
	MarkerRecordSet   byte = 0x0E // reserved, not supported
	MarkerXMLDocument byte = 0x0F
	MarkerTypedObject byte = 0x10
	MarkerAvmPlus     byte = 0x11
)

const maxShortString = 0xFFFF
