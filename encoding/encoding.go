// Package encoding implements the compact structured binary format used
// on the Bolt wire (PackStream), together with the length-prefixed chunk
// framing that carries each message.
//
// Values are marked with a type-tag byte followed by size and payload.
// Small integers, short strings and short collections encode inline in
// the marker byte itself.
package encoding

const (
	// NilMarker represents the encoding marker byte for a nil object
	NilMarker = 0xC0

	// TrueMarker represents the encoding marker byte for a true boolean object
	TrueMarker = 0xC3
	// FalseMarker represents the encoding marker byte for a false boolean object
	FalseMarker = 0xC2

	// Int8Marker represents the encoding marker byte for an int8 object
	Int8Marker = 0xC8
	// Int16Marker represents the encoding marker byte for an int16 object
	Int16Marker = 0xC9
	// Int32Marker represents the encoding marker byte for an int32 object
	Int32Marker = 0xCA
	// Int64Marker represents the encoding marker byte for an int64 object
	Int64Marker = 0xCB

	// FloatMarker represents the encoding marker byte for a float64 object
	FloatMarker = 0xC1

	// Bytes8Marker represents the encoding marker byte for a byte array object
	Bytes8Marker = 0xCC
	// Bytes16Marker represents the encoding marker byte for a byte array object
	Bytes16Marker = 0xCD
	// Bytes32Marker represents the encoding marker byte for a byte array object
	Bytes32Marker = 0xCE

	// TinyStringMarker represents the encoding marker byte for a string object
	TinyStringMarker = 0x80
	// String8Marker represents the encoding marker byte for a string object
	String8Marker = 0xD0
	// String16Marker represents the encoding marker byte for a string object
	String16Marker = 0xD1
	// String32Marker represents the encoding marker byte for a string object
	String32Marker = 0xD2

	// TinySliceMarker represents the encoding marker byte for a slice object
	TinySliceMarker = 0x90
	// Slice8Marker represents the encoding marker byte for a slice object
	Slice8Marker = 0xD4
	// Slice16Marker represents the encoding marker byte for a slice object
	Slice16Marker = 0xD5
	// Slice32Marker represents the encoding marker byte for a slice object
	Slice32Marker = 0xD6

	// TinyMapMarker represents the encoding marker byte for a map object
	TinyMapMarker = 0xA0
	// Map8Marker represents the encoding marker byte for a map object
	Map8Marker = 0xD8
	// Map16Marker represents the encoding marker byte for a map object
	Map16Marker = 0xD9
	// Map32Marker represents the encoding marker byte for a map object
	Map32Marker = 0xDA

	// TinyStructMarker represents the encoding marker byte for a struct object
	TinyStructMarker = 0xB0
	// Struct8Marker represents the encoding marker byte for a struct object
	Struct8Marker = 0xDC
	// Struct16Marker represents the encoding marker byte for a struct object
	Struct16Marker = 0xDD
)

// EndMessage is the zero-length chunk terminating every message.
var EndMessage = []byte{0x00, 0x00}

// DefaultChunkSize is the default maximum chunk payload written by the
// Encoder. Same as a golang bufio reader.
const DefaultChunkSize uint16 = 4096
