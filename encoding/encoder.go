package encoding

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/structures"
)

// Encoder encodes values to the given stream, one message at a time.
// Encoding is deterministic and total over the supported types: nil,
// bool, all integer kinds (within signed 64-bit range), float32/64,
// string, []byte, []interface{}, map[string]interface{} and
// structures.Structure. Anything else fails with an EncodingError.
//
// The encoded message is split into chunks of at most the configured
// size, each prefixed with a 2-byte big-endian length, and terminated
// with a zero-length chunk.
type Encoder struct {
	w    io.Writer
	buf  []byte
	n    int
	size int
}

// NewEncoder initializes a new Encoder with the provided chunk size.
func NewEncoder(w io.Writer, size uint16) *Encoder {
	return &Encoder{w: w, buf: make([]byte, size), size: int(size)}
}

// Marshal encodes a single value into chunked message bytes.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	err := NewEncoder(&b, math.MaxUint16).Encode(v)
	return b.Bytes(), err
}

// Write writes to the writer. Writes are not necessarily written to the
// underlying Writer until Flush is called.
func (e *Encoder) Write(p []byte) (n int, err error) {
	var m int
	for n < len(p) {
		m = copy(e.buf[e.n:], p[n:])
		e.n += m
		n += m
		if e.n == e.size {
			err = e.writeChunk()
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (e *Encoder) writeMarker(marker uint8) error {
	e.buf[e.n] = marker
	e.n++
	if e.n == e.size {
		return e.writeChunk()
	}
	return nil
}

func (e *Encoder) write(v interface{}) error {
	return binary.Write(e, binary.BigEndian, v)
}

// Flush writes out the remaining partial chunk followed by the message
// terminator.
func (e *Encoder) Flush() error {
	err := e.writeChunk()
	if err != nil {
		return err
	}
	_, err = e.w.Write(EndMessage)
	return err
}

func (e *Encoder) writeChunk() error {
	if e.n == 0 {
		return nil
	}
	err := binary.Write(e.w, binary.BigEndian, uint16(e.n))
	if err != nil {
		return err
	}
	_, err = e.w.Write(e.buf[:e.n])
	e.n = 0
	return err
}

// Encode encodes an object to the stream as one complete message.
func (e *Encoder) Encode(val interface{}) error {
	err := e.encode(val)
	if err != nil {
		return err
	}
	// Whatever is left in the buffer for the chunk at the end, write it out
	return e.Flush()
}

func (e *Encoder) encode(val interface{}) error {
	switch val := val.(type) {
	case nil:
		return e.encodeNil()
	case bool:
		return e.encodeBool(val)
	case int:
		return e.encodeInt(int64(val))
	case int8:
		return e.encodeInt(int64(val))
	case int16:
		return e.encodeInt(int64(val))
	case int32:
		return e.encodeInt(int64(val))
	case int64:
		return e.encodeInt(val)
	case uint:
		if uint64(val) > math.MaxInt64 {
			return errors.New(errors.EncodingError, "integer too big: %d, max integer supported: %d", val, int64(math.MaxInt64))
		}
		return e.encodeInt(int64(val))
	case uint8:
		return e.encodeInt(int64(val))
	case uint16:
		return e.encodeInt(int64(val))
	case uint32:
		return e.encodeInt(int64(val))
	case uint64:
		if val > math.MaxInt64 {
			return errors.New(errors.EncodingError, "integer too big: %d, max integer supported: %d", val, int64(math.MaxInt64))
		}
		return e.encodeInt(int64(val))
	case float32:
		return e.encodeFloat(float64(val))
	case float64:
		return e.encodeFloat(val)
	case string:
		return e.encodeString(val)
	case []byte:
		return e.encodeBytes(val)
	case []interface{}:
		return e.encodeSlice(val)
	case []string:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = item
		}
		return e.encodeSlice(items)
	case map[string]interface{}:
		return e.encodeMap(val)
	case structures.Structure:
		return e.encodeStructure(val)
	default:
		return errors.New(errors.EncodingError, "unrecognized type when encoding data for Bolt transport: %T %+v", val, val)
	}
}

func (e *Encoder) encodeNil() error {
	return e.writeMarker(NilMarker)
}

func (e *Encoder) encodeBool(val bool) error {
	if val {
		return e.writeMarker(TrueMarker)
	}
	return e.writeMarker(FalseMarker)
}

func (e *Encoder) encodeInt(val int64) (err error) {
	switch {
	case val >= -16 && val <= math.MaxInt8:
		// Write as TINY_INT
		return e.write(int8(val))
	case val >= math.MinInt8 && val < -16:
		// Write as INT_8
		if err = e.writeMarker(Int8Marker); err != nil {
			return err
		}
		return e.write(int8(val))
	case val >= math.MinInt16 && val <= math.MaxInt16:
		// Write as INT_16
		if err = e.writeMarker(Int16Marker); err != nil {
			return err
		}
		return e.write(int16(val))
	case val >= math.MinInt32 && val <= math.MaxInt32:
		// Write as INT_32
		if err = e.writeMarker(Int32Marker); err != nil {
			return err
		}
		return e.write(int32(val))
	default:
		// Write as INT_64
		if err = e.writeMarker(Int64Marker); err != nil {
			return err
		}
		return e.write(val)
	}
}

func (e *Encoder) encodeFloat(val float64) error {
	if err := e.writeMarker(FloatMarker); err != nil {
		return err
	}
	return e.write(val)
}

func (e *Encoder) encodeString(val string) (err error) {
	b := []byte(val)

	length := len(b)
	switch {
	case length <= 15:
		if err = e.writeMarker(byte(TinyStringMarker + length)); err != nil {
			return err
		}
		_, err = e.Write(b)
	case length <= math.MaxUint8:
		if err = e.writeMarker(String8Marker); err != nil {
			return err
		}
		if err = e.write(uint8(length)); err != nil {
			return err
		}
		_, err = e.Write(b)
	case length <= math.MaxUint16:
		if err = e.writeMarker(String16Marker); err != nil {
			return err
		}
		if err = e.write(uint16(length)); err != nil {
			return err
		}
		_, err = e.Write(b)
	case length <= math.MaxUint32:
		if err = e.writeMarker(String32Marker); err != nil {
			return err
		}
		if err = e.write(uint32(length)); err != nil {
			return err
		}
		_, err = e.Write(b)
	default:
		return errors.New(errors.EncodingError, "string too long to write: %d bytes", length)
	}
	return err
}

func (e *Encoder) encodeBytes(val []byte) (err error) {
	length := len(val)
	switch {
	case length <= math.MaxUint8:
		if err = e.writeMarker(Bytes8Marker); err != nil {
			return err
		}
		if err = e.write(uint8(length)); err != nil {
			return err
		}
	case length <= math.MaxUint16:
		if err = e.writeMarker(Bytes16Marker); err != nil {
			return err
		}
		if err = e.write(uint16(length)); err != nil {
			return err
		}
	case length <= math.MaxUint32:
		if err = e.writeMarker(Bytes32Marker); err != nil {
			return err
		}
		if err = e.write(uint32(length)); err != nil {
			return err
		}
	default:
		return errors.New(errors.EncodingError, "byte array too long to write: %d bytes", length)
	}
	_, err = e.Write(val)
	return err
}

func (e *Encoder) encodeSlice(val []interface{}) error {
	length := len(val)
	switch {
	case length <= 15:
		if err := e.writeMarker(byte(TinySliceMarker + length)); err != nil {
			return err
		}
	case length <= math.MaxUint8:
		if err := e.writeMarker(Slice8Marker); err != nil {
			return err
		}
		if err := e.write(uint8(length)); err != nil {
			return err
		}
	case length <= math.MaxUint16:
		if err := e.writeMarker(Slice16Marker); err != nil {
			return err
		}
		if err := e.write(uint16(length)); err != nil {
			return err
		}
	case length <= math.MaxUint32:
		if err := e.writeMarker(Slice32Marker); err != nil {
			return err
		}
		if err := e.write(uint32(length)); err != nil {
			return err
		}
	default:
		return errors.New(errors.EncodingError, "slice too long to write: %d items", length)
	}

	// Encode Slice values
	for _, item := range val {
		if err := e.encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeMap(val map[string]interface{}) error {
	length := len(val)
	switch {
	case length <= 15:
		if err := e.writeMarker(byte(TinyMapMarker + length)); err != nil {
			return err
		}
	case length <= math.MaxUint8:
		if err := e.writeMarker(Map8Marker); err != nil {
			return err
		}
		if err := e.write(uint8(length)); err != nil {
			return err
		}
	case length <= math.MaxUint16:
		if err := e.writeMarker(Map16Marker); err != nil {
			return err
		}
		if err := e.write(uint16(length)); err != nil {
			return err
		}
	case length <= math.MaxUint32:
		if err := e.writeMarker(Map32Marker); err != nil {
			return err
		}
		if err := e.write(uint32(length)); err != nil {
			return err
		}
	default:
		return errors.New(errors.EncodingError, "map too long to write: %d entries", length)
	}

	// Encode Map values
	for k, v := range val {
		if err := e.encodeString(k); err != nil {
			return err
		}
		if err := e.encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeStructure(val structures.Structure) error {
	fields := val.AllFields()
	length := len(fields)
	switch {
	case length <= 15:
		if err := e.writeMarker(byte(TinyStructMarker + length)); err != nil {
			return err
		}
	case length <= math.MaxUint8:
		if err := e.writeMarker(Struct8Marker); err != nil {
			return err
		}
		if err := e.write(uint8(length)); err != nil {
			return err
		}
	case length <= math.MaxUint16:
		if err := e.writeMarker(Struct16Marker); err != nil {
			return err
		}
		if err := e.write(uint16(length)); err != nil {
			return err
		}
	default:
		return errors.New(errors.EncodingError, "structure too long to write: %d fields", length)
	}

	if err := e.writeMarker(byte(val.Signature())); err != nil {
		return errors.Wrap(err, errors.EncodingError, "an error occurred writing a structure signature")
	}

	for _, field := range fields {
		if err := e.encode(field); err != nil {
			return errors.Wrap(err, "", "an error occurred encoding a structure field")
		}
	}
	return nil
}
