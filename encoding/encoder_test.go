package encoding

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/graphshed/gobolt/errors"
)

const (
	maxBufSize = math.MaxUint16
)

func createNewTestEncoder() (*Encoder, io.Reader) {
	buf := bytes.NewBuffer([]byte{})
	return NewEncoder(buf, maxBufSize), buf
}

func TestEncodeNil(t *testing.T) {
	encoder, buf := createNewTestEncoder()

	err := encoder.Encode(nil)

	if err != nil {
		t.Fatalf("Error while encoding: %v", err)
	}

	output := make([]byte, maxBufSize)
	outputCount, err := buf.Read(output)

	if err != nil {
		t.Fatalf("Error while reading output: %v", err)
	}

	expectedBuf := bytes.NewBuffer([]byte{})
	expected := make([]byte, maxBufSize)

	binary.Write(expectedBuf, binary.BigEndian, uint16(1))
	expectedBuf.Write([]byte{NilMarker})
	expectedBuf.Write(EndMessage)

	expectedCount, _ := expectedBuf.Read(expected)

	if !reflect.DeepEqual(output[:outputCount], expected[:expectedCount]) {
		t.Fatalf("Unexpected Nil encoding. Expected %v. Got %v", expected[:expectedCount], output[:outputCount])
	}
}

func TestEncodeBool(t *testing.T) {
	expected := func(val bool) []byte {
		expectedBuf := bytes.NewBuffer([]byte{})
		expected := make([]byte, maxBufSize)

		binary.Write(expectedBuf, binary.BigEndian, uint16(1))

		var marker byte

		if val {
			marker = TrueMarker
		} else {
			marker = FalseMarker
		}

		expectedBuf.Write([]byte{marker})
		expectedBuf.Write(EndMessage)

		expectedCount, _ := expectedBuf.Read(expected)

		return expected[:expectedCount]
	}

	result := func(val bool) []byte {
		encoder, buf := createNewTestEncoder()

		err := encoder.Encode(val)

		if err != nil {
			t.Fatalf("Error while encoding: %v", err)
		}

		output := make([]byte, maxBufSize)
		outputCount, err := buf.Read(output)

		if err != nil {
			t.Fatalf("Error while reading output: %v", err)
		}

		return output[:outputCount]
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func generateIntExpectedBuf(val int64) ([]byte, error) {
	expectedBuf := bytes.NewBuffer([]byte{})
	expected := make([]byte, maxBufSize)

	switch {
	case val >= -16 && val <= math.MaxInt8:
		binary.Write(expectedBuf, binary.BigEndian, uint16(1))
		binary.Write(expectedBuf, binary.BigEndian, int8(val))
	case val >= math.MinInt8 && val < -16:
		binary.Write(expectedBuf, binary.BigEndian, uint16(2))
		expectedBuf.Write([]byte{Int8Marker})
		binary.Write(expectedBuf, binary.BigEndian, int8(val))
	case val >= math.MinInt16 && val <= math.MaxInt16:
		binary.Write(expectedBuf, binary.BigEndian, uint16(3))
		expectedBuf.Write([]byte{Int16Marker})
		binary.Write(expectedBuf, binary.BigEndian, int16(val))
	case val >= math.MinInt32 && val <= math.MaxInt32:
		binary.Write(expectedBuf, binary.BigEndian, uint16(5))
		expectedBuf.Write([]byte{Int32Marker})
		binary.Write(expectedBuf, binary.BigEndian, int32(val))
	default:
		binary.Write(expectedBuf, binary.BigEndian, uint16(9))
		expectedBuf.Write([]byte{Int64Marker})
		binary.Write(expectedBuf, binary.BigEndian, int64(val))
	}
	expectedBuf.Write(EndMessage)

	expectedCount, _ := expectedBuf.Read(expected)

	return expected[:expectedCount], nil
}

func generateIntResultBuf(val interface{}) ([]byte, error) {
	encoder, buf := createNewTestEncoder()
	err := encoder.Encode(val)

	if err != nil {
		return nil, errors.Wrap(err, errors.EncodingError, "Error while encoding")
	}

	output := make([]byte, maxBufSize)
	outputCount, err := buf.Read(output)

	if err != nil {
		return nil, errors.Wrap(err, errors.EncodingError, "Error while reading output")
	}

	return output[:outputCount], nil
}

func TestEncodeInt(t *testing.T) {
	expected := func(val int) []byte {
		output, err := generateIntExpectedBuf(int64(val))

		if err != nil {
			t.Fatal(err)
		}

		return output
	}
	result := func(val int) []byte {
		output, err := generateIntResultBuf(val)

		if err != nil {
			t.Fatal(err)
		}

		return output
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeInt16(t *testing.T) {
	expected := func(val int16) []byte {
		output, err := generateIntExpectedBuf(int64(val))

		if err != nil {
			t.Fatal(err)
		}

		return output
	}
	result := func(val int16) []byte {
		output, err := generateIntResultBuf(val)

		if err != nil {
			t.Fatal(err)
		}

		return output
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeInt64(t *testing.T) {
	expected := func(val int64) []byte {
		output, err := generateIntExpectedBuf(val)

		if err != nil {
			t.Fatal(err)
		}

		return output
	}
	result := func(val int64) []byte {
		output, err := generateIntResultBuf(val)

		if err != nil {
			t.Fatal(err)
		}

		return output
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeUint64TooBig(t *testing.T) {
	encoder, _ := createNewTestEncoder()

	err := encoder.Encode(uint64(math.MaxUint64))
	if err == nil {
		t.Fatal("Expected an error encoding a uint64 above the int64 range")
	}
	if errors.CodeOf(err) != errors.EncodingError {
		t.Fatalf("Expected an EncodingError, got: %v", err)
	}
}

func TestEncodeFloat64(t *testing.T) {
	expected := func(val float64) []byte {
		expectedBuf := bytes.NewBuffer([]byte{})
		expected := make([]byte, maxBufSize)

		binary.Write(expectedBuf, binary.BigEndian, uint16(9))
		expectedBuf.Write([]byte{FloatMarker})
		binary.Write(expectedBuf, binary.BigEndian, float64(val))
		expectedBuf.Write(EndMessage)

		expectedCount, _ := expectedBuf.Read(expected)

		return expected[:expectedCount]
	}
	result := func(val float64) []byte {
		encoder, buf := createNewTestEncoder()
		err := encoder.Encode(val)

		if err != nil {
			t.Fatalf("Error while encoding: %v", err)
		}

		output := make([]byte, maxBufSize)
		outputCount, err := buf.Read(output)

		if err != nil {
			t.Fatalf("Error while reading output: %v", err)
		}

		return output[:outputCount]
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeString(t *testing.T) {
	expected := func(val string) []byte {
		expectedBuf := bytes.NewBuffer([]byte{})
		resultExpectedBuf := bytes.NewBuffer([]byte{})
		expected := make([]byte, maxBufSize)

		b := []byte(val)

		length := len(b)

		switch {
		case length <= 15:
			expectedBuf.Write([]byte{byte(TinyStringMarker + length)})
			expectedBuf.Write(b)
		case length <= math.MaxUint8:
			expectedBuf.Write([]byte{String8Marker})
			binary.Write(expectedBuf, binary.BigEndian, uint8(length))
			expectedBuf.Write(b)
		case length <= math.MaxUint16:
			expectedBuf.Write([]byte{String16Marker})
			binary.Write(expectedBuf, binary.BigEndian, uint16(length))
			expectedBuf.Write(b)
		default:
			expectedBuf.Write([]byte{String32Marker})
			binary.Write(expectedBuf, binary.BigEndian, uint32(length))
			expectedBuf.Write(b)
		}

		binary.Write(resultExpectedBuf, binary.BigEndian, uint16(expectedBuf.Len()))
		resultExpectedBuf.ReadFrom(expectedBuf)
		resultExpectedBuf.Write(EndMessage)

		expectedCount, _ := resultExpectedBuf.Read(expected)

		return expected[:expectedCount]
	}

	result := func(val string) []byte {
		encoder, buf := createNewTestEncoder()
		err := encoder.Encode(val)

		if err != nil {
			t.Fatalf("Error while encoding: %v", err)
		}

		output := make([]byte, maxBufSize)
		outputCount, err := buf.Read(output)

		if err != nil {
			t.Fatalf("Error while reading output: %v", err)
		}

		return output[:outputCount]
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeBytes(t *testing.T) {
	encoder, buf := createNewTestEncoder()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := encoder.Encode(payload); err != nil {
		t.Fatalf("Error while encoding: %v", err)
	}

	output := make([]byte, maxBufSize)
	outputCount, err := buf.Read(output)
	if err != nil {
		t.Fatalf("Error while reading output: %v", err)
	}

	expectedBuf := bytes.NewBuffer([]byte{})
	expected := make([]byte, maxBufSize)

	binary.Write(expectedBuf, binary.BigEndian, uint16(2+len(payload)))
	expectedBuf.Write([]byte{Bytes8Marker, byte(len(payload))})
	expectedBuf.Write(payload)
	expectedBuf.Write(EndMessage)

	expectedCount, _ := expectedBuf.Read(expected)

	if !reflect.DeepEqual(output[:outputCount], expected[:expectedCount]) {
		t.Fatalf("Unexpected byte array encoding. Expected %v. Got %v", expected[:expectedCount], output[:outputCount])
	}
}

func TestEncodeStringSlice(t *testing.T) {
	expected := func(val []string) []byte {
		expectedBuf := bytes.NewBuffer([]byte{})
		resultExpectedBuf := bytes.NewBuffer([]byte{})
		expected := make([]byte, maxBufSize)
		length := len(val)

		switch {
		case length <= 15:
			expectedBuf.Write([]byte{byte(TinySliceMarker + length)})
		case length <= math.MaxUint8:
			expectedBuf.Write([]byte{Slice8Marker})
			binary.Write(expectedBuf, binary.BigEndian, uint8(length))
		default:
			expectedBuf.Write([]byte{Slice16Marker})
			binary.Write(expectedBuf, binary.BigEndian, uint16(length))
		}

		for _, item := range val {
			b := []byte(item)

			length := len(b)

			switch {
			case length <= 15:
				expectedBuf.Write([]byte{byte(TinyStringMarker + length)})
				expectedBuf.Write(b)
			case length <= math.MaxUint8:
				expectedBuf.Write([]byte{String8Marker})
				binary.Write(expectedBuf, binary.BigEndian, uint8(length))
				expectedBuf.Write(b)
			default:
				expectedBuf.Write([]byte{String16Marker})
				binary.Write(expectedBuf, binary.BigEndian, uint16(length))
				expectedBuf.Write(b)
			}
		}

		binary.Write(resultExpectedBuf, binary.BigEndian, uint16(expectedBuf.Len()))
		resultExpectedBuf.ReadFrom(expectedBuf)
		resultExpectedBuf.Write(EndMessage)

		expectedCount, _ := resultExpectedBuf.Read(expected)

		return expected[:expectedCount]
	}

	result := func(val []string) []byte {
		encoder, buf := createNewTestEncoder()
		err := encoder.Encode(val)

		if err != nil {
			t.Fatalf("Error while encoding: %v", err)
		}

		output := make([]byte, maxBufSize)
		outputCount, err := buf.Read(output)

		if err != nil {
			t.Fatalf("Error while reading output: %v", err)
		}

		return output[:outputCount]
	}

	if err := quick.CheckEqual(expected, result, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeMap(t *testing.T) {
	encoder, buf := createNewTestEncoder()

	if err := encoder.Encode(map[string]interface{}{"n": int64(1)}); err != nil {
		t.Fatalf("Error while encoding: %v", err)
	}

	output := make([]byte, maxBufSize)
	outputCount, err := buf.Read(output)
	if err != nil {
		t.Fatalf("Error while reading output: %v", err)
	}

	expectedBuf := bytes.NewBuffer([]byte{})
	expected := make([]byte, maxBufSize)

	binary.Write(expectedBuf, binary.BigEndian, uint16(4))
	expectedBuf.Write([]byte{byte(TinyMapMarker + 1)})
	expectedBuf.Write([]byte{byte(TinyStringMarker + 1), 'n'})
	expectedBuf.Write([]byte{0x01})
	expectedBuf.Write(EndMessage)

	expectedCount, _ := expectedBuf.Read(expected)

	if !reflect.DeepEqual(output[:outputCount], expected[:expectedCount]) {
		t.Fatalf("Unexpected map encoding. Expected %v. Got %v", expected[:expectedCount], output[:outputCount])
	}
}

func TestEncodeChunksLargeMessage(t *testing.T) {
	buf := bytes.NewBuffer([]byte{})
	encoder := NewEncoder(buf, 16)

	if err := encoder.Encode(string(bytes.Repeat([]byte{'a'}, 40))); err != nil {
		t.Fatalf("Error while encoding: %v", err)
	}

	output := buf.Bytes()

	// 42 payload bytes split into chunks of 16: 16 + 16 + 10, then the
	// message terminator.
	chunkSizes := []int{}
	for len(output) > 2 {
		size := int(binary.BigEndian.Uint16(output[:2]))
		if size == 0 {
			break
		}
		chunkSizes = append(chunkSizes, size)
		output = output[2+size:]
	}

	expectedSizes := []int{16, 16, 10}
	if !reflect.DeepEqual(chunkSizes, expectedSizes) {
		t.Fatalf("Unexpected chunk layout. Expected %v. Got %v", expectedSizes, chunkSizes)
	}
	if !reflect.DeepEqual(output, EndMessage) {
		t.Fatalf("Expected message terminator at the end. Got %v", output)
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	encoder, _ := createNewTestEncoder()

	err := encoder.Encode(struct{ A int }{A: 1})
	if err == nil {
		t.Fatal("Expected an error encoding an unsupported type")
	}
	if errors.CodeOf(err) != errors.EncodingError {
		t.Fatalf("Expected an EncodingError, got: %v", err)
	}
}
