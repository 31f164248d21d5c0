package encoding

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/graphshed/gobolt/errors"
	"github.com/graphshed/gobolt/structures"
	"github.com/graphshed/gobolt/structures/graph"
	"github.com/graphshed/gobolt/structures/messages"
)

// Decoder decodes one message at a time from the Bolt stream. Chunks are
// consumed as they arrive, so a message larger than the transport buffer
// never has to be available all at once.
//
// All integer widths decode to int64. Structures with a recognized
// signature hydrate into their message or graph types; unknown signatures
// decode to structures.Raw.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a new Decoder object
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Unmarshal decodes a single chunked message from data.
func Unmarshal(data []byte) (interface{}, error) {
	return NewDecoder(bytes.NewReader(data)).Decode()
}

// readMessage consumes chunks off the stream until the zero-length
// terminator and returns the reassembled message bytes.
func (d *Decoder) readMessage() ([]byte, error) {
	var output bytes.Buffer
	header := make([]byte, 2)
	for {
		if _, err := io.ReadFull(d.r, header); err != nil {
			return nil, errors.Wrap(err, "", "an error occurred reading a chunk header")
		}

		messageLen := binary.BigEndian.Uint16(header)
		if messageLen == 0 {
			if output.Len() == 0 {
				// A bare terminator is a keep-alive; skip it.
				continue
			}
			return output.Bytes(), nil
		}

		if _, err := io.CopyN(&output, d.r, int64(messageLen)); err != nil {
			return nil, errors.Wrap(err, "", "an error occurred reading a chunk body")
		}
	}
}

// Decode decodes the next message on the stream to an object.
func (d *Decoder) Decode() (interface{}, error) {
	data, err := d.readMessage()
	if err != nil {
		return nil, err
	}

	buffer := bytes.NewBuffer(data)
	val, err := d.decode(buffer)
	if err != nil {
		return nil, err
	}
	if buffer.Len() > 0 {
		return nil, errors.New(errors.ProtocolError, "%d trailing bytes after decoded message", buffer.Len())
	}
	return val, nil
}

func (d *Decoder) decode(buffer *bytes.Buffer) (interface{}, error) {
	marker, err := buffer.ReadByte()
	if err != nil {
		return nil, errors.New(errors.ProtocolError, "truncated message: no marker byte")
	}

	switch {

	// NIL
	case marker == NilMarker:
		return nil, nil

	// BOOL
	case marker == TrueMarker:
		return true, nil
	case marker == FalseMarker:
		return false, nil

	// INT
	case int8(marker) >= -16:
		// TINY_INT: the marker byte is the value
		return int64(int8(marker)), nil
	case marker == Int8Marker:
		var out int8
		if err := binary.Read(buffer, binary.BigEndian, &out); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated INT_8")
		}
		return int64(out), nil
	case marker == Int16Marker:
		var out int16
		if err := binary.Read(buffer, binary.BigEndian, &out); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated INT_16")
		}
		return int64(out), nil
	case marker == Int32Marker:
		var out int32
		if err := binary.Read(buffer, binary.BigEndian, &out); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated INT_32")
		}
		return int64(out), nil
	case marker == Int64Marker:
		var out int64
		if err := binary.Read(buffer, binary.BigEndian, &out); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated INT_64")
		}
		return out, nil

	// FLOAT
	case marker == FloatMarker:
		var out float64
		if err := binary.Read(buffer, binary.BigEndian, &out); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated FLOAT")
		}
		return out, nil

	// BYTES
	case marker == Bytes8Marker || marker == Bytes16Marker || marker == Bytes32Marker:
		size, err := d.readSize(buffer, marker, Bytes8Marker, Bytes16Marker, Bytes32Marker)
		if err != nil {
			return nil, err
		}
		return d.next(buffer, size)

	// STRING
	case marker >= TinyStringMarker && marker <= TinyStringMarker+0x0F:
		b, err := d.next(buffer, int(marker)-TinyStringMarker)
		return string(b), err
	case marker == String8Marker || marker == String16Marker || marker == String32Marker:
		size, err := d.readSize(buffer, marker, String8Marker, String16Marker, String32Marker)
		if err != nil {
			return nil, err
		}
		b, err := d.next(buffer, size)
		return string(b), err

	// SLICE
	case marker >= TinySliceMarker && marker <= TinySliceMarker+0x0F:
		return d.decodeSlice(buffer, int(marker)-TinySliceMarker)
	case marker == Slice8Marker || marker == Slice16Marker || marker == Slice32Marker:
		size, err := d.readSize(buffer, marker, Slice8Marker, Slice16Marker, Slice32Marker)
		if err != nil {
			return nil, err
		}
		return d.decodeSlice(buffer, size)

	// MAP
	case marker >= TinyMapMarker && marker <= TinyMapMarker+0x0F:
		return d.decodeMap(buffer, int(marker)-TinyMapMarker)
	case marker == Map8Marker || marker == Map16Marker || marker == Map32Marker:
		size, err := d.readSize(buffer, marker, Map8Marker, Map16Marker, Map32Marker)
		if err != nil {
			return nil, err
		}
		return d.decodeMap(buffer, size)

	// STRUCTURES
	case marker >= TinyStructMarker && marker <= TinyStructMarker+0x0F:
		return d.decodeStruct(buffer, int(marker)-TinyStructMarker)
	case marker == Struct8Marker:
		var size uint8
		if err := binary.Read(buffer, binary.BigEndian, &size); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated STRUCT_8 size")
		}
		return d.decodeStruct(buffer, int(size))
	case marker == Struct16Marker:
		var size uint16
		if err := binary.Read(buffer, binary.BigEndian, &size); err != nil {
			return nil, errors.New(errors.ProtocolError, "truncated STRUCT_16 size")
		}
		return d.decodeStruct(buffer, int(size))

	default:
		return nil, errors.New(errors.ProtocolError, "unrecognized marker byte: %x", marker)
	}
}

// readSize reads the collection size that follows an 8/16/32-bit marker.
func (d *Decoder) readSize(buffer *bytes.Buffer, marker, m8, m16, m32 byte) (int, error) {
	switch marker {
	case m8:
		var size uint8
		if err := binary.Read(buffer, binary.BigEndian, &size); err != nil {
			return 0, errors.New(errors.ProtocolError, "truncated size byte after marker %x", marker)
		}
		return int(size), nil
	case m16:
		var size uint16
		if err := binary.Read(buffer, binary.BigEndian, &size); err != nil {
			return 0, errors.New(errors.ProtocolError, "truncated size after marker %x", marker)
		}
		return int(size), nil
	default:
		var size uint32
		if err := binary.Read(buffer, binary.BigEndian, &size); err != nil {
			return 0, errors.New(errors.ProtocolError, "truncated size after marker %x", marker)
		}
		return int(size), nil
	}
}

func (d *Decoder) next(buffer *bytes.Buffer, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if buffer.Len() < size {
		return nil, errors.New(errors.ProtocolError, "truncated payload: want %d bytes, have %d", size, buffer.Len())
	}
	out := make([]byte, size)
	copy(out, buffer.Next(size))
	return out, nil
}

func (d *Decoder) decodeSlice(buffer *bytes.Buffer, size int) ([]interface{}, error) {
	slice := make([]interface{}, size)
	for i := 0; i < size; i++ {
		item, err := d.decode(buffer)
		if err != nil {
			return nil, err
		}
		slice[i] = item
	}

	return slice, nil
}

func (d *Decoder) decodeMap(buffer *bytes.Buffer, size int) (map[string]interface{}, error) {
	mapp := make(map[string]interface{}, size)
	for i := 0; i < size; i++ {
		keyInt, err := d.decode(buffer)
		if err != nil {
			return nil, err
		}
		val, err := d.decode(buffer)
		if err != nil {
			return nil, err
		}

		key, ok := keyInt.(string)
		if !ok {
			return nil, errors.New(errors.ProtocolError, "unexpected map key type: %T with value %+v", keyInt, keyInt)
		}
		mapp[key] = val
	}

	return mapp, nil
}

func (d *Decoder) decodeStruct(buffer *bytes.Buffer, size int) (interface{}, error) {
	signature, err := buffer.ReadByte()
	if err != nil {
		return nil, errors.New(errors.ProtocolError, "truncated structure: no signature byte")
	}

	fields := make([]interface{}, size)
	for i := 0; i < size; i++ {
		field, err := d.decode(buffer)
		if err != nil {
			return nil, err
		}
		fields[i] = field
	}

	return hydrateStructure(int(signature), fields)
}

// hydrateStructure maps known signatures to their domain types. Unknown
// signatures pass through as structures.Raw so that newer server types do
// not break the stream.
func hydrateStructure(signature int, fields []interface{}) (interface{}, error) {
	switch signature {
	case graph.NodeSignature:
		return hydrateNode(fields)
	case graph.RelationshipSignature:
		return hydrateRelationship(fields)
	case graph.UnboundRelationshipSignature:
		return hydrateUnboundRelationship(fields)
	case graph.PathSignature:
		return hydratePath(fields)
	case messages.RecordMessageSignature:
		values, err := sliceField(fields, 0, "record values")
		if err != nil {
			return nil, err
		}
		return messages.NewRecordMessage(values), nil
	case messages.SuccessMessageSignature:
		metadata, err := mapField(fields, 0, "success metadata")
		if err != nil {
			return nil, err
		}
		return messages.NewSuccessMessage(metadata), nil
	case messages.FailureMessageSignature:
		metadata, err := mapField(fields, 0, "failure metadata")
		if err != nil {
			return nil, err
		}
		return messages.NewFailureMessage(metadata), nil
	case messages.IgnoredMessageSignature:
		return messages.NewIgnoredMessage(), nil
	default:
		return structures.Raw{Sig: signature, Fields: fields}, nil
	}
}

func hydrateNode(fields []interface{}) (graph.Node, error) {
	if len(fields) < 3 {
		return graph.Node{}, errors.New(errors.ProtocolError, "node structure has %d fields, want 3", len(fields))
	}
	id, err := intField(fields, 0, "node identity")
	if err != nil {
		return graph.Node{}, err
	}
	labelsInt, err := sliceField(fields, 1, "node labels")
	if err != nil {
		return graph.Node{}, err
	}
	labels, err := sliceInterfaceToString(labelsInt)
	if err != nil {
		return graph.Node{}, err
	}
	properties, err := mapField(fields, 2, "node properties")
	if err != nil {
		return graph.Node{}, err
	}
	return graph.Node{ID: id, Labels: labels, Properties: properties}, nil
}

func hydrateRelationship(fields []interface{}) (graph.Relationship, error) {
	if len(fields) < 5 {
		return graph.Relationship{}, errors.New(errors.ProtocolError, "relationship structure has %d fields, want 5", len(fields))
	}
	id, err := intField(fields, 0, "relationship identity")
	if err != nil {
		return graph.Relationship{}, err
	}
	startID, err := intField(fields, 1, "relationship start node")
	if err != nil {
		return graph.Relationship{}, err
	}
	endID, err := intField(fields, 2, "relationship end node")
	if err != nil {
		return graph.Relationship{}, err
	}
	relType, err := stringField(fields, 3, "relationship type")
	if err != nil {
		return graph.Relationship{}, err
	}
	properties, err := mapField(fields, 4, "relationship properties")
	if err != nil {
		return graph.Relationship{}, err
	}
	return graph.Relationship{
		ID:          id,
		StartNodeID: startID,
		EndNodeID:   endID,
		Type:        relType,
		Properties:  properties,
	}, nil
}

func hydrateUnboundRelationship(fields []interface{}) (graph.UnboundRelationship, error) {
	if len(fields) < 3 {
		return graph.UnboundRelationship{}, errors.New(errors.ProtocolError, "unbound relationship structure has %d fields, want 3", len(fields))
	}
	id, err := intField(fields, 0, "relationship identity")
	if err != nil {
		return graph.UnboundRelationship{}, err
	}
	relType, err := stringField(fields, 1, "relationship type")
	if err != nil {
		return graph.UnboundRelationship{}, err
	}
	properties, err := mapField(fields, 2, "relationship properties")
	if err != nil {
		return graph.UnboundRelationship{}, err
	}
	return graph.UnboundRelationship{ID: id, Type: relType, Properties: properties}, nil
}

func hydratePath(fields []interface{}) (graph.Path, error) {
	if len(fields) < 3 {
		return graph.Path{}, errors.New(errors.ProtocolError, "path structure has %d fields, want 3", len(fields))
	}
	nodesInt, err := sliceField(fields, 0, "path nodes")
	if err != nil {
		return graph.Path{}, err
	}
	nodes := make([]graph.Node, len(nodesInt))
	for i, n := range nodesInt {
		node, ok := n.(graph.Node)
		if !ok {
			return graph.Path{}, errors.New(errors.ProtocolError, "expected node in path, got %T", n)
		}
		nodes[i] = node
	}

	relsInt, err := sliceField(fields, 1, "path relationships")
	if err != nil {
		return graph.Path{}, err
	}
	rels := make([]graph.UnboundRelationship, len(relsInt))
	for i, r := range relsInt {
		rel, ok := r.(graph.UnboundRelationship)
		if !ok {
			return graph.Path{}, errors.New(errors.ProtocolError, "expected unbound relationship in path, got %T", r)
		}
		rels[i] = rel
	}

	seqInt, err := sliceField(fields, 2, "path sequence")
	if err != nil {
		return graph.Path{}, err
	}
	seq := make([]int, len(seqInt))
	for i, s := range seqInt {
		n, ok := s.(int64)
		if !ok {
			return graph.Path{}, errors.New(errors.ProtocolError, "expected int in path sequence, got %T", s)
		}
		seq[i] = int(n)
	}

	return graph.Path{Nodes: nodes, Relationships: rels, Sequence: seq}, nil
}

func intField(fields []interface{}, i int, what string) (int64, error) {
	out, ok := fields[i].(int64)
	if !ok {
		return 0, errors.New(errors.ProtocolError, "expected %s to be an int, got %T %+v", what, fields[i], fields[i])
	}
	return out, nil
}

func stringField(fields []interface{}, i int, what string) (string, error) {
	out, ok := fields[i].(string)
	if !ok {
		return "", errors.New(errors.ProtocolError, "expected %s to be a string, got %T %+v", what, fields[i], fields[i])
	}
	return out, nil
}

func sliceField(fields []interface{}, i int, what string) ([]interface{}, error) {
	out, ok := fields[i].([]interface{})
	if !ok {
		return nil, errors.New(errors.ProtocolError, "expected %s to be a list, got %T %+v", what, fields[i], fields[i])
	}
	return out, nil
}

func mapField(fields []interface{}, i int, what string) (map[string]interface{}, error) {
	out, ok := fields[i].(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ProtocolError, "expected %s to be a map, got %T %+v", what, fields[i], fields[i])
	}
	return out, nil
}

func sliceInterfaceToString(s []interface{}) ([]string, error) {
	out := make([]string, len(s))
	for i, item := range s {
		str, ok := item.(string)
		if !ok {
			return nil, errors.New(errors.ProtocolError, "expected string in list, got %T %+v", item, item)
		}
		out[i] = str
	}
	return out, nil
}
