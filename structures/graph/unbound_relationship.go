package graph

const (
	// UnboundRelationshipSignature is the signature byte for an
	// UnboundRelationship structure
	UnboundRelationshipSignature = 0x72
)

// UnboundRelationship represents a relationship without its endpoints, as
// it appears inside a Path.
type UnboundRelationship struct {
	ID         int64
	Type       string
	Properties map[string]interface{}
}

// Signature gets the signature byte for the struct
func (r UnboundRelationship) Signature() int {
	return UnboundRelationshipSignature
}

// AllFields gets the fields to encode for the struct
func (r UnboundRelationship) AllFields() []interface{} {
	return []interface{}{r.ID, r.Type, r.Properties}
}
