package graph

const (
	// RelationshipSignature is the signature byte for a Relationship structure
	RelationshipSignature = 0x52
)

// Relationship represents a directed relationship between two nodes.
type Relationship struct {
	ID          int64
	StartNodeID int64
	EndNodeID   int64
	Type        string
	Properties  map[string]interface{}
}

// Signature gets the signature byte for the struct
func (r Relationship) Signature() int {
	return RelationshipSignature
}

// AllFields gets the fields to encode for the struct
func (r Relationship) AllFields() []interface{} {
	return []interface{}{r.ID, r.StartNodeID, r.EndNodeID, r.Type, r.Properties}
}
