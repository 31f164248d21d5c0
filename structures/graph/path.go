package graph

const (
	// PathSignature is the signature byte for a Path structure
	PathSignature = 0x50
)

// Path represents a walk through the graph: the distinct nodes and
// relationships touched, plus the sequence describing their traversal
// order.
type Path struct {
	Nodes         []Node
	Relationships []UnboundRelationship
	Sequence      []int
}

// Signature gets the signature byte for the struct
func (p Path) Signature() int {
	return PathSignature
}

// AllFields gets the fields to encode for the struct
func (p Path) AllFields() []interface{} {
	nodes := make([]interface{}, len(p.Nodes))
	for i, node := range p.Nodes {
		nodes[i] = node
	}
	rels := make([]interface{}, len(p.Relationships))
	for i, rel := range p.Relationships {
		rels[i] = rel
	}
	seq := make([]interface{}, len(p.Sequence))
	for i, s := range p.Sequence {
		seq[i] = s
	}
	return []interface{}{nodes, rels, seq}
}
