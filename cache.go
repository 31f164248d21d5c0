package bolt

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/graphshed/gobolt/structures/graph"
)

// entityCache keeps recently seen nodes and relationships, keyed by
// their server-assigned identity. Records flow through observeAll as
// they arrive off the wire, so a lookup by id never costs a round trip
// for an entity a recent statement already returned.
type entityCache struct {
	nodes *lru.Cache[int64, graph.Node]
	rels  *lru.Cache[int64, graph.Relationship]
}

func newEntityCache(size int) (*entityCache, error) {
	if size <= 0 {
		size = DefaultEntityCacheSize
	}
	nodes, err := lru.New[int64, graph.Node](size)
	if err != nil {
		return nil, err
	}
	rels, err := lru.New[int64, graph.Relationship](size)
	if err != nil {
		return nil, err
	}
	return &entityCache{nodes: nodes, rels: rels}, nil
}

// observeAll walks one record's fields and caches every graph entity it
// finds, descending into paths, lists and maps.
func (ec *entityCache) observeAll(fields []interface{}) {
	for _, f := range fields {
		ec.observe(f)
	}
}

func (ec *entityCache) observe(v interface{}) {
	switch e := v.(type) {
	case graph.Node:
		ec.nodes.Add(e.ID, e)
	case graph.Relationship:
		ec.rels.Add(e.ID, e)
	case graph.Path:
		for _, n := range e.Nodes {
			ec.nodes.Add(n.ID, n)
		}
	case []interface{}:
		ec.observeAll(e)
	case map[string]interface{}:
		for _, mv := range e {
			ec.observe(mv)
		}
	}
}

// node returns a cached node by identity.
func (ec *entityCache) node(id int64) (graph.Node, bool) {
	return ec.nodes.Get(id)
}

// relationship returns a cached relationship by identity.
func (ec *entityCache) relationship(id int64) (graph.Relationship, bool) {
	return ec.rels.Get(id)
}

// purge drops every cached entity.
func (ec *entityCache) purge() {
	ec.nodes.Purge()
	ec.rels.Purge()
}
