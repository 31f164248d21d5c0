package bolt

// Result wraps the summary metadata of a completed statement, exposing
// the server's update counters.
type Result struct {
	metadata map[string]interface{}
}

// newResult wraps the given summary metadata. A nil map yields a usable
// zero-count result.
func newResult(metadata map[string]interface{}) Result {
	return Result{metadata: metadata}
}

// Metadata returns the raw summary metadata map.
func (r Result) Metadata() map[string]interface{} {
	return r.metadata
}

// Bookmark returns the bookmark attached to the summary, if any.
func (r Result) Bookmark() string {
	bookmark, _ := r.metadata["bookmark"].(string)
	return bookmark
}

// Type returns the statement type reported by the server ("r", "w",
// "rw" or "s").
func (r Result) Type() string {
	t, _ := r.metadata["type"].(string)
	return t
}

// stat digs one counter out of the summary's stats map.
func (r Result) stat(name string) int64 {
	stats, ok := r.metadata["stats"].(map[string]interface{})
	if !ok {
		return 0
	}
	n, _ := stats[name].(int64)
	return n
}

// NodesCreated returns the number of nodes created by the statement.
func (r Result) NodesCreated() int64 { return r.stat("nodes-created") }

// NodesDeleted returns the number of nodes deleted by the statement.
func (r Result) NodesDeleted() int64 { return r.stat("nodes-deleted") }

// RelationshipsCreated returns the number of relationships created by
// the statement.
func (r Result) RelationshipsCreated() int64 { return r.stat("relationships-created") }

// RelationshipsDeleted returns the number of relationships deleted by
// the statement.
func (r Result) RelationshipsDeleted() int64 { return r.stat("relationships-deleted") }

// PropertiesSet returns the number of properties set by the statement.
func (r Result) PropertiesSet() int64 { return r.stat("properties-set") }

// LabelsAdded returns the number of labels added by the statement.
func (r Result) LabelsAdded() int64 { return r.stat("labels-added") }

// ContainsUpdates reports whether the statement changed anything.
func (r Result) ContainsUpdates() bool {
	stats, ok := r.metadata["stats"].(map[string]interface{})
	if !ok {
		return false
	}
	for _, v := range stats {
		if n, ok := v.(int64); ok && n > 0 {
			return true
		}
	}
	return false
}
