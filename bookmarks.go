package bolt

import "sort"

// Bookmarks is a set of causal consistency tokens harvested from
// committed transactions. Passing a set to a unit of work makes the
// server wait until every bookmark in it is visible. The zero value is
// not usable; call NewBookmarks.
type Bookmarks map[string]struct{}

func NewBookmarks(tokens ...string) Bookmarks {
	b := make(Bookmarks, len(tokens))
	for _, t := range tokens {
		b.Add(t)
	}
	return b
}

// Add records one bookmark. Empty tokens are dropped.
func (b Bookmarks) Add(token string) {
	if token == "" {
		return
	}
	b[token] = struct{}{}
}

// Merge folds another set into this one.
func (b Bookmarks) Merge(other Bookmarks) {
	for t := range other {
		b[t] = struct{}{}
	}
}

// List returns the bookmarks in a stable order, ready for the wire.
func (b Bookmarks) List() []string {
	out := make([]string, 0, len(b))
	for t := range b {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (b Bookmarks) Len() int {
	return len(b)
}
