// Package knowledge holds the running set of control-flow edges this driver
// and its peers have observed.
package knowledge

// Edge is a reduced, post-snap control-flow transition: both endpoints are
// either a basic block's From address or an unsnapped raw address.
type Edge struct {
	From uint64
	To   uint64
}

// Base maps Edge to hit count. It is not safe for concurrent use; the driver
// loop is its sole mutator by construction (see the concurrency model).
type Base struct {
	hits map[Edge]uint64
}

// New returns an empty knowledge base.
func New() *Base {
	return &Base{hits: make(map[Edge]uint64)}
}

// Absorb increments the hit count of every edge, inserting unseen ones at 1,
// and returns how many were newly inserted.
func (b *Base) Absorb(edges []Edge) int {
	newCount := 0
	for _, e := range edges {
		if _, ok := b.hits[e]; !ok {
			newCount++
		}
		b.hits[e]++
	}
	return newCount
}

// Contains reports whether edge has ever been absorbed.
func (b *Base) Contains(e Edge) bool {
	_, ok := b.hits[e]
	return ok
}

// Size returns the number of distinct edges absorbed so far.
func (b *Base) Size() int {
	return len(b.hits)
}

// TotalHits returns the sum of all hit counts.
func (b *Base) TotalHits() uint64 {
	var total uint64
	for _, c := range b.hits {
		total += c
	}
	return total
}

// Diff returns the number of edges in candidates that are not already in b.
// This is the "metric-rep" novelty metric: how much a peer's coverage would
// add if merged.
func (b *Base) Diff(candidates []Edge) int {
	novel := 0
	for _, e := range candidates {
		if !b.Contains(e) {
			novel++
		}
	}
	return novel
}
