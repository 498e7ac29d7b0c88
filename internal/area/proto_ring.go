package area

import "fmt"

// ProtoRing is a mutable, possibly-open chain of NodeRefs under
// construction. Adjacent NodeRefs never share a location; when closed, no
// interior NodeRef location repeats.
type ProtoRing struct {
	nodes []NodeRef
	inner []*ProtoRing

	// seed is the segment that created this ring; its leftSegment chain
	// is how the nesting resolver finds this ring's enclosing outer.
	seed *NodeRefSegment

	// cw is the winding of this ring's seed segment, fixed at creation.
	cw bool
}

func newProtoRing(seed *NodeRefSegment) *ProtoRing {
	return &ProtoRing{
		nodes: []NodeRef{seed.first, seed.second},
		seed:  seed,
		cw:    seed.cw,
	}
}

// First returns the ring's first NodeRef.
func (r *ProtoRing) First() NodeRef { return r.nodes[0] }

// Last returns the ring's last NodeRef.
func (r *ProtoRing) Last() NodeRef { return r.nodes[len(r.nodes)-1] }

// Nodes returns the ring's NodeRef sequence.
func (r *ProtoRing) Nodes() []NodeRef { return r.nodes }

// Inner returns the rings attached to this ring as holes.
func (r *ProtoRing) Inner() []*ProtoRing { return r.inner }

// AddInner attaches an inner ring (hole) to this ring.
func (r *ProtoRing) AddInner(inner *ProtoRing) {
	r.inner = append(r.inner, inner)
}

// Closed reports whether the ring's first and last locations coincide and
// it has at least three distinct points.
func (r *ProtoRing) Closed() bool {
	return len(r.nodes) >= 4 && r.nodes[0].Loc == r.nodes[len(r.nodes)-1].Loc
}

// AddEnd appends a NodeRef to the end of the ring.
func (r *ProtoRing) AddEnd(nr NodeRef) {
	r.nodes = append(r.nodes, nr)
}

// AddStart prepends a NodeRef to the start of the ring.
func (r *ProtoRing) AddStart(nr NodeRef) {
	merged := make([]NodeRef, 0, len(r.nodes)+1)
	merged = append(merged, nr)
	merged = append(merged, r.nodes...)
	r.nodes = merged
}

// Reverse reverses the ring's NodeRef sequence in place.
func (r *ProtoRing) Reverse() {
	for i, j := 0, len(r.nodes)-1; i < j; i, j = i+1, j-1 {
		r.nodes[i], r.nodes[j] = r.nodes[j], r.nodes[i]
	}
}

// MergeEnd appends other's nodes to the end of r, dropping the duplicate
// shared endpoint. If reversed, other is reversed first so its first node
// is the one matching r's last.
func (r *ProtoRing) MergeEnd(other *ProtoRing, reversed bool) {
	if reversed {
		other.Reverse()
	}
	r.nodes = append(r.nodes, other.nodes[1:]...)
}

// MergeStart prepends other's nodes to the start of r, dropping the
// duplicate shared endpoint. If reversed, other is reversed first so its
// last node is the one matching r's first.
func (r *ProtoRing) MergeStart(other *ProtoRing, reversed bool) {
	if reversed {
		other.Reverse()
	}
	merged := make([]NodeRef, 0, len(other.nodes)+len(r.nodes)-1)
	merged = append(merged, other.nodes[:len(other.nodes)-1]...)
	merged = append(merged, r.nodes...)
	r.nodes = merged
}

// splitTailAsNewRing splits off nodes[at:] (from the self-touch match
// through the current last node, inclusive) as a new closed ring, and
// truncates r to end at the match.
func (r *ProtoRing) splitTailAsNewRing(at int) *ProtoRing {
	tail := make([]NodeRef, len(r.nodes)-at)
	copy(tail, r.nodes[at:])
	newRing := &ProtoRing{nodes: tail, seed: r.seed, cw: r.cw}
	r.nodes = r.nodes[:at+1]
	return newRing
}

// String renders the ring's node locations only, avoiding recursion
// through the seed segment's back-references.
func (r *ProtoRing) String() string {
	if r == nil {
		return "<nil>"
	}
	locs := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		locs[i] = n.Loc.String()
	}
	return fmt.Sprintf("%v", locs)
}

// splitHeadAsNewRing splits off nodes[:at+1] (from the start through the
// self-touch match, inclusive) as a new closed ring, and truncates r to
// start at the match.
func (r *ProtoRing) splitHeadAsNewRing(at int) *ProtoRing {
	head := make([]NodeRef, at+1)
	copy(head, r.nodes[:at+1])
	newRing := &ProtoRing{nodes: head, seed: r.seed, cw: r.cw}
	r.nodes = r.nodes[at:]
	return newRing
}
