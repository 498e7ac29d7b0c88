package area

import (
	"fmt"
	"math"
)

// Location is a fixed-point (x, y) geographic coordinate, integer lon/lat
// scaled by 10^7 (the middle.ScaleCoord convention). The zero value (0, 0)
// is an ordinary location; UndefinedLocation marks an unset one.
type Location struct {
	X, Y int32
}

// UndefinedLocation is the sentinel for a NodeRef without a resolved
// location. It lies outside the valid lon/lat range.
var UndefinedLocation = Location{X: math.MaxInt32, Y: math.MaxInt32}

// Less reports whether l sorts strictly before o in lexicographic (x, y)
// order.
func (l Location) Less(o Location) bool {
	if l.X != o.X {
		return l.X < o.X
	}
	return l.Y < o.Y
}

// NodeRef is a stable node identity plus its location. Two NodeRefs are
// equal iff their identities are equal.
type NodeRef struct {
	ID  int64
	Loc Location
}

// HasLocation reports whether the NodeRef carries a resolved location.
// A NodeRef whose Loc is UndefinedLocation has none.
func (n NodeRef) HasLocation() bool {
	return n.Loc != UndefinedLocation
}

// NodeRefSegment is an undirected edge between two NodeRefs, stored in
// canonical orientation: first has the smaller (x, y) location.
type NodeRefSegment struct {
	first, second NodeRef

	// ring is a weak back-reference to the ProtoRing currently claiming
	// this segment. nil means unclaimed.
	ring *ProtoRing

	// cw is the winding flag assigned when the segment seeds a new ring.
	cw bool

	// leftSegment is a weak back-reference to the segment immediately to
	// this segment's geometric left on the sweep, recorded only for
	// segments that seed a new ring.
	leftSegment *NodeRefSegment
}

// newSegment builds a segment in canonical orientation from two NodeRefs.
func newSegment(a, b NodeRef) *NodeRefSegment {
	if b.Loc.Less(a.Loc) {
		a, b = b, a
	}
	return &NodeRefSegment{first: a, second: b}
}

// First returns the canonical-first endpoint.
func (s *NodeRefSegment) First() NodeRef { return s.first }

// Second returns the canonical-second endpoint.
func (s *NodeRefSegment) Second() NodeRef { return s.second }

// Equal reports whether two segments share the same NodeRef identities.
// Back-references (ring, cw, leftSegment) are ignored.
func (s *NodeRefSegment) Equal(o *NodeRefSegment) bool {
	return s.first.ID == o.first.ID && s.second.ID == o.second.ID
}

// Less orders segments lexicographically by (first.x, first.y, second.x,
// second.y) of their canonical endpoints.
func (s *NodeRefSegment) Less(o *NodeRefSegment) bool {
	if s.first.Loc != o.first.Loc {
		return s.first.Loc.Less(o.first.Loc)
	}
	return s.second.Loc.Less(o.second.Loc)
}

// String renders a segment's endpoints only, avoiding recursion through
// the ring/leftSegment back-references.
func (s *NodeRefSegment) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[id=%d,%v -- id=%d,%v]", s.first.ID, s.first.Loc, s.second.ID, s.second.Loc)
}

// String renders a location as (x,y).
func (l Location) String() string {
	return fmt.Sprintf("(%d,%d)", l.X, l.Y)
}

func minMaxInt32(a, b int32) (int32, int32) {
	if a < b {
		return a, b
	}
	return b, a
}
