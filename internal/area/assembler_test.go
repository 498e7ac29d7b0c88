package area

import (
	"reflect"
	"testing"
)

// nr builds a NodeRef from an id and integer (x, y) location.
func nr(id int64, x, y int32) NodeRef {
	return NodeRef{ID: id, Loc: Location{X: x, Y: y}}
}

func ringLocs(nodes []NodeRef) []Location {
	locs := make([]Location, len(nodes))
	for i, n := range nodes {
		locs[i] = n.Loc
	}
	return locs
}

// Scenario 1: single square.
func TestAssembleSingleSquare(t *testing.T) {
	a := NewAssembler()
	a.RememberProblems(true)

	way := Way{ID: 1, Nodes: []NodeRef{
		nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10), nr(4, 0, 10), nr(1, 0, 0),
	}}

	result := a.Assemble(Relation{ID: 100}, []Way{way})

	if len(result.Outer) != 1 {
		t.Fatalf("expected 1 outer ring, got %d", len(result.Outer))
	}
	outer := result.Outer[0]
	if len(outer.Inner) != 0 {
		t.Fatalf("expected no inner rings, got %d", len(outer.Inner))
	}
	want := []Location{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	if got := ringLocs(outer.Nodes); !reflect.DeepEqual(got, want) {
		t.Errorf("ring = %v, want %v", got, want)
	}
	if len(a.Problems()) != 0 {
		t.Errorf("expected no problems, got %v", a.Problems())
	}
	if result.ID != 201 {
		t.Errorf("area id = %d, want 201 (relation.id*2+1)", result.ID)
	}
}

// Scenario 2: square with a square hole.
func TestAssembleSquareWithHole(t *testing.T) {
	a := NewAssembler()

	outerWay := Way{ID: 1, Nodes: []NodeRef{
		nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10), nr(4, 0, 10), nr(1, 0, 0),
	}}
	innerWay := Way{ID: 2, Nodes: []NodeRef{
		nr(5, 2, 2), nr(6, 2, 8), nr(7, 8, 8), nr(8, 8, 2), nr(5, 2, 2),
	}}

	result := a.Assemble(Relation{ID: 200}, []Way{outerWay, innerWay})

	if len(result.Outer) != 1 {
		t.Fatalf("expected 1 outer ring, got %d", len(result.Outer))
	}
	outer := result.Outer[0]
	if len(outer.Inner) != 1 {
		t.Fatalf("expected 1 inner ring, got %d", len(outer.Inner))
	}
}

// Scenario 3: split outer — same square as two ways, in arbitrary order.
func TestAssembleSplitOuter(t *testing.T) {
	way1 := Way{ID: 1, Nodes: []NodeRef{nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10)}}
	way2 := Way{ID: 2, Nodes: []NodeRef{nr(3, 10, 10), nr(4, 0, 10), nr(1, 0, 0)}}

	for _, order := range [][]Way{{way1, way2}, {way2, way1}} {
		a := NewAssembler()
		result := a.Assemble(Relation{ID: 1}, order)

		if len(result.Outer) != 1 {
			t.Fatalf("expected 1 outer ring, got %d", len(result.Outer))
		}
		want := []Location{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
		got := ringLocs(result.Outer[0].Nodes)
		if !sameCycle(got, want) {
			t.Errorf("ring = %v, want a rotation/reversal of %v", got, want)
		}
	}
}

// Scenario 4: shared-edge cancellation between two adjacent squares.
func TestAssembleSharedEdgeCancellation(t *testing.T) {
	a := NewAssembler()

	// Square A: (0,0)-(10,0)-(10,10)-(0,10), square B: (10,0)-(20,0)-(20,10)-(10,10).
	// The shared edge (10,0)-(10,10) is traversed once by each square in
	// opposite directions, so dedup removes it and the union remains.
	wayA := Way{ID: 1, Nodes: []NodeRef{
		nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10), nr(4, 0, 10), nr(1, 0, 0),
	}}
	wayB := Way{ID: 2, Nodes: []NodeRef{
		nr(3, 10, 10), nr(2, 10, 0), nr(5, 20, 0), nr(6, 20, 10), nr(3, 10, 10),
	}}

	result := a.Assemble(Relation{ID: 1}, []Way{wayA, wayB})

	if len(result.Outer) != 1 {
		t.Fatalf("expected 1 outer ring (union), got %d", len(result.Outer))
	}
	if len(result.Outer[0].Nodes) != 7 {
		t.Errorf("expected a 6-sided union ring (7 nodes incl. closing dup), got %d nodes: %v",
			len(result.Outer[0].Nodes), ringLocs(result.Outer[0].Nodes))
	}
}

// Scenario 5: self-intersecting bowtie.
func TestAssembleSelfIntersectingBowtie(t *testing.T) {
	a := NewAssembler()
	a.RememberProblems(true)

	way := Way{ID: 1, Nodes: []NodeRef{
		nr(1, 0, 0), nr(2, 10, 10), nr(3, 10, 0), nr(4, 0, 10), nr(1, 0, 0),
	}}

	result := a.Assemble(Relation{ID: 1}, []Way{way})

	if len(result.Outer) != 0 {
		t.Fatalf("expected empty area, got %d outer rings", len(result.Outer))
	}
	problems := a.Problems()
	if len(problems) != 1 {
		t.Fatalf("expected exactly 1 problem, got %d: %v", len(problems), problems)
	}
	if problems[0].Type != ProblemIntersection {
		t.Errorf("expected an intersection problem, got %v", problems[0].Type)
	}
}

// Scenario 6: unclosed ring.
func TestAssembleUnclosedRing(t *testing.T) {
	a := NewAssembler()
	a.RememberProblems(true)

	way := Way{ID: 1, Nodes: []NodeRef{nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10)}}

	result := a.Assemble(Relation{ID: 1}, []Way{way})

	if len(result.Outer) != 0 {
		t.Fatalf("expected empty area, got %d outer rings", len(result.Outer))
	}
	problems := a.Problems()
	if len(problems) != 2 {
		t.Fatalf("expected exactly 2 ring_not_closed problems, got %d: %v", len(problems), problems)
	}
	for _, p := range problems {
		if p.Type != ProblemRingNotClosed {
			t.Errorf("expected ring_not_closed, got %v", p.Type)
		}
	}
	locs := map[Location]bool{problems[0].NodeRef.Loc: true, problems[1].NodeRef.Loc: true}
	if !locs[Location{0, 0}] || !locs[Location{10, 10}] {
		t.Errorf("expected problems at the two open endpoints, got %v", problems)
	}
}

// Reversal invariance: reversing a way's node order must not change the
// emitted area, since segments are undirected.
func TestReversalInvariance(t *testing.T) {
	forward := Way{ID: 1, Nodes: []NodeRef{
		nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10), nr(4, 0, 10), nr(1, 0, 0),
	}}
	reversed := Way{ID: 1, Nodes: reverseNodes(forward.Nodes)}

	a1 := NewAssembler()
	r1 := a1.Assemble(Relation{ID: 1}, []Way{forward})

	a2 := NewAssembler()
	r2 := a2.Assemble(Relation{ID: 1}, []Way{reversed})

	if len(r1.Outer) != 1 || len(r2.Outer) != 1 {
		t.Fatalf("expected both to produce 1 outer ring, got %d and %d", len(r1.Outer), len(r2.Outer))
	}
	if !sameCycle(ringLocs(r1.Outer[0].Nodes), ringLocs(r2.Outer[0].Nodes)) {
		t.Errorf("reversal changed the emitted ring: %v vs %v", ringLocs(r1.Outer[0].Nodes), ringLocs(r2.Outer[0].Nodes))
	}
}

// Odd/even cancellation: duplicating every segment an even number of times
// yields an empty result, an odd number yields the single-copy result.
func TestOddEvenCancellation(t *testing.T) {
	way := Way{ID: 1, Nodes: []NodeRef{
		nr(1, 0, 0), nr(2, 10, 0), nr(3, 10, 10), nr(4, 0, 10), nr(1, 0, 0),
	}}

	even := NewAssembler()
	r := even.Assemble(Relation{ID: 1}, []Way{way, way})
	if len(r.Outer) != 0 {
		t.Errorf("expected empty result after an even number of duplicates, got %d outer rings", len(r.Outer))
	}

	odd := NewAssembler()
	r = odd.Assemble(Relation{ID: 1}, []Way{way, way, way})
	if len(r.Outer) != 1 {
		t.Fatalf("expected the single-copy result after an odd number of duplicates, got %d outer rings", len(r.Outer))
	}
}

func reverseNodes(nodes []NodeRef) []NodeRef {
	out := make([]NodeRef, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}

// sameCycle reports whether b is a rotation or reversal of a, both
// representing the same closed ring (with duplicated closing point).
func sameCycle(a, b []Location) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	trim := func(s []Location) []Location { return s[:len(s)-1] }
	ta, tb := trim(a), trim(b)
	n := len(ta)
	if n == 0 {
		return true
	}
	for _, cand := range [][]Location{tb, reverseLocs(tb)} {
		for offset := 0; offset < n; offset++ {
			match := true
			for i := 0; i < n; i++ {
				if ta[i] != cand[(i+offset)%n] {
					match = false
					break
				}
			}
			if match {
				return true
			}
		}
	}
	return false
}

func reverseLocs(s []Location) []Location {
	out := make([]Location, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
